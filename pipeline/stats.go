package pipeline

import (
	"time"

	"go.uber.org/atomic"
)

// Stats are written by the loop and read by the monitoring server.
type Stats struct {
	Frames          atomic.Uint64
	DetectorRuns    atomic.Uint64
	Captures        atomic.Uint64
	DegradedCapture atomic.Uint64
	Previews        atomic.Uint64
	LastFrameNanos  atomic.Int64
	LastLoopNanos   atomic.Int64
	Running         atomic.Bool
}

// StatsSnapshot is the JSON view of Stats.
type StatsSnapshot struct {
	Frames           uint64    `json:"frames"`
	DetectorRuns     uint64    `json:"detector_runs"`
	Captures         uint64    `json:"captures"`
	DegradedCaptures uint64    `json:"degraded_captures"`
	Previews         uint64    `json:"previews"`
	LastFrameAt      time.Time `json:"last_frame_at"`
	LastLoop         string    `json:"last_loop"`
	Running          bool      `json:"running"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Frames:           s.Frames.Load(),
		DetectorRuns:     s.DetectorRuns.Load(),
		Captures:         s.Captures.Load(),
		DegradedCaptures: s.DegradedCapture.Load(),
		Previews:         s.Previews.Load(),
		LastLoop:         time.Duration(s.LastLoopNanos.Load()).String(),
		Running:          s.Running.Load(),
	}
	if ns := s.LastFrameNanos.Load(); ns > 0 {
		snap.LastFrameAt = time.Unix(0, ns).UTC()
	}
	return snap
}
