// Package command reads controller commands and holds the pending capture
// request they arm.
package command

import (
	"sync"
	"time"
)

// CaptureRequest is one armed capture. Seq increases with every Arm so a
// consumer can tell requests apart.
type CaptureRequest struct {
	SubjectID   string
	Mode        string
	RequestedAt time.Time
	Seq         uint64
}

// RequestState is the only state shared between the command listener and
// the frame loop. The flag and its fields live behind one lock so they are
// always observed together; a newer Arm replaces an unconsumed request.
type RequestState struct {
	mu      sync.Mutex
	pending *CaptureRequest
	seq     uint64
	dropped uint64
}

func NewRequestState() *RequestState {
	return &RequestState{}
}

// Arm replaces the pending request and reports whether an unconsumed one
// was overwritten.
func (s *RequestState) Arm(subjectID, mode string) (CaptureRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	req := CaptureRequest{
		SubjectID:   subjectID,
		Mode:        mode,
		RequestedAt: time.Now(),
		Seq:         s.seq,
	}
	replaced := s.pending != nil
	if replaced {
		s.dropped++
	}
	s.pending = &req
	return req, replaced
}

// Take returns the pending request and disarms it in one step.
func (s *RequestState) Take() (CaptureRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return CaptureRequest{}, false
	}
	req := *s.pending
	s.pending = nil
	return req, true
}

// Peek returns the pending request without disarming it.
func (s *RequestState) Peek() (CaptureRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return CaptureRequest{}, false
	}
	return *s.pending, true
}

func (s *RequestState) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Overwritten counts requests replaced before the loop consumed them.
func (s *RequestState) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
