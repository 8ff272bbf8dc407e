package detections

import (
	"fmt"
	"math"
	"sort"

	"github.com/Tutortoise/depth-capture-service/models"
)

// DecodeOptions describes the layout of a YOLO output tensor and how its
// coordinates map back onto the source image.
type DecodeOptions struct {
	InputSize      int
	NumClasses     int
	ConfThreshold  float64
	TargetClass    int
	OriginalWidth  int
	OriginalHeight int
}

// DecodeYOLO reads a [1, 4+classes, anchors] tensor. Each anchor holds
// cx, cy, w, h in input pixels followed by one score per class.
func DecodeYOLO(predictions []float32, opts DecodeOptions) ([]models.Detection, error) {
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid class count %d", opts.NumClasses)
	}
	rows := 4 + opts.NumClasses
	if len(predictions) == 0 || len(predictions)%rows != 0 {
		return nil, fmt.Errorf("unexpected predictions length: got %d, not a multiple of %d", len(predictions), rows)
	}
	anchors := len(predictions) / rows
	if want := NumAnchors(opts.InputSize); anchors != want {
		return nil, fmt.Errorf("unexpected predictions length: got %d anchors, want %d", anchors, want)
	}

	detections := make([]models.Detection, 0, 16)
	for i := 0; i < anchors; i++ {
		class, score := bestClass(predictions, i, anchors, opts)
		if score < opts.ConfThreshold || class < 0 {
			continue
		}
		box := calculateBBox(
			[4]float32{
				predictions[i],
				predictions[anchors+i],
				predictions[2*anchors+i],
				predictions[3*anchors+i],
			},
			opts,
		)
		box.Score = score
		if box.Empty() {
			continue
		}
		detections = append(detections, models.Detection{Box: box, Class: class})
	}

	sortDetectionsByConfidence(detections)
	return detections, nil
}

func bestClass(predictions []float32, i, anchors int, opts DecodeOptions) (int, float64) {
	if opts.TargetClass >= 0 {
		if opts.TargetClass >= opts.NumClasses {
			return -1, 0
		}
		return opts.TargetClass, float64(predictions[(4+opts.TargetClass)*anchors+i])
	}
	best, score := -1, math.Inf(-1)
	for c := 0; c < opts.NumClasses; c++ {
		if s := float64(predictions[(4+c)*anchors+i]); s > score {
			best, score = c, s
		}
	}
	return best, score
}

func calculateBBox(coords [4]float32, opts DecodeOptions) models.BoundingBox {
	scaleX := float64(opts.OriginalWidth) / float64(opts.InputSize)
	scaleY := float64(opts.OriginalHeight) / float64(opts.InputSize)

	centerX, centerY := float64(coords[0]), float64(coords[1])
	width, height := float64(coords[2]), float64(coords[3])

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return models.BoundingBox{
		X1: clampInt(int(math.Round(x1)), 0, opts.OriginalWidth-1),
		Y1: clampInt(int(math.Round(y1)), 0, opts.OriginalHeight-1),
		X2: clampInt(int(math.Round(x2)), 0, opts.OriginalWidth-1),
		Y2: clampInt(int(math.Round(y2)), 0, opts.OriginalHeight-1),
	}
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Box.Score > detections[j].Box.Score
	})
}

// NonMaxSuppression keeps the highest scoring box of every overlapping
// group. Input must be sorted by descending score.
func NonMaxSuppression(detections []models.Detection, iouThreshold float64) []models.Detection {
	kept := make([]models.Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if suppressed[j] || detections[j].Class != detections[i].Class {
				continue
			}
			if detections[i].Box.IOU(detections[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// Best collapses a detection list to its highest scoring box, or nil.
func Best(detections []models.Detection) *models.BoundingBox {
	if len(detections) == 0 {
		return nil
	}
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Box.Score > best.Box.Score {
			best = d
		}
	}
	box := best.Box
	return &box
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
