package detections

const (
	DefaultInputSize     = 640
	DefaultNumClasses    = 1
	DefaultConfThreshold = 0.5
	DefaultIoUThreshold  = 0.45
	DefaultInterval      = 10

	// AnyClass disables class filtering.
	AnyClass = -1
)

// YOLO heads sample the input at these strides.
var anchorStrides = []int{8, 16, 32}

// NumAnchors is the prediction count of a YOLO head for a square input,
// 8400 at 640 and 1344 at 256.
func NumAnchors(inputSize int) int {
	n := 0
	for _, s := range anchorStrides {
		n += (inputSize / s) * (inputSize / s)
	}
	return n
}
