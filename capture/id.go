package capture

import "github.com/google/uuid"

func newCaptureID() string {
	return uuid.NewString()
}
