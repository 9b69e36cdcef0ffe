package drill

import "context"

//go:generate mockgen -destination=mocks/mock_camera.go -package=mocks github.com/pcbdrill/pcb-drill/internal/drill Camera

// Settings are applied to the camera every time it is (re)initialized.
type Settings struct {
	AWBMode  string
	Contrast int
	Artist   string
}

// DefaultSettings matches the lighting under the drill bed.
var DefaultSettings = Settings{
	AWBMode:  "fluorescent",
	Contrast: 40,
	Artist:   "pcb-drilld",
}

// Camera is the capture device owned by the worker.
type Camera interface {
	Open(ctx context.Context) error
	Configure(s Settings) error
	// Capture writes a width x height still to path.
	Capture(ctx context.Context, path string, width, height int) error
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	Close() error
}
