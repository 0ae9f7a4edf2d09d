package tracking

import "github.com/anchorcast/anchorcast/pkg/core"

// FrameSource is the camera/tracking subsystem.
type FrameSource interface {
	// CurrentFrame returns the batch of markers updated since the last call,
	// or nil when no new frame is available.
	CurrentFrame() *core.Frame
}

// Notifier surfaces advisory notices to the user.
type Notifier interface {
	Detected(obs core.MarkerObservation)
	SetupFailed(err error)
	ShowScanHint(show bool)
}

// Catalog is the marker table the dispatcher resolves config indices against.
type Catalog interface {
	Lookup(index int) (core.MarkerConfig, error)
	VideoPlane() string
}

// SurfaceFunc creates the render surface a media session draws into.
type SurfaceFunc func(id core.Identity, cfg core.MarkerConfig) any

type nopNotifier struct{}

func (nopNotifier) Detected(core.MarkerObservation) {}
func (nopNotifier) SetupFailed(error)               {}
func (nopNotifier) ShowScanHint(bool)               {}
