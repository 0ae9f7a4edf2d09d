package headless

import (
	"log/slog"

	"github.com/anchorcast/anchorcast/pkg/core"
)

// Notifier writes user notices to the log.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) Detected(obs core.MarkerObservation) {
	n.logger.Info("marker detected", "marker", obs.Identity, "index", obs.ConfigIndex)
}

func (n *Notifier) SetupFailed(err error) {
	n.logger.Error("marker database could not be prepared", "error", err)
}

func (n *Notifier) ShowScanHint(show bool) {
	if show {
		n.logger.Info("fit a marker in the camera view to scan")
		return
	}
	n.logger.Debug("scan hint hidden")
}
