// pkg/core/marker.go
package core

import (
	"fmt"
	"time"
)

// Identity is the stable handle of a physical marker across frames.
type Identity string

// TrackingState is the lifecycle status of a marker's pose estimate.
type TrackingState int

const (
	// Paused means detected but not yet localized.
	Paused TrackingState = iota + 1
	// Tracking means actively localized.
	Tracking
	// Stopped means lost.
	Stopped
)

func (s TrackingState) String() string {
	switch s {
	case Paused:
		return "paused"
	case Tracking:
		return "tracking"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParseTrackingState converts the textual form used in traces.
func ParseTrackingState(s string) (TrackingState, bool) {
	switch s {
	case "paused", "PAUSED":
		return Paused, true
	case "tracking", "TRACKING":
		return Tracking, true
	case "stopped", "STOPPED":
		return Stopped, true
	}
	return 0, false
}

// MarshalText encodes the state as its lowercase name.
func (s TrackingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes paused, tracking or stopped.
func (s *TrackingState) UnmarshalText(b []byte) error {
	v, ok := ParseTrackingState(string(b))
	if !ok {
		return fmt.Errorf("unknown tracking state %q", b)
	}
	*s = v
	return nil
}

// MediaKind selects which exclusive media a marker plays.
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// HasMedia reports whether k requires an exclusive media session.
func (k MediaKind) HasMedia() bool {
	return k == MediaAudio || k == MediaVideo
}

// MarkerObservation is a read-only per-frame snapshot of one marker.
type MarkerObservation struct {
	Identity    Identity      `json:"identity"`
	State       TrackingState `json:"state"`
	Pose        Pose          `json:"pose"`
	Extent      Extent        `json:"extent"`
	ConfigIndex int           `json:"configIndex"`
}

// Frame is the batch of updated markers delivered for one tick.
type Frame struct {
	Sequence       uint64
	Timestamp      time.Time
	CameraTracking bool
	Observations   []MarkerObservation
}

// MarkerConfig is the static per-index configuration of a marker.
type MarkerConfig struct {
	Name              string    `json:"name" mapstructure:"name"`
	ImageKey          string    `json:"image" mapstructure:"image"`
	AssetKey          string    `json:"asset" mapstructure:"asset"`
	MediaKind         MediaKind `json:"mediaKind" mapstructure:"mediaKind"`
	MediaKey          string    `json:"media" mapstructure:"media"`
	PlacementOffset   Vec3      `json:"offset" mapstructure:"offset"`
	PlacementRotation Quat      `json:"rotation" mapstructure:"rotation"`
	Scale             float32   `json:"scale" mapstructure:"scale"`
}
