// pkg/core/events.go
package core

import "time"

// LifecycleKind names a recorded lifecycle transition.
type LifecycleKind string

const (
	EventDetected           LifecycleKind = "detected"
	EventAttached           LifecycleKind = "attached"
	EventRenderableAttached LifecycleKind = "renderable_attached"
	EventDetached           LifecycleKind = "detached"
	EventMediaStarted       LifecycleKind = "media_started"
	EventMediaReleased      LifecycleKind = "media_released"
	EventMediaFailed        LifecycleKind = "media_failed"
	EventAssetFailed        LifecycleKind = "asset_failed"
	EventConfigOutOfRange   LifecycleKind = "config_out_of_range"
)

// Session describes one run of the tick loop.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	Manifest  string    `json:"manifest"`
	Markers   int       `json:"markers"`
}

// LifecycleEvent is one journal entry.
type LifecycleEvent struct {
	ID          uint          `json:"id"`
	SessionID   string        `json:"sessionId"`
	Time        time.Time     `json:"time"`
	Frame       uint64        `json:"frame"`
	Identity    Identity      `json:"identity"`
	ConfigIndex int           `json:"configIndex"`
	Kind        LifecycleKind `json:"kind"`
	Pose        *Pose         `json:"pose,omitempty"`
	Extent      Extent        `json:"extent"`
	Detail      string        `json:"detail,omitempty"`
}
