// Package streaming defines the envelope protocol used to stream the
// lifecycle journal to a remote collector.
package streaming

import (
	"encoding/json"

	"github.com/anchorcast/anchorcast/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession   = "start_session"
	TypeEndSession     = "end_session"
	TypeLifecycleEvent = "lifecycle_event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces a tick-loop run.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// LifecyclePayload is one journal entry as it travels on the wire.
type LifecyclePayload struct {
	SessionID   string             `json:"sessionId"`
	Time        int64              `json:"time"` // unix millis
	Frame       uint64             `json:"frame"`
	Identity    core.Identity      `json:"identity"`
	ConfigIndex int                `json:"configIndex"`
	Kind        core.LifecycleKind `json:"kind"`
	Pose        *core.Pose         `json:"pose,omitempty"`
	Extent      core.Extent        `json:"extent"`
	Detail      string             `json:"detail,omitempty"`
}

// NewLifecyclePayload converts a journal event to its wire form.
func NewLifecyclePayload(e *core.LifecycleEvent) LifecyclePayload {
	return LifecyclePayload{
		SessionID:   e.SessionID,
		Time:        e.Time.UnixMilli(),
		Frame:       e.Frame,
		Identity:    e.Identity,
		ConfigIndex: e.ConfigIndex,
		Kind:        e.Kind,
		Pose:        e.Pose,
		Extent:      e.Extent,
		Detail:      e.Detail,
	}
}
