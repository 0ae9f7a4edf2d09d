// Package websocket streams the lifecycle journal to a remote collector.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/anchorcast/anchorcast/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string

	// Backoff bounds reconnects; zero fields take DefaultBackoff's.
	Backoff Backoff
	// SendBuffer is how many envelopes may queue while the socket is down.
	SendBuffer int
}

// Backend streams sessions and lifecycle events as streaming.Envelope
// messages. Session boundaries wait for a server ack; events do not.
type Backend struct {
	conn   *connection
	cfg    Config
	logger *slog.Logger
}

// New creates a new WebSocket journal backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:   newConnection(logger, cfg.Backoff, cfg.SendBuffer),
		cfg:    cfg,
		logger: logger,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartSession announces the session and waits for the server ack.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}

	b.conn.setStart(data)
	return b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for the server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)
	b.conn.setStart(nil)

	if n := b.Dropped(); n > 0 {
		b.logger.Warn("Journal stream dropped events", "dropped", n, "reconnects", b.Reconnects())
	}
	return err
}

// RecordEvent sends the event without waiting.
func (b *Backend) RecordEvent(e *core.LifecycleEvent) error {
	data, err := marshalEnvelope(streaming.TypeLifecycleEvent, streaming.NewLifecyclePayload(e))
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// Dropped returns how many envelopes were dropped because the send buffer was
// full.
func (b *Backend) Dropped() int64 {
	return b.conn.dropped.Load()
}

// Reconnects returns how many times the stream was re-established.
func (b *Backend) Reconnects() int64 {
	return b.conn.reconnects.Load()
}
