package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	frameKey ctxKey = iota
	markerKey
)

// WithFrame returns ctx carrying the camera frame sequence being processed.
// Records logged through a SessionHandler with that ctx get a "frame" attribute.
func WithFrame(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, frameKey, seq)
}

// WithMarker returns ctx carrying the marker identity being handled.
func WithMarker(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, markerKey, identity)
}

// FrameFrom returns the frame sequence stored by WithFrame.
func FrameFrom(ctx context.Context) (uint64, bool) {
	if ctx == nil {
		return 0, false
	}
	seq, ok := ctx.Value(frameKey).(uint64)
	return seq, ok
}

// MarkerFrom returns the identity stored by WithMarker.
func MarkerFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(markerKey).(string)
	return id, ok && id != ""
}

// SessionHandler stamps every record with the replay session ID, and with the
// frame and marker found on the record's context.
type SessionHandler struct {
	inner   slog.Handler
	session string
}

// NewSessionHandler wraps inner. An empty session adds no session attribute.
func NewSessionHandler(inner slog.Handler, session string) *SessionHandler {
	return &SessionHandler{inner: inner, session: session}
}

func (h *SessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the session, frame and marker attributes. A record that already
// names its marker keeps it.
func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.session != "" {
		r.AddAttrs(slog.String("session", h.session))
	}
	if seq, ok := FrameFrom(ctx); ok {
		r.AddAttrs(slog.Uint64("frame", seq))
	}
	if id, ok := MarkerFrom(ctx); ok && !hasAttr(r, "marker") {
		r.AddAttrs(slog.String("marker", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SessionHandler{inner: h.inner.WithAttrs(attrs), session: h.session}
}

func (h *SessionHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SessionHandler{inner: h.inner.WithGroup(name), session: h.session}
}

func hasAttr(r slog.Record, key string) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
