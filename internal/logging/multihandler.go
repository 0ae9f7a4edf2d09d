package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is one log destination. Records below MinLevel are not sent to it even
// when the handler itself would accept them, so a remote sink such as Graylog
// can stay at Warn while the session file records Debug.
type Sink struct {
	Name     string
	Handler  slog.Handler
	MinLevel slog.Level
}

// FanoutHandler sends each record to every sink that accepts its level.
type FanoutHandler struct {
	sinks []Sink
}

// NewFanoutHandler skips sinks without a handler.
func NewFanoutHandler(sinks ...Sink) *FanoutHandler {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &FanoutHandler{sinks: valid}
}

func (s Sink) accepts(ctx context.Context, level slog.Level) bool {
	return level >= s.MinLevel && s.Handler.Enabled(ctx, level)
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.accepts(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every accepting sink. One failing sink does not stop the
// others; the failures are returned joined.
func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.accepts(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, &SinkError{Sink: s.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *FanoutHandler) derive(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		s.Handler = fn(s.Handler)
		sinks[i] = s
	}
	return &FanoutHandler{sinks: sinks}
}

// SinkError names the sink a write failed on.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return "log sink " + e.Sink + ": " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }
