package logging

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RouterLogger adapts zerolog.Logger to the event router's Logger interface.
// The router's "kind" key is written as a "route" (the part before the first
// dot, e.g. "marker") and an "event" (e.g. "tracking"), so lifecycle traffic
// can be filtered per route. Errors and durations get typed fields.
type RouterLogger struct {
	logger zerolog.Logger
}

func NewRouterLogger(logger zerolog.Logger) *RouterLogger {
	return &RouterLogger{logger: logger}
}

func (l *RouterLogger) Debug(msg string, keysAndValues ...any) {
	write(l.logger.Debug(), msg, keysAndValues)
}

func (l *RouterLogger) Info(msg string, keysAndValues ...any) {
	write(l.logger.Info(), msg, keysAndValues)
}

func (l *RouterLogger) Error(msg string, keysAndValues ...any) {
	write(l.logger.Error(), msg, keysAndValues)
}

// write ignores non-string keys and a dangling key.
func write(e *zerolog.Event, msg string, keysAndValues []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case string:
			if key == "kind" {
				route, event := SplitKind(v)
				e = e.Str("route", route)
				if event != "" {
					e = e.Str("event", event)
				}
				continue
			}
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

// SplitKind splits a router kind such as "marker.stopped" into its route and
// event. A kind without a dot is all route.
func SplitKind(kind string) (route, event string) {
	route, event, _ = strings.Cut(kind, ".")
	return route, event
}
