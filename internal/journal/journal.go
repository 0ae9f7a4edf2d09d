// Package journal records marker lifecycle events for a run of the tick loop.
package journal

import (
	"fmt"

	"github.com/anchorcast/anchorcast/internal/dispatcher"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// EventKind is the router kind lifecycle events are dispatched under.
const EventKind = "journal.event"

// Backend is the interface all journal implementations must satisfy.
type Backend interface {
	Init() error
	Close() error

	StartSession(s *core.Session) error
	EndSession() error

	RecordEvent(e *core.LifecycleEvent) error
}

// Exporter is implemented by backends that write a file when a session ends.
type Exporter interface {
	ExportedFilePath() string
}

// Register routes EventKind to b through a buffered queue, so a slow backend
// drops events instead of stalling the tick.
func Register(router *dispatcher.Dispatcher, b Backend, bufferSize int) {
	if bufferSize < 1 {
		bufferSize = 1
	}
	router.Register(EventKind, func(e dispatcher.Event) (any, error) {
		ev, ok := e.Payload.(core.LifecycleEvent)
		if !ok {
			return nil, fmt.Errorf("unexpected journal payload %T", e.Payload)
		}
		return nil, b.RecordEvent(&ev)
	}, dispatcher.Buffered(bufferSize), dispatcher.Recovered())
}

// Nop discards everything.
type Nop struct{}

func (Nop) Init() error                            { return nil }
func (Nop) Close() error                           { return nil }
func (Nop) StartSession(*core.Session) error       { return nil }
func (Nop) EndSession() error                      { return nil }
func (Nop) RecordEvent(*core.LifecycleEvent) error { return nil }
