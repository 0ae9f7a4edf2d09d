// Package memory keeps the lifecycle journal in memory and exports it as
// JSON when the session ends.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/anchorcast/anchorcast/internal/config"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// Backend stores session events in memory and exports to JSON.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session
	events  []core.LifecycleEvent

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session, discarding the previous one.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.events = nil
	b.idCounter = 0
	return nil
}

// EndSession exports the session. Without an output dir nothing is written.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return fmt.Errorf("no session started")
	}
	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON(time.Now())
}

// RecordEvent appends e, assigning its ID.
func (b *Backend) RecordEvent(e *core.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	e.ID = b.idCounter
	if e.SessionID == "" && b.session != nil {
		e.SessionID = b.session.ID
	}
	b.events = append(b.events, *e)
	return nil
}

// Events returns a copy of the recorded events.
func (b *Backend) Events() []core.LifecycleEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.LifecycleEvent(nil), b.events...)
}

// Counts returns the number of recorded events per kind.
func (b *Backend) Counts() map[core.LifecycleKind]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[core.LifecycleKind]int)
	for _, e := range b.events {
		counts[e.Kind]++
	}
	return counts
}

// ExportedFilePath returns the path of the last export.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
