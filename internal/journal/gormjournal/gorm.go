// Package gormjournal implements journal.Backend over any gorm dialect, with
// a background writer that batches queued events into transactions.
package gormjournal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anchorcast/anchorcast/internal/queue"
	"github.com/anchorcast/anchorcast/pkg/core"
	"gorm.io/gorm"
)

// DefaultFlushInterval is how often the writer drains the event queue.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the gorm journal backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// Backend records sessions and lifecycle events through gorm.
type Backend struct {
	deps      Dependencies
	events    *queue.Queue[EventRow]
	sessionID atomic.Value
	stopChan  chan struct{}
	stopped   sync.WaitGroup
	writeMu   sync.Mutex
	lastWrite atomic.Int64
}

// New creates a new gorm journal backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	b := &Backend{deps: deps, events: queue.New[EventRow]()}
	b.sessionID.Store("")
	return b
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm journal: no database")
	}
	if err := b.deps.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.stopped.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes what is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.stopped.Wait()
		b.stopChan = nil
	}
	return b.Flush()
}

// StartSession inserts the session row; later events are stamped with its ID.
func (b *Backend) StartSession(s *core.Session) error {
	row := SessionRow{ID: s.ID, StartTime: s.StartTime, Manifest: s.Manifest, Markers: s.Markers}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.sessionID.Store(s.ID)
	return nil
}

// EndSession flushes queued events and stamps the session's end time.
func (b *Backend) EndSession() error {
	if err := b.Flush(); err != nil {
		return err
	}
	id := b.sessionID.Load().(string)
	if id == "" {
		return fmt.Errorf("no session started")
	}
	err := b.deps.DB.Model(&SessionRow{}).Where("id = ?", id).
		Update("end_time", sql.NullTime{Time: time.Now(), Valid: true}).Error
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	b.sessionID.Store("")
	return nil
}

// RecordEvent queues e for the next write cycle.
func (b *Backend) RecordEvent(e *core.LifecycleEvent) error {
	row, err := ToEventRow(e)
	if err != nil {
		return err
	}
	if row.SessionID == "" {
		row.SessionID = b.sessionID.Load().(string)
	}
	b.events.Push(row)
	return nil
}

// Pending returns the number of events not yet written.
func (b *Backend) Pending() int {
	return b.events.Len()
}

// Flush writes every queued event in one transaction. On failure the
// events are re-queued for the next cycle.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.events.Empty() {
		return nil
	}
	start := time.Now()
	items := b.events.GetAndEmpty()

	tx := b.deps.DB.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		for i := range items {
			items[i].ID = 0
		}
		b.events.Push(items...)
		return fmt.Errorf("error creating lifecycle events: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("error committing lifecycle events: %w", err)
	}
	b.lastWrite.Store(int64(time.Since(start)))
	return nil
}

// GetLastDBWriteDuration returns the duration of the last write cycle.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Events reads back a session's events in insertion order.
func (b *Backend) Events(sessionID string) ([]core.LifecycleEvent, error) {
	var rows []EventRow
	if err := b.deps.DB.Where("session_id = ?", sessionID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.LifecycleEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromEventRow(r))
	}
	return out, nil
}

func (b *Backend) writeLoop() {
	defer b.stopped.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error("journal write failed", "error", err)
			}
		}
	}
}
