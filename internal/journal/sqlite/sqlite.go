// Package sqlite implements the journal over an in-memory SQLite database
// with periodic disk dumps via VACUUM INTO.
package sqlite

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/anchorcast/anchorcast/internal/database"
	"github.com/anchorcast/anchorcast/internal/journal/gormjournal"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// Config holds configuration for the SQLite journal backend.
type Config struct {
	DumpInterval time.Duration
	DumpDir      string
}

// Backend wraps the gorm journal with SQLite-specific dump behavior.
type Backend struct {
	*gormjournal.Backend
	cfg    Config
	log    *slog.Logger
	stop   chan struct{}
	loopWG sync.WaitGroup

	mu       sync.Mutex
	dumpPath string
	dumpMu   sync.Mutex
}

// New creates a new SQLite journal backend.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDB("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	return &Backend{
		Backend: gormjournal.New(gormjournal.Dependencies{DB: db, Logger: logger}),
		cfg:     cfg,
		log:     logger,
		stop:    make(chan struct{}),
	}, nil
}

// Init initializes the embedded gorm backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpDir != "" && b.cfg.DumpInterval > 0 {
		b.loopWG.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// StartSession records the session and names the dump file after it.
func (b *Backend) StartSession(s *core.Session) error {
	if err := b.Backend.StartSession(s); err != nil {
		return err
	}
	if b.cfg.DumpDir != "" {
		b.mu.Lock()
		b.dumpPath = filepath.Join(b.cfg.DumpDir, fmt.Sprintf("anchorcast_%s.db", s.StartTime.Format("20060102_150405")))
		b.mu.Unlock()
	}
	return nil
}

// EndSession finishes the session and writes a final dump.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump goroutine and closes the embedded gorm backend.
func (b *Backend) Close() error {
	close(b.stop)
	b.loopWG.Wait()
	return b.Backend.Close()
}

// Dump writes the database to the session's dump file, if there is one.
func (b *Backend) Dump() error {
	b.dumpMu.Lock()
	defer b.dumpMu.Unlock()

	path := b.ExportedFilePath()
	if path == "" {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	return database.DumpMemoryDBToDisk(b.DB(), path)
}

// ExportedFilePath returns the dump file of the current or last session.
func (b *Backend) ExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumpPath
}

// dumpLoop periodically dumps the in-memory database to disk.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.loopWG.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error("error dumping journal to disk", "error", err)
			} else {
				b.log.Debug("dumped journal to disk", "duration", time.Since(start))
			}
		}
	}
}
