// Package postgres implements the journal on a PostgreSQL database.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/anchorcast/anchorcast/internal/database"
	"github.com/anchorcast/anchorcast/internal/journal/gormjournal"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Backend connects lazily in Init and then behaves as the gorm journal.
type Backend struct {
	*gormjournal.Backend
	db      *gorm.DB
	log     *slog.Logger
	connLog zerolog.Logger
	connect func(zerolog.Logger) (*gorm.DB, error)
}

// New creates a Postgres journal. db may be nil, in which case Init opens
// a connection from the db.* configuration keys.
func New(db *gorm.DB, logger *slog.Logger, connLog zerolog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		db:      db,
		log:     logger,
		connLog: connLog,
		connect: database.GetPostgresDB,
	}
}

// Init connects if needed, then migrates and starts the writer.
func (b *Backend) Init() error {
	if b.db == nil {
		db, err := b.connect(b.connLog)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.db = db
	}
	b.Backend = gormjournal.New(gormjournal.Dependencies{DB: b.db, Logger: b.log})
	return b.Backend.Init()
}

// Close closes the embedded backend and the connection pool.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	err := b.Backend.Close()
	if sqlDB, derr := b.db.DB(); derr == nil {
		if cerr := sqlDB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
