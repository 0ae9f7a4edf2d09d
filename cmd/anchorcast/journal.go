package main

import (
	"fmt"
	"log/slog"

	"github.com/anchorcast/anchorcast/internal/config"
	"github.com/anchorcast/anchorcast/internal/journal"
	"github.com/anchorcast/anchorcast/internal/journal/memory"
	pgjournal "github.com/anchorcast/anchorcast/internal/journal/postgres"
	sqlitejournal "github.com/anchorcast/anchorcast/internal/journal/sqlite"
	wsjournal "github.com/anchorcast/anchorcast/internal/journal/websocket"
	"github.com/rs/zerolog"
)

func createJournalBackend(cfg config.JournalConfig, logger *slog.Logger, dbLog zerolog.Logger) (journal.Backend, error) {
	switch cfg.Type {
	case "postgres":
		return pgjournal.New(nil, logger, dbLog), nil

	case "sqlite":
		backend, err := sqlitejournal.New(sqlitejournal.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpDir:      cfg.SQLite.DumpDir,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite journal: %w", err)
		}
		return backend, nil

	case "websocket":
		return wsjournal.New(wsjournal.Config{
			URL:        cfg.WebSocket.URL,
			Secret:     cfg.WebSocket.Secret,
			Backoff:    wsjournal.Backoff{Max: cfg.WebSocket.MaxBackoff, Attempts: cfg.WebSocket.ReconnectAttempts},
			SendBuffer: cfg.WebSocket.SendBuffer,
		}, logger), nil

	case "none":
		return journal.Nop{}, nil

	case "memory", "":
		return memory.New(cfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}
