// Package media owns the single exclusive audio/video session.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrPrepareFailed is returned when the backend cannot prepare or start playback.
	ErrPrepareFailed = errors.New("media prepare failed")
	// ErrInvalidKind is returned for a session request that is neither audio nor video.
	ErrInvalidKind = errors.New("invalid media kind")
)

// Player is one prepared playback.
type Player interface {
	Start() error
	Stop() error
	Release() error
	// VideoSize is 0x0 for audio.
	VideoSize() (width, height int)
}

// Backend prepares players. Prepare must not block on decoding.
type Backend interface {
	Prepare(ctx context.Context, kind core.MediaKind, key string, surface any) (Player, error)
}

// Session is the active playback and the marker that owns it.
type Session struct {
	ID       uuid.UUID
	Owner    core.Identity
	Kind     core.MediaKind
	MediaKey string
	Player   Player
	Surface  any
	Started  time.Time
}

// AspectRatio is width/height of the video, or 1 when unknown.
func (s *Session) AspectRatio() float32 {
	if s == nil || s.Player == nil {
		return 1
	}
	w, h := s.Player.VideoSize()
	if w <= 0 || h <= 0 {
		return 1
	}
	return float32(w) / float32(h)
}

// Manager enforces that at most one Session is active at any instant.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	active *Session

	started  metric.Int64Counter
	released metric.Int64Counter
	failed   metric.Int64Counter
	gauge    metric.Int64ObservableGauge
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{backend: backend, logger: logger}

	mt := meter()
	var err error
	m.started, err = mt.Int64Counter("media.sessions.started",
		metric.WithDescription("Media sessions started"))
	if err != nil {
		return nil, fmt.Errorf("creating started counter: %w", err)
	}
	m.released, err = mt.Int64Counter("media.sessions.released",
		metric.WithDescription("Media sessions released"))
	if err != nil {
		return nil, fmt.Errorf("creating released counter: %w", err)
	}
	m.failed, err = mt.Int64Counter("media.sessions.failed",
		metric.WithDescription("Media session requests that failed to prepare"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	m.gauge, err = mt.Int64ObservableGauge("media.sessions.active",
		metric.WithDescription("Active media sessions (0 or 1)"))
	if err != nil {
		return nil, fmt.Errorf("creating active gauge: %w", err)
	}
	_, err = mt.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		var n int64
		if m.active != nil {
			n = 1
		}
		o.ObserveInt64(m.gauge, n)
		return nil
	}, m.gauge)
	if err != nil {
		return nil, fmt.Errorf("registering active callback: %w", err)
	}
	return m, nil
}

// RequestSession makes owner the active media owner. An active session of a
// different owner is stopped and released before the new player is prepared.
// A request from the current owner returns the existing session unchanged.
func (m *Manager) RequestSession(ctx context.Context, owner core.Identity, kind core.MediaKind, key string, surface any) (*Session, error) {
	if !kind.HasMedia() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.Owner == owner {
			return m.active, nil
		}
		m.releaseLocked("evicted")
	}

	kindAttr := metric.WithAttributes(attribute.String("kind", string(kind)))

	player, err := m.backend.Prepare(ctx, kind, key, surface)
	if err != nil {
		m.failed.Add(ctx, 1, kindAttr)
		return nil, fmt.Errorf("%w: %s %q: %w", ErrPrepareFailed, kind, key, err)
	}
	if player == nil {
		m.failed.Add(ctx, 1, kindAttr)
		return nil, fmt.Errorf("%w: %s %q: backend returned no player", ErrPrepareFailed, kind, key)
	}
	if err := player.Start(); err != nil {
		if rerr := player.Release(); rerr != nil {
			m.logger.Warn("releasing unstarted player", "media", key, "error", rerr)
		}
		m.failed.Add(ctx, 1, kindAttr)
		return nil, fmt.Errorf("%w: start %s %q: %w", ErrPrepareFailed, kind, key, err)
	}

	m.active = &Session{
		ID:       uuid.New(),
		Owner:    owner,
		Kind:     kind,
		MediaKey: key,
		Player:   player,
		Surface:  surface,
		Started:  time.Now(),
	}
	m.started.Add(ctx, 1, kindAttr)
	m.logger.Debug("media session started", "owner", owner, "kind", kind, "media", key, "session", m.active.ID)
	return m.active, nil
}

// ReleaseIfOwner releases the active session only when owner holds it.
func (m *Manager) ReleaseIfOwner(owner core.Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Owner != owner {
		return false
	}
	m.releaseLocked("owner lost")
	return true
}

// ActiveOwner returns the identity owning the active session, if any.
func (m *Manager) ActiveOwner() (core.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.Owner, true
}

// Active returns the active session or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close releases whatever session is still active.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.releaseLocked("shutdown")
	}
}

// releaseLocked stops then releases the active player. Backend errors are
// logged; the session is dropped either way.
func (m *Manager) releaseLocked(reason string) {
	s := m.active
	m.active = nil

	if err := s.Player.Stop(); err != nil {
		m.logger.Warn("stopping media", "owner", s.Owner, "media", s.MediaKey, "error", err)
	}
	if err := s.Player.Release(); err != nil {
		m.logger.Warn("releasing media", "owner", s.Owner, "media", s.MediaKey, "error", err)
	}
	m.released.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(s.Kind)), attribute.String("reason", reason)))
	m.logger.Debug("media session released", "owner", s.Owner, "session", s.ID, "reason", reason)
}
