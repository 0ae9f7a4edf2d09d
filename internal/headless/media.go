package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/anchorcast/anchorcast/internal/media"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// ErrPlayerReleased is returned by any call on a released player.
var ErrPlayerReleased = errors.New("player released")

// Default frame size reported by simulated video players.
const (
	DefaultVideoWidth  = 1920
	DefaultVideoHeight = 1080
)

// MediaBackend simulates playback of media files found under a directory.
// An empty directory accepts every key.
type MediaBackend struct {
	dir         string
	logger      *slog.Logger
	VideoWidth  int
	VideoHeight int

	mu      sync.Mutex
	playing map[*Player]bool
}

// NewMediaBackend creates a MediaBackend over dir.
func NewMediaBackend(dir string, logger *slog.Logger) *MediaBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaBackend{
		dir:         dir,
		logger:      logger,
		VideoWidth:  DefaultVideoWidth,
		VideoHeight: DefaultVideoHeight,
		playing:     make(map[*Player]bool),
	}
}

func (b *MediaBackend) Prepare(ctx context.Context, kind core.MediaKind, key string, surface any) (media.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New("empty media key")
	}
	if b.dir != "" {
		path := filepath.Join(b.dir, filepath.Base(key))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("opening media: %w", err)
		}
	}
	if kind == core.MediaVideo && surface == nil {
		b.logger.Debug("video prepared without a surface", "media", key)
	}
	p := &Player{backend: b, kind: kind, key: key}
	if kind == core.MediaVideo {
		p.width, p.height = b.VideoWidth, b.VideoHeight
	}
	return p, nil
}

// Playing returns the number of players currently started.
func (b *MediaBackend) Playing() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.playing)
}

func (b *MediaBackend) setPlaying(p *Player, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.playing[p] = true
	} else {
		delete(b.playing, p)
	}
}

// Player is a simulated player. Playback never loops.
type Player struct {
	backend  *MediaBackend
	kind     core.MediaKind
	key      string
	width    int
	height   int
	released bool
}

func (p *Player) Start() error {
	if p.released {
		return ErrPlayerReleased
	}
	p.backend.setPlaying(p, true)
	p.backend.logger.Debug("media playing", "kind", p.kind, "media", p.key)
	return nil
}

func (p *Player) Stop() error {
	if p.released {
		return ErrPlayerReleased
	}
	p.backend.setPlaying(p, false)
	return nil
}

func (p *Player) Release() error {
	if p.released {
		return ErrPlayerReleased
	}
	p.released = true
	p.backend.setPlaying(p, false)
	return nil
}

func (p *Player) VideoSize() (int, int) {
	return p.width, p.height
}

// Surface is the texture a simulated video session renders into.
type Surface struct {
	Marker core.Identity
	Media  string
}

// NewSurface creates a Surface for a marker's media.
func NewSurface(id core.Identity, cfg core.MarkerConfig) any {
	if cfg.MediaKind != core.MediaVideo {
		return nil
	}
	return &Surface{Marker: id, Media: cfg.MediaKey}
}
