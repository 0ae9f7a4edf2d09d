package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anchorcast/anchorcast/internal/assets"
)

// ModelExtensions are the file extensions ResolveAsset looks for, in order.
var ModelExtensions = []string{".glb", ".gltf", ".sfb", ".obj"}

// ErrAssetNotFound is returned when no file exists for an asset key.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is a model file located on disk. Its contents are never parsed.
type Asset struct {
	Key  string
	Path string
	Size int64
}

func (a *Asset) AssetKey() string { return a.Key }

// Builtin is a renderable provided by the runtime itself, such as the
// chroma-key video plane.
type Builtin string

func (b Builtin) AssetKey() string { return string(b) }

// Store resolves asset keys to files under a directory.
type Store struct {
	dir      string
	builtins map[string]bool
}

// NewStore creates a Store over dir. builtins resolve without a file.
func NewStore(dir string, builtins ...string) *Store {
	s := &Store{dir: dir, builtins: make(map[string]bool)}
	for _, b := range builtins {
		s.builtins[b] = true
	}
	return s
}

// ResolveAsset finds key's model file.
func (s *Store) ResolveAsset(ctx context.Context, key string) (assets.Renderable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(key, `/\`) || key == ".." {
		return nil, fmt.Errorf("invalid asset key %q", key)
	}

	candidates := []string{filepath.Join(s.dir, key)}
	if filepath.Ext(key) == "" {
		candidates = candidates[:0]
		for _, ext := range ModelExtensions {
			candidates = append(candidates, filepath.Join(s.dir, key+ext))
		}
	}
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return &Asset{Key: key, Path: path, Size: info.Size()}, nil
	}

	if s.builtins[key] {
		return Builtin(key), nil
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrAssetNotFound, key, s.dir)
}
