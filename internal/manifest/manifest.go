// Package manifest loads the static marker table: one MarkerConfig per config index.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/spf13/viper"
)

var (
	// ErrManifestMissing is returned when the manifest file cannot be found.
	ErrManifestMissing = errors.New("marker manifest missing")
	// ErrConfigIndexOutOfRange is returned for an index beyond the manifest.
	ErrConfigIndexOutOfRange = errors.New("config index out of range")
)

const (
	// DefaultVideoPlaneAsset is the chroma-key plane video frames are rendered onto.
	DefaultVideoPlaneAsset = "chroma_key_video"
	// DefaultScale is applied to models that don't set one.
	DefaultScale float32 = 0.1
)

// Manifest is the packaged marker table, immutable after Load.
type Manifest struct {
	Name            string              `json:"name" mapstructure:"name"`
	VideoPlaneAsset string              `json:"videoPlaneAsset" mapstructure:"videoPlaneAsset"`
	Markers         []core.MarkerConfig `json:"markers" mapstructure:"markers"`
}

// Load reads a manifest file. The format (json, yaml, toml) follows the file extension.
func Load(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return nil, fmt.Errorf("stat manifest: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("videoPlaneAsset", DefaultVideoPlaneAsset)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, fmt.Errorf("error decoding manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

// normalize fills defaults and rejects entries that cannot be served.
func (m *Manifest) normalize() error {
	if m.VideoPlaneAsset == "" {
		m.VideoPlaneAsset = DefaultVideoPlaneAsset
	}
	for i := range m.Markers {
		c := &m.Markers[i]
		if c.MediaKind == "" {
			c.MediaKind = core.MediaNone
		}
		switch c.MediaKind {
		case core.MediaNone, core.MediaAudio, core.MediaVideo:
		default:
			return fmt.Errorf("marker %d: unknown media kind %q", i, c.MediaKind)
		}
		if c.MediaKind.HasMedia() && c.MediaKey == "" {
			return fmt.Errorf("marker %d: media kind %s requires a media key", i, c.MediaKind)
		}
		if c.Scale <= 0 {
			c.Scale = DefaultScale
		}
		c.PlacementRotation = c.PlacementRotation.Normalized()
		if c.Name == "" {
			c.Name = fmt.Sprintf("marker-%d", i)
		}
	}
	return nil
}

// Len returns the number of configured markers.
func (m *Manifest) Len() int {
	return len(m.Markers)
}

// Lookup returns the configuration for index.
func (m *Manifest) Lookup(index int) (core.MarkerConfig, error) {
	if index < 0 || index >= len(m.Markers) {
		return core.MarkerConfig{}, fmt.Errorf("%w: %d (manifest has %d)", ErrConfigIndexOutOfRange, index, len(m.Markers))
	}
	return m.Markers[index], nil
}

// VideoPlane returns the asset key of the shared video plane.
func (m *Manifest) VideoPlane() string {
	return m.VideoPlaneAsset
}

// WriteJSON writes the manifest as indented JSON.
func (m *Manifest) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
