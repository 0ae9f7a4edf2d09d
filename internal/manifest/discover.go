package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anchorcast/anchorcast/pkg/core"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
}

// Discover lists the marker images in dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)
	return images, nil
}

// Skeleton builds a manifest with one media-less marker per image.
// The asset key defaults to the image base name.
func Skeleton(name string, images []string) *Manifest {
	m := &Manifest{
		Name:            name,
		VideoPlaneAsset: DefaultVideoPlaneAsset,
		Markers:         make([]core.MarkerConfig, 0, len(images)),
	}
	for _, img := range images {
		base := strings.TrimSuffix(img, filepath.Ext(img))
		m.Markers = append(m.Markers, core.MarkerConfig{
			Name:              base,
			ImageKey:          img,
			AssetKey:          base,
			MediaKind:         core.MediaNone,
			PlacementRotation: core.IdentityQuat,
			Scale:             DefaultScale,
		})
	}
	return m
}
