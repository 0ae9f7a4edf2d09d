package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anchorcast/anchorcast/pkg/core"
)

// SessionExport is the root JSON structure.
type SessionExport struct {
	SessionID string                     `json:"sessionId"`
	Manifest  string                     `json:"manifest"`
	Markers   int                        `json:"markers"`
	StartTime time.Time                  `json:"startTime"`
	EndTime   time.Time                  `json:"endTime"`
	Counts    map[core.LifecycleKind]int `json:"counts"`
	Timelines []MarkerTimeline           `json:"timelines"`
}

// MarkerTimeline groups one identity's events in recording order.
type MarkerTimeline struct {
	Identity core.Identity         `json:"identity"`
	Events   []core.LifecycleEvent `json:"events"`
}

func (b *Backend) buildExport(end time.Time) SessionExport {
	export := SessionExport{
		SessionID: b.session.ID,
		Manifest:  b.session.Manifest,
		Markers:   b.session.Markers,
		StartTime: b.session.StartTime,
		EndTime:   end,
		Counts:    make(map[core.LifecycleKind]int),
		Timelines: make([]MarkerTimeline, 0),
	}

	index := make(map[core.Identity]int)
	for _, e := range b.events {
		export.Counts[e.Kind]++
		i, ok := index[e.Identity]
		if !ok {
			i = len(export.Timelines)
			index[e.Identity] = i
			export.Timelines = append(export.Timelines, MarkerTimeline{Identity: e.Identity})
		}
		export.Timelines[i].Events = append(export.Timelines[i].Events, e)
	}
	return export
}

// exportJSON writes the session to a (optionally gzipped) JSON file.
func (b *Backend) exportJSON(end time.Time) error {
	export := b.buildExport(end)

	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.session.Manifest)
	if name == "" {
		name = "session"
	}
	filename := fmt.Sprintf("%s_%s.json", name, b.session.StartTime.Format("20060102_150405"))
	if b.cfg.CompressOutput {
		filename += ".gz"
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if b.cfg.CompressOutput {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	if err := json.NewEncoder(w).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	b.lastExportPath = outputPath
	return nil
}
