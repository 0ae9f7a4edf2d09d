package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/anchorcast/anchorcast/internal/config"
	"github.com/anchorcast/anchorcast/internal/journal"
	"github.com/anchorcast/anchorcast/internal/journal/memory"
	sqlitejournal "github.com/anchorcast/anchorcast/internal/journal/sqlite"
	wsjournal "github.com/anchorcast/anchorcast/internal/journal/websocket"
	"github.com/anchorcast/anchorcast/internal/manifest"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRunCLI_UsageAndVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runCLI(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "usage")

	out.Reset()
	assert.Equal(t, 0, runCLI([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), CurrentVersion)

	errOut.Reset()
	assert.Equal(t, 2, runCLI([]string{"explode"}, &out, &errOut))
	assert.Contains(t, errOut.String(), `unknown command "explode"`)
}

func TestDiscover_PrintsSkeleton(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gallery")
	writeFile(t, filepath.Join(dir, "b.JPG"), "x")
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, runCLI([]string{"discover", dir}, &out, &errOut), errOut.String())

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(out.Bytes(), &m))
	assert.Equal(t, "gallery", m.Name)
	require.Len(t, m.Markers, 2)
	assert.Equal(t, "a.jpg", m.Markers[0].ImageKey)
	assert.Equal(t, "b.JPG", m.Markers[1].ImageKey)
}

func TestDiscover_WritesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	target := filepath.Join(t.TempDir(), "manifest.json")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, runCLI([]string{"discover", "--name", "demo", "-o", target, dir}, &out, &errOut))
	assert.Contains(t, out.String(), "wrote 1 markers")

	m, err := manifest.Load(target)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)
}

func TestDiscover_RequiresDirectory(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, runCLI([]string{"discover"}, &out, &errOut))
}

const cliManifest = `{
  "name": "gallery",
  "markers": [
    {"name": "croc", "image": "croc.jpg", "asset": "beachcroc"},
    {"name": "reel", "image": "reel.jpg", "asset": "projector", "mediaKind": "video", "media": "reel.mp4"}
  ]
}`

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	writeFile(t, manifestPath, cliManifest)
	writeFile(t, filepath.Join(dir, "assets", "beachcroc.glb"), "model")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, runCLI([]string{"validate", manifestPath}, &out, &errOut))
	assert.Contains(t, out.String(), `manifest "gallery": 2 markers`)

	out.Reset()
	code := runCLI([]string{"validate", "--assets", filepath.Join(dir, "assets"),
		"--media", filepath.Join(dir, "media"), manifestPath}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "marker 1 (reel)")
	assert.Contains(t, errOut.String(), "2 problems found")

	writeFile(t, filepath.Join(dir, "assets", "projector.gltf"), "model")
	writeFile(t, filepath.Join(dir, "media", "reel.mp4"), "media")
	out.Reset()
	require.Equal(t, 0, runCLI([]string{"validate", "--assets", filepath.Join(dir, "assets"),
		"--media", filepath.Join(dir, "media"), manifestPath}, &out, &errOut))
	assert.Contains(t, out.String(), "ok")
}

func TestValidate_MissingManifest(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, runCLI([]string{"validate", filepath.Join(t.TempDir(), "nope.json")}, &out, &errOut))
	assert.Contains(t, errOut.String(), "manifest missing")
}

const cliTrace = `{"markers": [{"identity": "croc", "state": "paused", "configIndex": 0}]}
{"markers": [{"identity": "croc", "state": "tracking", "configIndex": 0}, {"identity": "reel", "state": "tracking", "configIndex": 1}]}
{"markers": [{"identity": "reel", "state": "stopped", "configIndex": 1}]}
`

func TestRun_ReplaysTraceAndExportsJournal(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "manifest.json"), cliManifest)
	writeFile(t, filepath.Join(dir, "assets", "beachcroc.glb"), "model")
	writeFile(t, filepath.Join(dir, "assets", "projector.glb"), "model")
	writeFile(t, filepath.Join(dir, "assets", "media", "reel.mp4"), "media")
	writeFile(t, filepath.Join(dir, "trace.jsonl"), cliTrace)

	cfg := map[string]any{
		"logLevel": "debug",
		"logsDir":  filepath.Join(dir, "logs"),
		"manifest": map[string]any{"path": filepath.Join(dir, "manifest.json")},
		"assets":   map[string]any{"dir": filepath.Join(dir, "assets"), "workers": 2},
		"media":    map[string]any{"dir": filepath.Join(dir, "assets", "media")},
		"tick":     map[string]any{"interval": "1ms"},
		"journal": map[string]any{
			"type":   "memory",
			"memory": map[string]any{"outputDir": filepath.Join(dir, "journal"), "compressOutput": false},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, config.ConfigFileName), string(data))

	var out, errOut bytes.Buffer
	code := runCLI([]string{"run", "--config-dir", dir, "--trace", filepath.Join(dir, "trace.jsonl")}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "3 frames")
	assert.Contains(t, out.String(), "1 markers attached at end")
	assert.Contains(t, out.String(), "journal written to")

	exports, err := filepath.Glob(filepath.Join(dir, "journal", "*.json"))
	require.NoError(t, err)
	require.Len(t, exports, 1)
	raw, err := os.ReadFile(exports[0])
	require.NoError(t, err)
	var export memory.SessionExport
	require.NoError(t, json.Unmarshal(raw, &export))
	assert.Equal(t, "gallery", export.Manifest)
	assert.Equal(t, 2, export.Counts[core.EventAttached])

	logs, err := filepath.Glob(filepath.Join(dir, "logs", AppName+".*.log"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRun_RequiresTrace(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, runCLI([]string{"run"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--trace is required")
}

func TestRun_MissingManifest(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "trace.jsonl"), cliTrace)
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"logsDir": "`+filepath.ToSlash(filepath.Join(dir, "logs"))+`"}`)

	var out, errOut bytes.Buffer
	code := runCLI([]string{"run", "--config-dir", dir, "--manifest", filepath.Join(dir, "none.json"),
		"--trace", filepath.Join(dir, "trace.jsonl")}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "manifest missing")
}

func TestCreateJournalBackend(t *testing.T) {
	b, err := createJournalBackend(config.JournalConfig{Type: "memory"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = createJournalBackend(config.JournalConfig{}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = createJournalBackend(config.JournalConfig{Type: "none"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, journal.Nop{}, b)

	b, err = createJournalBackend(config.JournalConfig{Type: "sqlite"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &sqlitejournal.Backend{}, b)
	require.NoError(t, b.Close())

	b, err = createJournalBackend(config.JournalConfig{Type: "websocket"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &wsjournal.Backend{}, b)

	_, err = createJournalBackend(config.JournalConfig{Type: "carrier-pigeon"}, nil, zerolog.Nop())
	assert.Error(t, err)
}
