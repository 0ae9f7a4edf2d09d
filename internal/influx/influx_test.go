package influx

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func tickPoint(observations int, ns int64) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("tick",
		map[string]string{"session": "s1"},
		map[string]any{"observations": observations},
		time.Unix(0, ns))
}

func TestConnect_UnreachableFallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "influx_backup.lp.gz")
	m := NewManager(Config{URL: "http://127.0.0.1:1", Bucket: "tick_performance", BackupPath: backup}, zerolog.Nop())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, ModeBackup, m.Mode())

	require.NoError(t, m.WritePoint(tickPoint(3, 42)))
	require.NoError(t, m.WritePoint(tickPoint(1, 43)))
	assert.Equal(t, Stats{BackedUp: 2}, m.Stats())
	require.NoError(t, m.Close())
	assert.Equal(t, ModeNone, m.Mode())

	lines := strings.Split(strings.TrimSpace(readBackup(t, backup)), "\n")
	assert.Equal(t, []string{
		"tick,session=s1 observations=3i 42",
		"tick,session=s1 observations=1i 43",
	}, lines)
}

func TestConnect_UnreachableWithoutBackup(t *testing.T) {
	m := NewManager(Config{URL: "http://127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, m.Connect(context.Background()))
	assert.Equal(t, ModeNone, m.Mode())
}

func TestConnect_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backup := filepath.Join(t.TempDir(), "b.lp.gz")
	m := NewManager(Config{URL: srv.URL, BackupPath: backup}, zerolog.Nop())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, ModeBackup, m.Mode())
	require.NoError(t, m.Close())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())
	assert.Error(t, m.WritePoint(influxdb2_write.NewPointWithMeasurement("tick")))
	assert.NoError(t, m.Close())
}

func TestConfigOptions(t *testing.T) {
	opts := Config{BatchSize: 100, FlushInterval: 250 * time.Millisecond}.options()
	assert.Equal(t, uint(100), opts.BatchSize())
	assert.Equal(t, uint(250), opts.FlushInterval())

	def := Config{}.options()
	assert.Equal(t, uint(5000), def.BatchSize())
}
