package headless

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `# two markers
{"seq": 10, "markers": [{"identity": "a", "state": "paused", "configIndex": 0}]}

{"markers": [{"identity": "a", "state": "tracking", "configIndex": 0, "pose": {"position": {"x": 0.1, "y": 0, "z": -0.4}}, "extent": {"x": 0.2, "z": 0.1}}]}
not json
{"cameraTracking": false, "markers": [{"identity": "a", "state": "STOPPED"}]}
`

func TestTraceSource_ReplaysFrames(t *testing.T) {
	src := NewTraceSource(strings.NewReader(sampleTrace), nil)

	f := src.CurrentFrame()
	require.NotNil(t, f)
	assert.Equal(t, uint64(10), f.Sequence)
	assert.True(t, f.CameraTracking)
	require.Len(t, f.Observations, 1)
	assert.Equal(t, core.Paused, f.Observations[0].State)

	f = src.CurrentFrame()
	require.NotNil(t, f)
	assert.Equal(t, uint64(2), f.Sequence)
	obs := f.Observations[0]
	assert.Equal(t, core.Tracking, obs.State)
	assert.InDelta(t, -0.4, obs.Pose.Position.Z, 1e-6)
	assert.InDelta(t, 0.2, obs.Extent.X, 1e-6)

	f = src.CurrentFrame()
	require.NotNil(t, f)
	assert.False(t, f.CameraTracking)
	assert.Equal(t, core.Stopped, f.Observations[0].State)
	assert.Equal(t, 1, src.Skipped())

	select {
	case <-src.Done():
		t.Fatal("done before exhaustion")
	default:
	}

	assert.Nil(t, src.CurrentFrame())
	assert.Nil(t, src.CurrentFrame())
	assert.Equal(t, 3, src.Frames())
	<-src.Done()
}

func TestOpenTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"markers": []}`+"\n"), 0644))

	src, err := OpenTrace(path, nil)
	require.NoError(t, err)
	defer src.Close()
	require.NotNil(t, src.CurrentFrame())
	assert.Nil(t, src.CurrentFrame())

	_, err = OpenTrace(filepath.Join(t.TempDir(), "missing.jsonl"), nil)
	assert.Error(t, err)
}
