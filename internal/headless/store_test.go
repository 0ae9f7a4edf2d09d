package headless

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ResolvesByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beachcroc.glb"), []byte("glTF"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cube.obj"), []byte("v 0 0 0"), 0644))

	s := NewStore(dir)
	r, err := s.ResolveAsset(context.Background(), "beachcroc")
	require.NoError(t, err)
	a, ok := r.(*Asset)
	require.True(t, ok)
	assert.Equal(t, "beachcroc", a.AssetKey())
	assert.Equal(t, filepath.Join(dir, "beachcroc.glb"), a.Path)
	assert.Equal(t, int64(4), a.Size)

	r, err = s.ResolveAsset(context.Background(), "cube.obj")
	require.NoError(t, err)
	assert.Equal(t, "cube.obj", r.AssetKey())
}

func TestStore_Missing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.ResolveAsset(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStore_Builtin(t *testing.T) {
	s := NewStore(t.TempDir(), "chroma_key_video")
	r, err := s.ResolveAsset(context.Background(), "chroma_key_video")
	require.NoError(t, err)
	assert.Equal(t, Builtin("chroma_key_video"), r)
}

func TestStore_RejectsPathKeys(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.ResolveAsset(context.Background(), "../secret")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAssetNotFound)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStore(t.TempDir()).ResolveAsset(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
