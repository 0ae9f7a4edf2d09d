package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type model string

func (m model) AssetKey() string { return string(m) }

// fakeStore resolves keys immediately unless a gate is installed for them.
type fakeStore struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
	nilOK map[string]bool
	calls atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
		nilOK: make(map[string]bool),
	}
}

func (s *fakeStore) gate(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[key] = ch
	return ch
}

func (s *fakeStore) ResolveAsset(ctx context.Context, key string) (Renderable, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate := s.gates[key]
	err := s.fail[key]
	returnNil := s.nilOK[key]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if returnNil {
		return nil, nil
	}
	return model(key), nil
}

type fakeCatalog []core.MarkerConfig

func (c fakeCatalog) Lookup(index int) (core.MarkerConfig, error) {
	if index < 0 || index >= len(c) {
		return core.MarkerConfig{}, fmt.Errorf("index %d out of range", index)
	}
	return c[index], nil
}

var catalog = fakeCatalog{
	{AssetKey: "beachcroc"},
	{AssetKey: "bigger_elephant"},
	{AssetKey: "beachcroc"},
}

func newLoader(t *testing.T, store Store, opts Options) *Loader {
	t.Helper()
	l, err := NewLoader(store, catalog, nil, opts)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("handle %q did not resolve", h.Key())
	}
}

func TestLoad_ResolvesReady(t *testing.T) {
	l := newLoader(t, newFakeStore(), Options{Workers: 2})

	h, err := l.Load(1)
	require.NoError(t, err)
	assert.Equal(t, "bigger_elephant", h.Key())

	waitDone(t, h)
	status, r, err := h.Poll()
	assert.Equal(t, StatusReady, status)
	assert.NoError(t, err)
	assert.Equal(t, "bigger_elephant", r.AssetKey())
	assert.Equal(t, StatusReady, l.Poll(h))
}

func TestLoad_IsIdempotentPerIndex(t *testing.T) {
	store := newFakeStore()
	release := store.gate("beachcroc")
	l := newLoader(t, store, Options{Workers: 1})

	h1, err := l.Load(0)
	require.NoError(t, err)
	h2, err := l.Load(0)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, StatusPending, h1.Status())

	close(release)
	waitDone(t, h1)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestLoad_SharesHandleAcrossIndicesWithSameAsset(t *testing.T) {
	store := newFakeStore()
	l := newLoader(t, store, Options{Workers: 2})

	h0, err := l.Load(0)
	require.NoError(t, err)
	h2, err := l.Load(2)
	require.NoError(t, err)

	assert.Same(t, h0, h2)
	waitDone(t, h0)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestLoad_IndexOutOfRange(t *testing.T) {
	l := newLoader(t, newFakeStore(), Options{})

	h, err := l.Load(7)
	assert.Error(t, err)
	assert.Nil(t, h)
}

func TestLoad_StoreErrorFails(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("model not packaged")
	store.fail["bigger_elephant"] = boom
	l := newLoader(t, store, Options{})

	h, err := l.Load(1)
	require.NoError(t, err)
	waitDone(t, h)

	status, r, err := h.Poll()
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrAssetLoadFailed)
	assert.ErrorIs(t, err, boom)
}

func TestLoad_NilRenderableFails(t *testing.T) {
	store := newFakeStore()
	store.nilOK["beachcroc"] = true
	l := newLoader(t, store, Options{})

	h, err := l.Load(0)
	require.NoError(t, err)
	waitDone(t, h)

	_, _, err = h.Poll()
	assert.ErrorIs(t, err, ErrAssetLoadFailed)
}

func TestLoadKey_EmptyKeyFailsImmediately(t *testing.T) {
	l := newLoader(t, newFakeStore(), Options{})

	h := l.LoadKey("")
	assert.Equal(t, StatusFailed, h.Status())
}

func TestLoad_Timeout(t *testing.T) {
	store := newFakeStore()
	release := store.gate("beachcroc")
	defer close(release)
	l := newLoader(t, store, Options{Timeout: 20 * time.Millisecond})

	h, err := l.Load(0)
	require.NoError(t, err)
	waitDone(t, h)

	_, _, err = h.Poll()
	assert.ErrorIs(t, err, ErrAssetLoadFailed)
	assert.ErrorIs(t, err, ErrLoadTimeout)
}

func TestLoad_NoTimeoutStaysPending(t *testing.T) {
	store := newFakeStore()
	release := store.gate("beachcroc")
	l := newLoader(t, store, Options{})

	h, err := l.Load(0)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StatusPending, h.Status())

	close(release)
	waitDone(t, h)
	assert.Equal(t, StatusReady, h.Status())
}

func TestClose_FailsOutstandingLoads(t *testing.T) {
	store := newFakeStore()
	release := store.gate("beachcroc")
	defer close(release)

	l, err := NewLoader(store, catalog, nil, Options{Workers: 1})
	require.NoError(t, err)

	inFlight, err := l.Load(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	queued, err := l.Load(1)
	require.NoError(t, err)

	l.Close()

	for _, h := range []*Handle{inFlight, queued} {
		waitDone(t, h)
		_, _, err := h.Poll()
		assert.ErrorIs(t, err, ErrLoaderClosed, h.Key())
	}

	after := l.LoadKey("late")
	assert.Equal(t, StatusFailed, after.Status())
}

func TestHandle_ResolvesOnce(t *testing.T) {
	h := newHandle("x")
	assert.True(t, h.resolve(model("x"), nil))
	assert.False(t, h.resolve(nil, errors.New("late")))

	status, r, err := h.Poll()
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "x", r.AssetKey())
	assert.NoError(t, err)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(9).String())
}

func TestPending_CountsRunningLoads(t *testing.T) {
	store := newFakeStore()
	release := store.gate("slow")
	l := newLoader(t, store, Options{Workers: 1})

	h := l.LoadKey("slow")
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusPending, h.Status())
	assert.Equal(t, 1, l.Pending())

	queued := l.LoadKey("queued")
	assert.Equal(t, 2, l.Pending())

	close(release)
	waitDone(t, h)
	waitDone(t, queued)
	assert.Eventually(t, func() bool { return l.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLoad_TimeoutIncludesQueueWait(t *testing.T) {
	store := newFakeStore()
	release := store.gate("slow")
	defer close(release)
	l := newLoader(t, store, Options{Workers: 1, Timeout: 40 * time.Millisecond})

	slow := l.LoadKey("slow")
	queued := l.LoadKey("queued")

	for _, h := range []*Handle{slow, queued} {
		waitDone(t, h)
		_, _, err := h.Poll()
		assert.ErrorIs(t, err, ErrLoadTimeout, h.Key())
	}
	assert.Equal(t, int32(1), store.calls.Load(), "queued load reached the store after its deadline")
}

func TestLoaderPoll(t *testing.T) {
	l := newLoader(t, newFakeStore(), Options{})

	assert.Equal(t, StatusFailed, l.Poll(nil))
	h := l.LoadKey("beachcroc")
	waitDone(t, h)
	assert.Equal(t, StatusReady, l.Poll(h))
}
