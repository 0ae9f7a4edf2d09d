package scene

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/internal/media"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type model string

func (m model) AssetKey() string { return string(m) }

type fakeGraph struct {
	nodes       map[uuid.UUID]*Node
	anchors     map[uuid.UUID]core.Pose
	renderables map[uuid.UUID]assets.Renderable
	addErr      map[Role]error
	removed     []Role
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:       make(map[uuid.UUID]*Node),
		anchors:     make(map[uuid.UUID]core.Pose),
		renderables: make(map[uuid.UUID]assets.Renderable),
		addErr:      make(map[Role]error),
	}
}

func (g *fakeGraph) AddNode(n *Node) error {
	if err := g.addErr[n.Role]; err != nil {
		return err
	}
	g.nodes[n.ID] = n
	return nil
}

func (g *fakeGraph) RemoveNode(n *Node) error {
	if _, ok := g.nodes[n.ID]; !ok {
		return errors.New("not in graph")
	}
	delete(g.nodes, n.ID)
	g.removed = append(g.removed, n.Role)
	return nil
}

func (g *fakeGraph) SetAnchor(n *Node, pose core.Pose) error {
	g.anchors[n.ID] = pose
	return nil
}

func (g *fakeGraph) SetRenderable(n *Node, r assets.Renderable) error {
	g.renderables[n.ID] = r
	return nil
}

// gatedStore holds back every key that has a gate until it is closed.
type gatedStore struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
}

func (s *gatedStore) ResolveAsset(_ context.Context, key string) (assets.Renderable, error) {
	s.mu.Lock()
	gate, err := s.gates[key], s.fail[key]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return model(key), nil
}

type nopCatalog struct{}

func (nopCatalog) Lookup(int) (core.MarkerConfig, error) { return core.MarkerConfig{}, nil }

func newLoader(t *testing.T, store *gatedStore) *assets.Loader {
	t.Helper()
	l, err := assets.NewLoader(store, nopCatalog{}, nil, assets.Options{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func readyHandle(t *testing.T, l *assets.Loader, key string) *assets.Handle {
	t.Helper()
	h := l.LoadKey(key)
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not load", key)
	}
	return h
}

type fakePlayer struct{ w, h int }

func (fakePlayer) Start() error            { return nil }
func (fakePlayer) Stop() error             { return nil }
func (fakePlayer) Release() error          { return nil }
func (p fakePlayer) VideoSize() (int, int) { return p.w, p.h }

var pose = core.Pose{Position: core.Vec3{X: 0.3, Y: 0, Z: -1}, Rotation: core.IdentityQuat}

func TestAttach_ReadyRenderable(t *testing.T) {
	g := newFakeGraph()
	l := newLoader(t, &gatedStore{})
	b := NewBinder(g, nil)

	h := readyHandle(t, l, "beachcroc")
	n, err := b.Attach(AttachRequest{
		Identity:   "earth",
		Pose:       pose,
		Extent:     core.Extent{X: 0.2, Z: 0.15},
		Placement:  Placement{Offset: core.Vec3{Z: -0.1}, Scale: 0.1},
		Renderable: h,
	})
	require.NoError(t, err)

	assert.Equal(t, RoleAnchor, n.Role)
	assert.Equal(t, pose, g.anchors[n.ID])
	assert.Equal(t, core.Extent{X: 0.2, Z: 0.15}, n.Extent)
	require.NotNil(t, n.Model)
	assert.Same(t, n, n.Model.Parent)
	assert.Equal(t, core.Vec3{X: 0.1, Y: 0.1, Z: 0.1}, n.Model.Local.Scale)
	assert.Equal(t, core.IdentityQuat, n.Model.Local.Rotation)
	assert.InDelta(t, -0.1, n.Model.Local.Position.Z, 1e-6)
	assert.True(t, n.HasRenderable())
	assert.Equal(t, "beachcroc", g.renderables[n.Model.ID].AssetKey())
	assert.Nil(t, n.Surface)
	assert.Len(t, g.nodes, 2)
	assert.Equal(t, 0, b.Pending())
}

func TestAttach_PendingRetriedOnResolve(t *testing.T) {
	g := newFakeGraph()
	gate := make(chan struct{})
	l := newLoader(t, &gatedStore{gates: map[string]chan struct{}{"elephant": gate}})
	b := NewBinder(g, nil)

	h := l.LoadKey("elephant")
	n, err := b.Attach(AttachRequest{Identity: "elephant", Pose: pose, Placement: Placement{Scale: 0.1}, Renderable: h})
	require.NoError(t, err)

	assert.False(t, n.HasRenderable(), "no placeholder renderable while loading")
	assert.Equal(t, 1, b.Pending())

	known := func(core.Identity) bool { return true }
	assert.Empty(t, b.ResolvePending(known), "still loading")
	assert.Equal(t, 1, b.Pending())

	close(gate)
	<-h.Done()

	res := b.ResolvePending(known)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeAttached, res[0].Outcome)
	assert.Equal(t, RoleModel, res[0].Role)
	assert.Equal(t, "elephant", res[0].AssetKey)
	assert.True(t, n.HasRenderable())
	assert.Equal(t, 0, b.Pending())
}

func TestResolvePending_DropsStaleIdentity(t *testing.T) {
	g := newFakeGraph()
	gate := make(chan struct{})
	l := newLoader(t, &gatedStore{gates: map[string]chan struct{}{"croc": gate}})
	b := NewBinder(g, nil)

	h := l.LoadKey("croc")
	n, err := b.Attach(AttachRequest{Identity: "earth", Pose: pose, Renderable: h})
	require.NoError(t, err)

	close(gate)
	<-h.Done()

	res := b.ResolvePending(func(core.Identity) bool { return false })
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeStale, res[0].Outcome)
	assert.NoError(t, res[0].Err)
	assert.False(t, n.HasRenderable())
	assert.Empty(t, g.renderables)
}

func TestResolvePending_DropsDetachedNodeWhileLoading(t *testing.T) {
	g := newFakeGraph()
	gate := make(chan struct{})
	l := newLoader(t, &gatedStore{gates: map[string]chan struct{}{"croc": gate}})
	b := NewBinder(g, nil)

	h := l.LoadKey("croc")
	n, err := b.Attach(AttachRequest{Identity: "earth", Pose: pose, Renderable: h})
	require.NoError(t, err)
	require.True(t, b.Detach(n))

	// Detached entries leave the queue even before the load finishes.
	res := b.ResolvePending(func(core.Identity) bool { return true })
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeStale, res[0].Outcome)
	assert.Equal(t, 0, b.Pending())

	close(gate)
	<-h.Done()
	assert.Empty(t, b.ResolvePending(func(core.Identity) bool { return true }))
	assert.Empty(t, g.renderables)
}

func TestAttach_FailedRenderableLeavesNodeWithoutModel(t *testing.T) {
	g := newFakeGraph()
	l := newLoader(t, &gatedStore{fail: map[string]error{"broken": errors.New("corrupt glb")}})
	b := NewBinder(g, nil)

	h := readyHandle(t, l, "broken")
	n, err := b.Attach(AttachRequest{Identity: "m", Pose: pose, Renderable: h})
	require.NoError(t, err)

	assert.False(t, n.HasRenderable())
	assert.Equal(t, 0, b.Pending())
	assert.Len(t, g.nodes, 2)
}

func TestResolvePending_ReportsFailure(t *testing.T) {
	g := newFakeGraph()
	gate := make(chan struct{})
	boom := errors.New("corrupt glb")
	l := newLoader(t, &gatedStore{
		gates: map[string]chan struct{}{"broken": gate},
		fail:  map[string]error{"broken": boom},
	})
	b := NewBinder(g, nil)

	h := l.LoadKey("broken")
	_, err := b.Attach(AttachRequest{Identity: "m", Pose: pose, Renderable: h})
	require.NoError(t, err)

	close(gate)
	<-h.Done()

	res := b.ResolvePending(func(core.Identity) bool { return true })
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeFailed, res[0].Outcome)
	assert.ErrorIs(t, res[0].Err, boom)
	assert.ErrorIs(t, res[0].Err, assets.ErrAssetLoadFailed)
}

func TestAttach_VideoSessionAddsSurface(t *testing.T) {
	g := newFakeGraph()
	l := newLoader(t, &gatedStore{})
	b := NewBinder(g, nil)

	session := &media.Session{
		Owner:   "chicken",
		Kind:    core.MediaVideo,
		Player:  fakePlayer{w: 1280, h: 720},
		Surface: "texture-7",
	}
	n, err := b.Attach(AttachRequest{
		Identity:   "chicken",
		Pose:       pose,
		Placement:  Placement{Scale: 0.1},
		Renderable: readyHandle(t, l, "firechicken"),
		VideoPlane: readyHandle(t, l, "chroma_key_video"),
		Session:    session,
	})
	require.NoError(t, err)

	require.NotNil(t, n.Surface)
	s := n.Surface
	assert.Equal(t, RoleSurface, s.Role)
	assert.InDelta(t, 0.2*1280.0/720.0, s.Local.Scale.X, 1e-5)
	assert.InDelta(t, 0.2, s.Local.Scale.Y, 1e-6)
	assert.Equal(t, float32(1), s.Local.Scale.Z)
	// -90 degrees about X.
	assert.InDelta(t, -0.7071, s.Local.Rotation.X, 1e-3)
	assert.InDelta(t, 0.7071, s.Local.Rotation.W, 1e-3)
	require.NotNil(t, s.Material)
	assert.Equal(t, "texture-7", s.Material.Texture)
	assert.Equal(t, ChromaKeyColor, s.Material.KeyColor)
	assert.Equal(t, "chroma_key_video", g.renderables[s.ID].AssetKey())
	assert.Len(t, g.nodes, 3)
}

func TestAttach_AudioSessionHasNoSurface(t *testing.T) {
	g := newFakeGraph()
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{
		Identity: "earth",
		Pose:     pose,
		Session:  &media.Session{Owner: "earth", Kind: core.MediaAudio, Player: fakePlayer{}},
	})
	require.NoError(t, err)
	assert.Nil(t, n.Surface)
}

func TestAttach_SurfaceFailureKeepsModel(t *testing.T) {
	g := newFakeGraph()
	g.addErr[RoleSurface] = errors.New("no texture units")
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{
		Identity: "chicken",
		Pose:     pose,
		Session:  &media.Session{Owner: "chicken", Kind: core.MediaVideo, Player: fakePlayer{w: 16, h: 9}},
	})
	require.NoError(t, err)
	assert.Nil(t, n.Surface)
	assert.NotNil(t, n.Model)
}

func TestAttach_AnchorFailure(t *testing.T) {
	g := newFakeGraph()
	g.addErr[RoleAnchor] = errors.New("session paused")
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{Identity: "m", Pose: pose})
	assert.Error(t, err)
	assert.Nil(t, n)
	assert.Empty(t, g.nodes)
}

func TestAttach_ModelFailureRollsBackAnchor(t *testing.T) {
	g := newFakeGraph()
	g.addErr[RoleModel] = errors.New("out of memory")
	b := NewBinder(g, nil)

	_, err := b.Attach(AttachRequest{Identity: "m", Pose: pose})
	assert.Error(t, err)
	assert.Empty(t, g.nodes)
}

func TestDetach_RemovesSubtreeAndIsIdempotent(t *testing.T) {
	g := newFakeGraph()
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{
		Identity: "chicken",
		Pose:     pose,
		Session:  &media.Session{Owner: "chicken", Kind: core.MediaVideo, Player: fakePlayer{w: 1, h: 1}, Surface: "tex"},
	})
	require.NoError(t, err)
	require.Len(t, g.nodes, 3)

	assert.True(t, b.Detach(n))
	assert.Empty(t, g.nodes)
	assert.True(t, n.Detached())
	assert.True(t, n.Model.Detached())
	assert.True(t, n.Surface.Detached())
	assert.Nil(t, n.Surface.Material.Texture, "surface releases the video texture")
	assert.Equal(t, []Role{RoleModel, RoleSurface, RoleAnchor}, g.removed)

	assert.False(t, b.Detach(n))
	assert.Len(t, g.removed, 3)
	assert.False(t, b.Detach(nil))
}

func TestDetachSurface_KeepsAnchorAndModel(t *testing.T) {
	g := newFakeGraph()
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{
		Identity: "chicken",
		Pose:     pose,
		Session:  &media.Session{Owner: "chicken", Kind: core.MediaVideo, Player: fakePlayer{w: 1, h: 1}, Surface: "tex"},
	})
	require.NoError(t, err)
	surface := n.Surface

	assert.True(t, b.DetachSurface(n))
	assert.Nil(t, n.Surface)
	assert.True(t, surface.Detached())
	assert.Nil(t, surface.Material.Texture)
	assert.False(t, n.Detached())
	assert.Len(t, g.nodes, 2)
	assert.Equal(t, []Role{RoleSurface}, g.removed)

	assert.False(t, b.DetachSurface(n))
	assert.False(t, b.DetachSurface(nil))

	assert.True(t, b.Detach(n))
	assert.Empty(t, g.nodes)
	assert.Equal(t, []Role{RoleSurface, RoleModel, RoleAnchor}, g.removed)
}

func TestResolvePending_DropsDetachedSurface(t *testing.T) {
	g := newFakeGraph()
	gate := make(chan struct{})
	l := newLoader(t, &gatedStore{gates: map[string]chan struct{}{"chroma_key_video": gate}})
	b := NewBinder(g, nil)

	n, err := b.Attach(AttachRequest{
		Identity:   "chicken",
		Pose:       pose,
		VideoPlane: l.LoadKey("chroma_key_video"),
		Session:    &media.Session{Owner: "chicken", Kind: core.MediaVideo, Player: fakePlayer{w: 1, h: 1}, Surface: "tex"},
	})
	require.NoError(t, err)
	surface := n.Surface
	require.Equal(t, 1, b.Pending())

	b.DetachSurface(n)
	close(gate)
	readyHandle(t, l, "chroma_key_video")

	res := b.ResolvePending(func(core.Identity) bool { return true })
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeStale, res[0].Outcome)
	assert.Nil(t, surface.Renderable)
	assert.NotContains(t, g.renderables, surface.ID)
}

func TestPlacementOf(t *testing.T) {
	c := core.MarkerConfig{
		PlacementOffset:   core.Vec3{X: 1},
		PlacementRotation: core.AxisAngle(core.Vec3{Y: 1}, 90),
		Scale:             0.5,
	}
	p := PlacementOf(c)
	assert.Equal(t, c.PlacementOffset, p.Offset)
	assert.Equal(t, c.PlacementRotation, p.Rotation)
	assert.Equal(t, float32(0.5), p.Scale)
}
