package scene

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/internal/media"
	"github.com/anchorcast/anchorcast/internal/queue"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// SurfaceSize is the height in metres of the video plane; width follows the aspect ratio.
const SurfaceSize float32 = 0.2

// Graph is the renderer's scene graph.
type Graph interface {
	AddNode(n *Node) error
	RemoveNode(n *Node) error
	SetAnchor(n *Node, pose core.Pose) error
	SetRenderable(n *Node, r assets.Renderable) error
}

// Placement positions the model relative to the anchor.
type Placement struct {
	Offset   core.Vec3
	Rotation core.Quat
	Scale    float32
}

// PlacementOf reads the placement fields of a marker configuration.
func PlacementOf(c core.MarkerConfig) Placement {
	return Placement{Offset: c.PlacementOffset, Rotation: c.PlacementRotation, Scale: c.Scale}
}

// AttachRequest carries everything needed to build one marker's subtree.
type AttachRequest struct {
	Identity   core.Identity
	Pose       core.Pose
	Extent     core.Extent
	Placement  Placement
	Renderable *assets.Handle
	// VideoPlane is only used when Session is a video session.
	VideoPlane *assets.Handle
	Session    *media.Session
}

// Outcome is how a deferred attachment ended.
type Outcome string

const (
	OutcomeAttached Outcome = "attached"
	OutcomeFailed   Outcome = "failed"
	OutcomeStale    Outcome = "stale"
)

// Resolution reports one deferred attachment that left the pending queue.
type Resolution struct {
	Identity core.Identity
	Role     Role
	AssetKey string
	Outcome  Outcome
	Err      error
}

type pendingAttach struct {
	root   *Node
	target *Node
	handle *assets.Handle
}

// Binder builds and tears down marker subtrees. Renderables that are still
// loading are attached later by ResolvePending, never by blocking.
type Binder struct {
	graph   Graph
	logger  *slog.Logger
	pending *queue.Queue[pendingAttach]
}

// NewBinder creates a Binder over graph.
func NewBinder(graph Graph, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		graph:   graph,
		logger:  logger,
		pending: queue.New[pendingAttach](),
	}
}

// Attach creates the anchor node for req.Identity, its model child and, for
// a video session, the video surface child.
func (b *Binder) Attach(req AttachRequest) (*Node, error) {
	root := newNode(req.Identity, RoleAnchor, nil)
	root.Anchor = req.Pose
	root.Extent = req.Extent

	if err := b.graph.AddNode(root); err != nil {
		return nil, fmt.Errorf("adding anchor node: %w", err)
	}
	if err := b.graph.SetAnchor(root, req.Pose); err != nil {
		b.rollback(root)
		return nil, fmt.Errorf("setting anchor: %w", err)
	}

	scale := req.Placement.Scale
	model := newNode(req.Identity, RoleModel, root)
	model.Local = Transform{
		Position: req.Placement.Offset,
		Rotation: req.Placement.Rotation.Normalized(),
		Scale:    core.Vec3{X: scale, Y: scale, Z: scale},
	}
	if err := b.graph.AddNode(model); err != nil {
		b.rollback(root)
		return nil, fmt.Errorf("adding model node: %w", err)
	}
	root.Model = model
	b.bind(root, model, req.Renderable)

	if req.Session != nil && req.Session.Kind == core.MediaVideo {
		surface := newNode(req.Identity, RoleSurface, root)
		surface.Local = Transform{
			Rotation: core.AxisAngle(core.Vec3{X: 1}, -90),
			Scale:    core.Vec3{X: SurfaceSize * req.Session.AspectRatio(), Y: SurfaceSize, Z: 1},
		}
		surface.Material = &Material{Texture: req.Session.Surface, KeyColor: ChromaKeyColor}
		if err := b.graph.AddNode(surface); err != nil {
			// The marker still shows its model without the video plane.
			b.logger.Warn("adding video surface", "marker", req.Identity, "error", err)
		} else {
			root.Surface = surface
			b.bind(root, surface, req.VideoPlane)
		}
	}

	return root, nil
}

func (b *Binder) bind(root, target *Node, h *assets.Handle) {
	if h == nil {
		return
	}
	status, r, err := h.Poll()
	switch status {
	case assets.StatusReady:
		if err := b.graph.SetRenderable(target, r); err != nil {
			b.logger.Warn("setting renderable", "marker", root.Identity, "asset", h.Key(), "error", err)
			return
		}
		target.Renderable = r
	case assets.StatusFailed:
		b.logger.Warn("renderable unavailable", "marker", root.Identity, "asset", h.Key(), "error", err)
	default:
		b.pending.Push(pendingAttach{root: root, target: target, handle: h})
	}
}

// ResolvePending attaches every deferred renderable whose load has finished.
// Entries whose node was detached, or whose identity isKnown no longer
// reports, are dropped silently.
func (b *Binder) ResolvePending(isKnown func(core.Identity) bool) []Resolution {
	done := b.pending.Retain(func(p pendingAttach) bool {
		return p.handle.Status() == assets.StatusPending && !p.target.detached && isKnown(p.root.Identity)
	})

	var out []Resolution
	for _, p := range done {
		res := Resolution{Identity: p.root.Identity, Role: p.target.Role, AssetKey: p.handle.Key()}
		status, r, err := p.handle.Poll()
		switch {
		case p.target.detached || !isKnown(p.root.Identity):
			res.Outcome = OutcomeStale
			b.logger.Debug("dropping stale attachment", "marker", res.Identity, "asset", res.AssetKey)
		case status == assets.StatusFailed:
			res.Outcome, res.Err = OutcomeFailed, err
			b.logger.Warn("renderable unavailable", "marker", res.Identity, "asset", res.AssetKey, "error", err)
		default:
			if serr := b.graph.SetRenderable(p.target, r); serr != nil {
				res.Outcome, res.Err = OutcomeFailed, serr
				b.logger.Warn("setting renderable", "marker", res.Identity, "asset", res.AssetKey, "error", serr)
				break
			}
			p.target.Renderable = r
			res.Outcome = OutcomeAttached
		}
		out = append(out, res)
	}
	return out
}

// Pending returns the number of attachments waiting on a load.
func (b *Binder) Pending() int {
	return b.pending.Len()
}

// Detach removes the node and its children from the graph. Detaching an
// already detached node is a no-op and returns false.
func (b *Binder) Detach(n *Node) bool {
	if n == nil || n.detached {
		return false
	}
	var errs []error
	for _, c := range n.Children() {
		if err := b.graph.RemoveNode(c); err != nil {
			errs = append(errs, err)
		}
		c.detached = true
	}
	if err := b.graph.RemoveNode(n); err != nil {
		errs = append(errs, err)
	}
	n.detached = true
	if n.Surface != nil && n.Surface.Material != nil {
		n.Surface.Material.Texture = nil
	}
	if err := errors.Join(errs...); err != nil {
		b.logger.Warn("detaching node", "marker", n.Identity, "error", err)
	}
	return true
}

// DetachSurface removes n's video surface and drops its texture, leaving the
// anchor and model attached. It returns false when n has no surface.
func (b *Binder) DetachSurface(n *Node) bool {
	if n == nil || n.Surface == nil {
		return false
	}
	s := n.Surface
	n.Surface = nil
	if !s.detached {
		if err := b.graph.RemoveNode(s); err != nil {
			b.logger.Warn("detaching video surface", "marker", n.Identity, "error", err)
		}
		s.detached = true
	}
	if s.Material != nil {
		s.Material.Texture = nil
	}
	return true
}

func (b *Binder) rollback(root *Node) {
	if err := b.graph.RemoveNode(root); err != nil {
		b.logger.Warn("rolling back anchor node", "marker", root.Identity, "error", err)
	}
	root.detached = true
}
