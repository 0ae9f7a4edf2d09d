// Package scene creates and destroys the anchor-rooted nodes that show a
// marker's model and, for video markers, its chroma-keyed video plane.
package scene

import (
	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
)

// Role distinguishes the nodes making up one marker's subtree.
type Role string

const (
	RoleAnchor  Role = "anchor"
	RoleModel   Role = "model"
	RoleSurface Role = "surface"
)

// Transform is a node's transform relative to its parent.
type Transform struct {
	Position core.Vec3
	Rotation core.Quat
	Scale    core.Vec3
}

// Material describes how the surface node samples its video texture.
type Material struct {
	Texture  any
	KeyColor [3]float32
}

// ChromaKeyColor is the green removed from video frames.
var ChromaKeyColor = [3]float32{0.1843, 1.0, 0.098}

// Node is a scene-graph node owned by the Binder. The anchor node is the
// root of a marker's subtree; Model and Surface are its children.
type Node struct {
	ID         uuid.UUID
	Identity   core.Identity
	Role       Role
	Parent     *Node
	Anchor     core.Pose
	Extent     core.Extent
	Local      Transform
	Renderable assets.Renderable
	Material   *Material

	Model   *Node
	Surface *Node

	detached bool
}

func newNode(id core.Identity, role Role, parent *Node) *Node {
	return &Node{
		ID:       uuid.New(),
		Identity: id,
		Role:     role,
		Parent:   parent,
		Local:    Transform{Rotation: core.IdentityQuat, Scale: core.Vec3{X: 1, Y: 1, Z: 1}},
	}
}

// Detached reports whether the node has been removed from the graph.
func (n *Node) Detached() bool {
	return n.detached
}

// Children returns the model and surface children that exist.
func (n *Node) Children() []*Node {
	var out []*Node
	if n.Model != nil {
		out = append(out, n.Model)
	}
	if n.Surface != nil {
		out = append(out, n.Surface)
	}
	return out
}

// HasRenderable reports whether the model child has its renderable.
func (n *Node) HasRenderable() bool {
	return n.Model != nil && n.Model.Renderable != nil
}
