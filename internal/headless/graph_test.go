package headless

import (
	"testing"

	"github.com/anchorcast/anchorcast/internal/scene"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(role scene.Role, parent *scene.Node) *scene.Node {
	return &scene.Node{ID: uuid.New(), Identity: "m1", Role: role, Parent: parent}
}

func TestGraph_AddAndRemove(t *testing.T) {
	g := NewGraph(nil)
	root := node(scene.RoleAnchor, nil)
	child := node(scene.RoleModel, root)

	require.NoError(t, g.AddNode(root))
	require.NoError(t, g.AddNode(child))
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []*scene.Node{root}, g.Anchors())

	require.NoError(t, g.RemoveNode(child))
	require.NoError(t, g.RemoveNode(root))
	assert.Equal(t, 0, g.Len())
	assert.Error(t, g.RemoveNode(root))
}

func TestGraph_RejectsDuplicatesAndOrphans(t *testing.T) {
	g := NewGraph(nil)
	root := node(scene.RoleAnchor, nil)

	require.NoError(t, g.AddNode(root))
	assert.Error(t, g.AddNode(root))
	assert.Error(t, g.AddNode(node(scene.RoleModel, node(scene.RoleAnchor, nil))))
}

func TestGraph_SetAnchorAndRenderable(t *testing.T) {
	g := NewGraph(nil)
	root := node(scene.RoleAnchor, nil)
	pose := core.Pose{Position: core.Vec3{X: 1}, Rotation: core.IdentityQuat}

	assert.Error(t, g.SetAnchor(root, pose))
	assert.Error(t, g.SetRenderable(root, Builtin("x")))

	require.NoError(t, g.AddNode(root))
	require.NoError(t, g.SetAnchor(root, pose))
	assert.Equal(t, pose, root.Anchor)
	assert.NoError(t, g.SetRenderable(root, Builtin("x")))
}
