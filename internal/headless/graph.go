// Package headless provides in-process stand-ins for the renderer, asset
// store, media player and camera so traces can be replayed without hardware.
package headless

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/internal/scene"
	"github.com/anchorcast/anchorcast/pkg/core"
	"github.com/google/uuid"
)

// Graph is an in-memory scene graph.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[uuid.UUID]*scene.Node
	logger *slog.Logger
}

// NewGraph creates an empty Graph.
func NewGraph(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{nodes: make(map[uuid.UUID]*scene.Node), logger: logger}
}

func (g *Graph) AddNode(n *scene.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("node %s already in graph", n.ID)
	}
	if n.Parent != nil {
		if _, ok := g.nodes[n.Parent.ID]; !ok {
			return fmt.Errorf("parent %s of node %s not in graph", n.Parent.ID, n.ID)
		}
	}
	g.nodes[n.ID] = n
	g.logger.Debug("node added", "node", n.ID, "marker", n.Identity, "role", n.Role)
	return nil
}

func (g *Graph) RemoveNode(n *scene.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; !ok {
		return fmt.Errorf("node %s not in graph", n.ID)
	}
	delete(g.nodes, n.ID)
	g.logger.Debug("node removed", "node", n.ID, "marker", n.Identity, "role", n.Role)
	return nil
}

func (g *Graph) SetAnchor(n *scene.Node, pose core.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; !ok {
		return fmt.Errorf("node %s not in graph", n.ID)
	}
	n.Anchor = pose
	return nil
}

func (g *Graph) SetRenderable(n *scene.Node, r assets.Renderable) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[n.ID]; !ok {
		return fmt.Errorf("node %s not in graph", n.ID)
	}
	g.logger.Debug("renderable set", "node", n.ID, "marker", n.Identity, "asset", r.AssetKey())
	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Anchors returns the anchor nodes currently in the graph.
func (g *Graph) Anchors() []*scene.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*scene.Node
	for _, n := range g.nodes {
		if n.Role == scene.RoleAnchor {
			out = append(out, n)
		}
	}
	return out
}
