// Package registry maps live marker identities to their attached scene node.
package registry

import (
	"sort"
	"sync"

	"github.com/anchorcast/anchorcast/internal/scene"
	"github.com/anchorcast/anchorcast/pkg/core"
)

// Registry is written only from the tick goroutine; the lock lets other
// goroutines read it for status and invariant checks.
type Registry struct {
	mu    sync.RWMutex
	nodes map[core.Identity]*scene.Node
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		nodes: make(map[core.Identity]*scene.Node),
	}
}

// IsKnown reports whether id already has an attached node.
func (r *Registry) IsKnown(id core.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Bind records node as id's attached node, returning any node it replaced.
func (r *Registry) Bind(id core.Identity, node *scene.Node) (*scene.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.nodes[id]
	r.nodes[id] = node
	return prev, ok
}

// Unbind removes id and returns its node.
func (r *Registry) Unbind(id core.Identity) (*scene.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if ok {
		delete(r.nodes, id)
	}
	return n, ok
}

// Get returns id's node.
func (r *Registry) Get(id core.Identity) (*scene.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Identities returns the bound identities in sorted order.
func (r *Registry) Identities() []core.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.Identity, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset empties the registry and returns the nodes it held.
func (r *Registry) Reset() []*scene.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*scene.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	r.nodes = make(map[core.Identity]*scene.Node)
	return out
}
