package assets

import (
	"sync"
	"time"
)

// Status is the resolution state of a Handle.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Renderable is a loaded 3D asset that can be attached to a scene node.
type Renderable interface {
	AssetKey() string
}

// Handle is a deferred renderable. It is shared by every marker whose
// configuration names the same asset key and resolves exactly once.
type Handle struct {
	key     string
	created time.Time
	done    chan struct{}
	once    sync.Once

	mu         sync.RWMutex
	status     Status
	renderable Renderable
	err        error
}

func newHandle(key string) *Handle {
	return &Handle{key: key, created: time.Now(), done: make(chan struct{})}
}

// Key returns the asset key being loaded.
func (h *Handle) Key() string {
	return h.key
}

// Poll reports the current state without blocking.
func (h *Handle) Poll() (Status, Renderable, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.renderable, h.err
}

// Status returns only the resolution state.
func (h *Handle) Status() Status {
	s, _, _ := h.Poll()
	return s
}

// Done is closed once the handle is Ready or Failed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// resolve settles the handle. Only the first call has any effect.
func (h *Handle) resolve(r Renderable, err error) bool {
	settled := false
	h.once.Do(func() {
		h.mu.Lock()
		if err != nil {
			h.status, h.err = StatusFailed, err
		} else {
			h.status, h.renderable = StatusReady, r
		}
		h.mu.Unlock()
		close(h.done)
		settled = true
	})
	return settled
}
