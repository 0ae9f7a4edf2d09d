// Package assets resolves marker configurations to renderables on background workers.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anchorcast/anchorcast/internal/queue"
	"github.com/anchorcast/anchorcast/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrAssetLoadFailed wraps every error a Failed handle carries.
	ErrAssetLoadFailed = errors.New("asset load failed")
	// ErrLoadTimeout is returned for loads that exceed the configured timeout.
	ErrLoadTimeout = errors.New("asset load timed out")
	// ErrLoaderClosed is returned for loads still queued when the loader closes.
	ErrLoaderClosed = errors.New("asset loader closed")
)

// Store is the asset-store collaborator. ResolveAsset should return once ctx
// is done; a load abandoned on timeout keeps its goroutine until it does.
type Store interface {
	ResolveAsset(ctx context.Context, key string) (Renderable, error)
}

// Catalog maps a config index to its marker configuration.
type Catalog interface {
	Lookup(index int) (core.MarkerConfig, error)
}

// Options tunes the loader.
type Options struct {
	Workers int
	// Timeout fails a load that takes longer. Zero disables it.
	Timeout time.Duration
}

// Loader schedules asset loads and caches their handles by asset key.
type Loader struct {
	store   Store
	catalog Catalog
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	byKey   map[string]*Handle
	byIndex map[int]*Handle

	jobs     *queue.Queue[*Handle]
	wake     chan struct{}
	inflight atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	requested metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewLoader starts opts.Workers background workers.
func NewLoader(store Store, catalog Catalog, logger *slog.Logger, opts Options) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		store:   store,
		catalog: catalog,
		logger:  logger,
		timeout: opts.Timeout,
		byKey:   make(map[string]*Handle),
		byIndex: make(map[int]*Handle),
		jobs:    queue.New[*Handle](),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	m := meter()
	var err error
	l.requested, err = m.Int64Counter("assets.loads.requested",
		metric.WithDescription("Asset loads scheduled"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating requested counter: %w", err)
	}
	l.failed, err = m.Int64Counter("assets.loads.failed",
		metric.WithDescription("Asset loads that ended Failed"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	l.duration, err = m.Float64Histogram("assets.load.duration",
		metric.WithDescription("Asset load duration"),
		metric.WithUnit("ms"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	for i := 0; i < opts.Workers; i++ {
		l.workers.Add(1)
		go l.work()
	}
	return l, nil
}

// Load returns the handle for the asset configured at index, scheduling the
// load on first use. It never blocks on the load itself.
func (l *Loader) Load(index int) (*Handle, error) {
	l.mu.Lock()
	if h, ok := l.byIndex[index]; ok {
		l.mu.Unlock()
		return h, nil
	}
	l.mu.Unlock()

	cfg, err := l.catalog.Lookup(index)
	if err != nil {
		return nil, err
	}

	h := l.LoadKey(cfg.AssetKey)
	l.mu.Lock()
	l.byIndex[index] = h
	l.mu.Unlock()
	return h, nil
}

// LoadKey returns the handle for an asset key, scheduling the load on first use.
func (l *Loader) LoadKey(key string) *Handle {
	l.mu.Lock()
	if h, ok := l.byKey[key]; ok {
		l.mu.Unlock()
		return h
	}
	h := newHandle(key)
	l.byKey[key] = h
	l.mu.Unlock()

	if key == "" {
		l.fail(h, fmt.Errorf("%w: empty asset key", ErrAssetLoadFailed))
		return h
	}
	if l.ctx.Err() != nil {
		l.fail(h, fmt.Errorf("%w %q: %w", ErrAssetLoadFailed, key, ErrLoaderClosed))
		return h
	}

	l.requested.Add(context.Background(), 1)
	l.inflight.Add(1)
	l.jobs.Push(h)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

// Poll reports the status of h. A nil handle, as returned with an error by
// Load, counts as Failed.
func (l *Loader) Poll(h *Handle) Status {
	if h == nil {
		return StatusFailed
	}
	return h.Status()
}

// Pending returns the number of scheduled loads that have not settled,
// whether still queued or running on a worker.
func (l *Loader) Pending() int {
	return int(l.inflight.Load())
}

// Close stops the workers. Loads still queued fail with ErrLoaderClosed.
func (l *Loader) Close() {
	l.cancel()
	l.workers.Wait()
	for _, h := range l.jobs.GetAndEmpty() {
		l.fail(h, fmt.Errorf("%w %q: %w", ErrAssetLoadFailed, h.key, ErrLoaderClosed))
		l.inflight.Add(-1)
	}
}

func (l *Loader) work() {
	defer l.workers.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}

		for {
			h, ok := l.jobs.TryPop()
			if !ok {
				break
			}
			// Let the other workers share the backlog.
			if !l.jobs.Empty() {
				select {
				case l.wake <- struct{}{}:
				default:
				}
			}
			l.run(h)
			if l.ctx.Err() != nil {
				return
			}
		}
	}
}

type result struct {
	r   Renderable
	err error
}

// run resolves h. The timeout counts from when the load was requested, so
// time spent queued behind other loads is included.
func (l *Loader) run(h *Handle) {
	defer l.inflight.Add(-1)

	ctx := l.ctx
	if l.timeout > 0 {
		deadline := h.created.Add(l.timeout)
		if !time.Now().Before(deadline) {
			l.fail(h, fmt.Errorf("%w %q: %w", ErrAssetLoadFailed, h.key, ErrLoadTimeout))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	start := time.Now()
	out := make(chan result, 1)
	go func() {
		r, err := l.store.ResolveAsset(ctx, h.key)
		out <- result{r, err}
	}()

	var res result
	select {
	case res = <-out:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = ErrLoadTimeout
		} else {
			res.err = ErrLoaderClosed
		}
	}

	l.duration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("asset", h.key)))

	switch {
	case res.err != nil:
		l.fail(h, fmt.Errorf("%w %q: %w", ErrAssetLoadFailed, h.key, res.err))
	case res.r == nil:
		l.fail(h, fmt.Errorf("%w %q: store returned no renderable", ErrAssetLoadFailed, h.key))
	default:
		h.resolve(res.r, nil)
		l.logger.Debug("asset ready", "asset", h.key, "duration", time.Since(start))
	}
}

func (l *Loader) fail(h *Handle, err error) {
	if h.resolve(nil, err) {
		l.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("asset", h.key)))
		l.logger.Warn("asset load failed", "asset", h.key, "error", err)
	}
}
