// Package tracking drives the per-marker lifecycle from tracking updates:
// asset loading, exclusive media and scene attachment follow each marker's
// Paused, Tracking and Stopped transitions.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anchorcast/anchorcast/internal/assets"
	"github.com/anchorcast/anchorcast/internal/dispatcher"
	"github.com/anchorcast/anchorcast/internal/journal"
	"github.com/anchorcast/anchorcast/internal/logging"
	"github.com/anchorcast/anchorcast/internal/media"
	"github.com/anchorcast/anchorcast/internal/registry"
	"github.com/anchorcast/anchorcast/internal/scene"
	"github.com/anchorcast/anchorcast/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Router kinds observations are dispatched under, one per tracking state.
const (
	KindPaused   = "marker.paused"
	KindTracking = "marker.tracking"
	KindStopped  = "marker.stopped"
)

// Dependencies holds the collaborators of a Dispatcher.
type Dependencies struct {
	Router   *dispatcher.Dispatcher
	Catalog  Catalog
	Loader   *assets.Loader
	Media    *media.Manager
	Registry *registry.Registry
	Binder   *scene.Binder
	Notifier Notifier
	Surfaces SurfaceFunc
	Logger   *slog.Logger
	// SessionID stamps journal events.
	SessionID string
}

// TickStats summarizes one processed frame.
type TickStats struct {
	Frame        uint64
	Observations int
	Failures     int
	Resolved     int
	Registered   int
	PendingLoads int
	MediaOwner   core.Identity
	MediaKind    core.MediaKind
	Duration     time.Duration
}

type marker struct {
	state       core.TrackingState
	configIndex int
	// rejected is set when the config index could not be resolved, so the
	// sighting is not retried every frame.
	rejected bool
}

type observation struct {
	ctx   context.Context
	frame uint64
	obs   core.MarkerObservation
}

// Dispatcher consumes frames on a single goroutine. It is not safe for
// concurrent use.
type Dispatcher struct {
	deps    Dependencies
	logger  *slog.Logger
	markers map[core.Identity]*marker
	hint    bool

	observed metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Dispatcher and registers its per-state handlers on the router.
func New(deps Dependencies) (*Dispatcher, error) {
	if deps.Router == nil || deps.Catalog == nil || deps.Loader == nil ||
		deps.Media == nil || deps.Registry == nil || deps.Binder == nil {
		return nil, errors.New("tracking dispatcher: missing dependency")
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	d := &Dispatcher{
		deps:    deps,
		logger:  deps.Logger,
		markers: make(map[core.Identity]*marker),
	}

	m := meter()
	var err error
	d.observed, err = m.Int64Counter("tracking.observations",
		metric.WithDescription("Marker observations processed"))
	if err != nil {
		return nil, fmt.Errorf("creating observations counter: %w", err)
	}
	d.failures, err = m.Int64Counter("tracking.failures",
		metric.WithDescription("Marker observations whose handling failed"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	d.duration, err = m.Float64Histogram("tracking.tick.duration",
		metric.WithDescription("Frame processing duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating tick duration histogram: %w", err)
	}

	deps.Router.Register(KindPaused, d.handlePaused, dispatcher.Recovered())
	deps.Router.Register(KindTracking, d.handleTracking, dispatcher.Recovered())
	deps.Router.Register(KindStopped, d.handleStopped, dispatcher.Recovered())
	return d, nil
}

// Start shows the scan hint while nothing is attached yet.
func (d *Dispatcher) Start() {
	if d.deps.Registry.Len() == 0 {
		d.setHint(true)
	}
}

// State returns the lifecycle state of id. Unseen markers report false.
func (d *Dispatcher) State(id core.Identity) (core.TrackingState, bool) {
	m, ok := d.markers[id]
	if !ok {
		return 0, false
	}
	return m.state, true
}

// Tick processes the source's current frame.
func (d *Dispatcher) Tick(ctx context.Context, src FrameSource) TickStats {
	return d.ProcessFrame(ctx, src.CurrentFrame())
}

// ProcessFrame applies every observation of frame in order, then retries
// deferred renderable attachments. A nil frame, or one taken while the
// camera was not tracking, changes nothing.
func (d *Dispatcher) ProcessFrame(ctx context.Context, frame *core.Frame) TickStats {
	start := time.Now()
	stats := TickStats{}
	if frame == nil || !frame.CameraTracking {
		return d.finish(stats, start)
	}
	stats.Frame = frame.Sequence
	stats.Observations = len(frame.Observations)
	ctx = logging.WithFrame(ctx, frame.Sequence)

	for _, obs := range frame.Observations {
		kind, ok := kindOf(obs.State)
		if !ok {
			d.logger.WarnContext(ctx, "ignoring observation with unknown state", "marker", obs.Identity, "state", obs.State)
			continue
		}
		d.observed.Add(ctx, 1, metric.WithAttributes(attribute.String("state", obs.State.String())))

		_, err := d.deps.Router.Dispatch(dispatcher.Event{
			Kind:      kind,
			Payload:   observation{ctx: logging.WithMarker(ctx, string(obs.Identity)), frame: frame.Sequence, obs: obs},
			Timestamp: frame.Timestamp,
		})
		if err != nil {
			stats.Failures++
			d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("state", obs.State.String())))
			d.logger.ErrorContext(ctx, "handling observation", "marker", obs.Identity, "state", obs.State, "error", err)
		}
	}

	for _, res := range d.deps.Binder.ResolvePending(d.deps.Registry.IsKnown) {
		stats.Resolved++
		idx := -1
		if m, ok := d.markers[res.Identity]; ok {
			idx = m.configIndex
		}
		switch res.Outcome {
		case scene.OutcomeAttached:
			d.record(frame.Sequence, core.MarkerObservation{Identity: res.Identity, ConfigIndex: idx},
				core.EventRenderableAttached, string(res.Role)+" "+res.AssetKey)
		case scene.OutcomeFailed:
			d.record(frame.Sequence, core.MarkerObservation{Identity: res.Identity, ConfigIndex: idx},
				core.EventAssetFailed, errString(res.Err))
		}
	}

	stats.Registered = d.deps.Registry.Len()
	return d.finish(stats, start)
}

func (d *Dispatcher) finish(stats TickStats, start time.Time) TickStats {
	stats.PendingLoads = d.deps.Loader.Pending()
	if s := d.deps.Media.Active(); s != nil {
		stats.MediaOwner, stats.MediaKind = s.Owner, s.Kind
	}
	stats.Duration = time.Since(start)
	d.duration.Record(context.Background(), float64(stats.Duration.Microseconds())/1000)
	return stats
}

// Teardown detaches every registered marker and releases the media session,
// journalling each as detached. Per-marker state is forgotten.
func (d *Dispatcher) Teardown() {
	for _, node := range d.deps.Registry.Reset() {
		idx := -1
		if m, ok := d.markers[node.Identity]; ok {
			idx = m.configIndex
		}
		obs := core.MarkerObservation{Identity: node.Identity, ConfigIndex: idx}
		if d.deps.Binder.Detach(node) {
			d.record(0, obs, core.EventDetached, "teardown")
		}
		if d.deps.Media.ReleaseIfOwner(node.Identity) {
			d.record(0, obs, core.EventMediaReleased, "teardown")
		}
	}
	clear(d.markers)
}

// Run ticks every interval until ctx is done. onTick may be nil.
func (d *Dispatcher) Run(ctx context.Context, src FrameSource, interval time.Duration, onTick func(TickStats)) error {
	d.Start()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := d.Tick(ctx, src)
			if onTick != nil {
				onTick(stats)
			}
		}
	}
}

func kindOf(s core.TrackingState) (string, bool) {
	switch s {
	case core.Paused:
		return KindPaused, true
	case core.Tracking:
		return KindTracking, true
	case core.Stopped:
		return KindStopped, true
	}
	return "", false
}

func payload(e dispatcher.Event) (observation, error) {
	o, ok := e.Payload.(observation)
	if !ok {
		return observation{}, fmt.Errorf("unexpected %s payload %T", e.Kind, e.Payload)
	}
	return o, nil
}

func (d *Dispatcher) handlePaused(e dispatcher.Event) (any, error) {
	o, err := payload(e)
	if err != nil {
		return nil, err
	}
	m := d.markers[o.obs.Identity]
	if m == nil {
		m = &marker{}
		d.markers[o.obs.Identity] = m
	}
	m.state = core.Paused
	m.configIndex = o.obs.ConfigIndex

	d.deps.Notifier.Detected(o.obs)
	d.record(o.frame, o.obs, core.EventDetected, "")
	return nil, nil
}

func (d *Dispatcher) handleTracking(e dispatcher.Event) (any, error) {
	o, err := payload(e)
	if err != nil {
		return nil, err
	}
	obs := o.obs
	m := d.markers[obs.Identity]
	if m == nil {
		m = &marker{}
		d.markers[obs.Identity] = m
	}
	prev := m.state
	m.state = core.Tracking
	m.configIndex = obs.ConfigIndex

	if d.deps.Registry.IsKnown(obs.Identity) {
		return nil, nil
	}
	if m.rejected && prev == core.Tracking {
		return nil, nil
	}
	m.rejected = false

	cfg, err := d.deps.Catalog.Lookup(obs.ConfigIndex)
	if err != nil {
		m.rejected = true
		d.record(o.frame, obs, core.EventConfigOutOfRange, err.Error())
		d.logger.WarnContext(o.ctx, "marker has no configuration", "index", obs.ConfigIndex, "error", err)
		return nil, nil
	}

	d.setHint(false)

	handle, err := d.deps.Loader.Load(obs.ConfigIndex)
	if d.deps.Loader.Poll(handle) == assets.StatusFailed {
		if err == nil {
			// cached from an earlier sighting; the binder will not retry it
			_, _, err = handle.Poll()
		}
		d.record(o.frame, obs, core.EventAssetFailed, err.Error())
		d.logger.WarnContext(o.ctx, "requesting asset", "asset", cfg.AssetKey, "error", err)
	}

	var session *media.Session
	if cfg.MediaKind.HasMedia() {
		session = d.requestMedia(o, cfg)
	}

	req := scene.AttachRequest{
		Identity:   obs.Identity,
		Pose:       obs.Pose,
		Extent:     obs.Extent,
		Placement:  scene.PlacementOf(cfg),
		Renderable: handle,
		Session:    session,
	}
	if session != nil && session.Kind == core.MediaVideo {
		req.VideoPlane = d.deps.Loader.LoadKey(d.deps.Catalog.VideoPlane())
	}

	node, err := d.deps.Binder.Attach(req)
	if err != nil {
		if d.deps.Media.ReleaseIfOwner(obs.Identity) {
			d.record(o.frame, obs, core.EventMediaReleased, "attach failed")
		}
		return nil, fmt.Errorf("attaching %s: %w", obs.Identity, err)
	}

	if old, replaced := d.deps.Registry.Bind(obs.Identity, node); replaced {
		d.deps.Binder.Detach(old)
	}
	d.record(o.frame, obs, core.EventAttached, cfg.AssetKey)
	if node.Model != nil && node.Model.HasRenderable() {
		d.record(o.frame, obs, core.EventRenderableAttached, string(scene.RoleModel)+" "+cfg.AssetKey)
	}
	d.logger.DebugContext(o.ctx, "marker attached", "index", obs.ConfigIndex, "asset", cfg.AssetKey)
	return node, nil
}

// requestMedia makes obs the media owner. A previous owner evicted by the
// request keeps its node but loses its video surface.
func (d *Dispatcher) requestMedia(o observation, cfg core.MarkerConfig) *media.Session {
	obs := o.obs
	prevOwner, hadOwner := d.deps.Media.ActiveOwner()

	var surface any
	if d.deps.Surfaces != nil {
		surface = d.deps.Surfaces(obs.Identity, cfg)
	}
	session, err := d.deps.Media.RequestSession(o.ctx, obs.Identity, cfg.MediaKind, cfg.MediaKey, surface)

	if hadOwner && prevOwner != obs.Identity {
		if owner, ok := d.deps.Media.ActiveOwner(); !ok || owner != prevOwner {
			idx := -1
			if pm, ok := d.markers[prevOwner]; ok {
				idx = pm.configIndex
			}
			d.record(o.frame, core.MarkerObservation{Identity: prevOwner, ConfigIndex: idx},
				core.EventMediaReleased, "evicted by "+string(obs.Identity))
			// the evicted marker keeps its anchor and model, not the video plane
			if node, ok := d.deps.Registry.Get(prevOwner); ok {
				d.deps.Binder.DetachSurface(node)
			}
		}
	}

	if err != nil {
		d.record(o.frame, obs, core.EventMediaFailed, err.Error())
		d.logger.WarnContext(o.ctx, "starting media", "media", cfg.MediaKey, "error", err)
		return nil
	}
	if !hadOwner || prevOwner != obs.Identity {
		d.record(o.frame, obs, core.EventMediaStarted, string(cfg.MediaKind)+" "+cfg.MediaKey)
	}
	return session
}

func (d *Dispatcher) handleStopped(e dispatcher.Event) (any, error) {
	o, err := payload(e)
	if err != nil {
		return nil, err
	}
	obs := o.obs
	if _, seen := d.markers[obs.Identity]; !seen {
		return nil, nil
	}
	delete(d.markers, obs.Identity)

	if node, ok := d.deps.Registry.Unbind(obs.Identity); ok {
		d.deps.Binder.Detach(node)
		d.record(o.frame, obs, core.EventDetached, "")
	}
	if d.deps.Media.ReleaseIfOwner(obs.Identity) {
		d.record(o.frame, obs, core.EventMediaReleased, "stopped")
	}
	return nil, nil
}

func (d *Dispatcher) setHint(show bool) {
	if d.hint == show {
		return
	}
	d.hint = show
	d.deps.Notifier.ShowScanHint(show)
}

// record journals a lifecycle event when a journal route is registered.
func (d *Dispatcher) record(frame uint64, obs core.MarkerObservation, kind core.LifecycleKind, detail string) {
	if !d.deps.Router.HasHandler(journal.EventKind) {
		return
	}
	ev := core.LifecycleEvent{
		SessionID:   d.deps.SessionID,
		Time:        time.Now(),
		Frame:       frame,
		Identity:    obs.Identity,
		ConfigIndex: obs.ConfigIndex,
		Kind:        kind,
		Extent:      obs.Extent,
		Detail:      detail,
	}
	if kind == core.EventDetected || kind == core.EventAttached {
		pose := obs.Pose
		ev.Pose = &pose
	}
	if _, err := d.deps.Router.Dispatch(dispatcher.Event{Kind: journal.EventKind, Payload: ev, Timestamp: ev.Time}); err != nil {
		d.logger.Debug("journal event not queued", "kind", kind, "marker", obs.Identity, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
