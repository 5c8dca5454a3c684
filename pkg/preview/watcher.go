package preview

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// Debounce windows of the watcher.
const (
	ReconcileDelay = 100 * time.Millisecond
	ResizeDelay    = 200 * time.Millisecond
)

const (
	reconcileKey = "reconcile"
	resizeKey    = "resize"
)

// State is the reconciliation state of a Watcher.
type State int

const (
	Idle State = iota
	ReconcilePending
	Reconciling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReconcilePending:
		return "reconcile-pending"
	case Reconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// Watcher keeps the diagrams of a document rendered and interactive.
//
// It observes the document for added diagram containers and theme flips,
// coalesces bursts of changes into one reconciliation pass, and runs
// passes one at a time. Within a pass containers are processed
// sequentially in document order.
type Watcher struct {
	doc            *dom.Document
	coord          *Coordinator
	att            *Attacher
	deb            *Debouncer
	logger         *log.Logger
	reconcileDelay time.Duration
	resizeDelay    time.Duration

	mu        sync.Mutex
	defaults  Config
	running   bool
	state     State
	rerun     bool
	themeFlip bool
	dark      bool
	removed   []*html.Node
	stopObs   func()
	ctx       context.Context
	cancel    context.CancelFunc
	idle      chan struct{}
	passes    sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReconcileDelay replaces the 100ms reconciliation window.
func WithReconcileDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.reconcileDelay = d }
}

// WithResizeDelay replaces the 200ms resize window.
func WithResizeDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.resizeDelay = d }
}

// WithDefaults sets the configuration container blobs are overlaid on.
func WithDefaults(cfg Config) WatcherOption {
	return func(w *Watcher) { w.defaults = cfg }
}

// NewWatcher wires a watcher over doc. It does nothing until Start.
func NewWatcher(doc *dom.Document, coord *Coordinator, att *Attacher, logger *log.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	idle := make(chan struct{})
	close(idle)
	w := &Watcher{
		doc:            doc,
		coord:          coord,
		att:            att,
		deb:            NewDebouncer(),
		logger:         logger,
		reconcileDelay: ReconcileDelay,
		resizeDelay:    ResizeDelay,
		defaults:       DefaultConfig(),
		idle:           idle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching and schedules the initial reconciliation. Starting
// a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.dark = w.doc.IsDark()
	w.deb.Reset()
	w.stopObs = w.doc.Observe(w.onRecords)
	w.logger.Info("watching document", "diagrams", len(w.doc.Containers()), "dark", w.dark)
	w.scheduleLocked(w.reconcileDelay)
}

// Stop disconnects observation, waits for a running pass and tears down
// every controller. Stopping a stopped watcher is a no-op.
func (w *Watcher) Stop(ctx context.Context) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.stopObs()
	w.cancel()
	w.deb.Stop()
	w.mu.Unlock()

	w.passes.Wait()
	n := w.att.DetachAll(ctx)

	w.mu.Lock()
	w.setStateLocked(Idle)
	w.rerun, w.themeFlip, w.removed = false, false, nil
	w.mu.Unlock()
	w.logger.Info("stopped watching", "detached", n)
}

// State returns the current reconciliation state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WaitIdle blocks until no pass is pending or running.
func (w *Watcher) WaitIdle(ctx context.Context) error {
	for {
		w.mu.Lock()
		ch := w.idle
		w.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		if w.State() == Idle {
			return nil
		}
	}
}

// SetDefaults replaces the configuration blobs are overlaid on. It applies
// to containers attached afterwards.
func (w *Watcher) SetDefaults(cfg Config) {
	w.mu.Lock()
	w.defaults = cfg
	w.mu.Unlock()
}

// ContentUpdated is the host's signal that the document was re-rendered.
func (w *Watcher) ContentUpdated() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(w.reconcileDelay)
}

// Resize records a new visible area. Controllers are resized once the
// window settles.
func (w *Watcher) Resize(v panzoom.Size) {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}
	w.deb.Trigger(resizeKey, w.resizeDelay, func() {
		w.att.SetViewport(v)
		w.att.ResizeAll()
		w.logger.Debug("resized diagrams", "width", v.Width, "height", v.Height)
	})
}

func (w *Watcher) setStateLocked(s State) {
	if w.state == Idle && s != Idle {
		w.idle = make(chan struct{})
	}
	if w.state != Idle && s == Idle {
		close(w.idle)
	}
	w.state = s
}

func (w *Watcher) scheduleLocked(delay time.Duration) {
	if !w.running {
		return
	}
	switch w.state {
	case Reconciling:
		w.rerun = true
		return
	case Idle:
		w.setStateLocked(ReconcilePending)
	}
	w.deb.Trigger(reconcileKey, delay, w.runPass)
}

func (w *Watcher) onRecords(recs []dom.Record) {
	qualifies := false
	var removed []*html.Node
	themeChanged := false
	for _, rec := range recs {
		switch {
		case w.doc.IsThemeRecord(rec):
			themeChanged = true
		case rec.Op == dom.OpInsert:
			if !qualifies && len(w.doc.CollectContainers(rec.Nodes)) > 0 {
				qualifies = true
			}
		case rec.Op == dom.OpRemove:
			for _, c := range w.doc.CollectContainers(rec.Nodes) {
				if w.att.HasPanZoom(c) {
					removed = append(removed, c)
				}
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.removed = append(w.removed, removed...)
	if themeChanged {
		if dark := w.doc.IsDark(); dark != w.dark {
			w.dark = dark
			w.themeFlip = true
			w.logger.Info("theme changed", "dark", dark)
			w.scheduleLocked(0)
			return
		}
	}
	if qualifies || len(removed) > 0 {
		w.scheduleLocked(w.reconcileDelay)
	}
}

func (w *Watcher) runPass() {
	w.mu.Lock()
	if !w.running || w.state != ReconcilePending {
		w.mu.Unlock()
		return
	}
	w.setStateLocked(Reconciling)
	flip := w.themeFlip
	w.themeFlip = false
	removed := w.removed
	w.removed = nil
	ctx := w.ctx
	w.passes.Add(1)
	w.mu.Unlock()

	func() {
		defer w.passes.Done()
		for _, c := range removed {
			if !w.doc.Contains(c) {
				w.att.Detach(ctx, c)
			}
		}
		if flip {
			n := w.att.DetachAll(ctx)
			w.logger.Debug("theme flip teardown", "detached", n)
		}
		w.pass(ctx, w.doc.Containers(), flip)
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.rerun || w.themeFlip {
		w.rerun = false
		w.setStateLocked(ReconcilePending)
		delay := w.reconcileDelay
		if w.themeFlip {
			delay = 0
		}
		w.deb.Trigger(reconcileKey, delay, w.runPass)
		return
	}
	w.setStateLocked(Idle)
}

// Reconcile processes containers in order: each is rendered if needed and
// then attached, with its position in the slice as its index. Failures are
// logged and counted; they never stop the pass.
func (w *Watcher) Reconcile(ctx context.Context, containers []*html.Node) (attached, failed int) {
	return w.pass(ctx, containers, false)
}

func (w *Watcher) pass(ctx context.Context, containers []*html.Node, force bool) (attached, failed int) {
	start := time.Now()
	hooks := observability.Preview()
	hooks.OnReconcileStart(ctx, len(containers))

	w.mu.Lock()
	defaults := w.defaults
	w.mu.Unlock()

	for i, c := range containers {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.process(ctx, c, i, defaults, force)
		switch {
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			failed++
			w.logger.Warn("diagram failed", "index", i, "err", err)
		case ok:
			attached++
		}
	}

	hooks.OnReconcileComplete(ctx, attached, failed, time.Since(start))
	w.logger.Debug("reconciled", "containers", len(containers), "attached", attached, "failed", failed, "took", time.Since(start).Round(time.Millisecond))
	return attached, failed
}

// process reports whether container ended up with a controller.
func (w *Watcher) process(ctx context.Context, c *html.Node, index int, defaults Config, force bool) (bool, error) {
	if !force && w.att.HasPanZoom(c) {
		return true, nil
	}
	cfg, err := ParseConfig(w.doc.ConfigBlob(c), defaults)
	if err != nil {
		w.logger.Warn("bad diagram config, using defaults", "index", index, "err", err)
	}
	source := w.doc.Source(c)
	if source == "" {
		w.logger.Warn("diagram container has no source", "index", index)
		return false, nil
	}

	render := w.coord.EnsureRendered
	if force {
		render = w.coord.ForceRender
	}
	img, err := render(ctx, c, source, cfg)
	if err != nil {
		return false, err
	}
	if img == nil {
		return false, nil
	}
	ctrl, err := w.att.Attach(ctx, c, img, cfg, index, source)
	if err != nil {
		return false, err
	}
	return ctrl != nil, nil
}
