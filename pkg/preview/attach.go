package preview

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
	"github.com/matzehuels/diagramzoom/pkg/registry"
	"github.com/matzehuels/diagramzoom/pkg/viewstate"
)

// SaveDelay is the debounce window of view-state saves.
const SaveDelay = 100 * time.Millisecond

// DefaultViewport is the visible area assumed until the host reports one.
var DefaultViewport = panzoom.Size{Width: 800, Height: 600}

// Instance is one attached diagram. It refers to its container only
// weakly, so registering it does not keep the container alive.
type Instance struct {
	Controller panzoom.Instance
	Surface    *dom.Surface
	// Key is the view-state key at attach time.
	Key    viewstate.Key
	Source string
	Config Config

	saveKey string
	label   weak.Pointer[html.Node]
}

// Attacher attaches pan-zoom controllers to rendered containers and tears
// them down again.
type Attacher struct {
	doc       *dom.Document
	store     *viewstate.Store
	reg       *registry.Registry[html.Node, *Instance]
	factory   panzoom.Factory
	deb       *Debouncer
	saveDelay time.Duration
	logger    *log.Logger
	fs        *Fullscreen
	onExport  ExportFunc
	seq       atomic.Uint64

	mu       sync.Mutex
	viewport panzoom.Size
}

// AttachOption configures an Attacher.
type AttachOption func(*Attacher)

// WithFactory replaces the controller constructor.
func WithFactory(f panzoom.Factory) AttachOption {
	return func(a *Attacher) { a.factory = f }
}

// WithSaveDelay replaces the save debounce window.
func WithSaveDelay(d time.Duration) AttachOption {
	return func(a *Attacher) { a.saveDelay = d }
}

// WithViewport sets the initial visible area.
func WithViewport(v panzoom.Size) AttachOption {
	return func(a *Attacher) { a.viewport = v }
}

// WithDebouncer shares a debouncer with other components.
func WithDebouncer(d *Debouncer) AttachOption {
	return func(a *Attacher) { a.deb = d }
}

// WithFullscreen enables the fullscreen action.
func WithFullscreen(fs *Fullscreen) AttachOption {
	return func(a *Attacher) { a.fs = fs }
}

// WithExport enables the export action.
func WithExport(fn ExportFunc) AttachOption {
	return func(a *Attacher) { a.onExport = fn }
}

// NewAttacher returns an attacher saving views into store.
func NewAttacher(doc *dom.Document, store *viewstate.Store, logger *log.Logger, opts ...AttachOption) *Attacher {
	if logger == nil {
		logger = log.Default()
	}
	a := &Attacher{
		doc:       doc,
		store:     store,
		reg:       registry.New[html.Node, *Instance](),
		factory:   panzoom.NewInstance,
		saveDelay: SaveDelay,
		logger:    logger,
		viewport:  DefaultViewport,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.deb == nil {
		a.deb = NewDebouncer()
	}
	return a
}

// Viewport returns the visible area new surfaces are created with.
func (a *Attacher) Viewport() panzoom.Size {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewport
}

// SetViewport changes the visible area of new and existing surfaces.
// Follow up with ResizeAll.
func (a *Attacher) SetViewport(v panzoom.Size) {
	a.mu.Lock()
	a.viewport = v
	a.mu.Unlock()
	a.reg.Range(func(_ *html.Node, inst *Instance) bool {
		inst.Surface.SetViewport(v)
		return true
	})
}

// Attach makes the image of container interactive and returns its
// controller. It returns nil when cfg disables pan-zoom and the existing
// controller when container is already attached.
func (a *Attacher) Attach(ctx context.Context, container, img *html.Node, cfg Config, index int, source string) (panzoom.Instance, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if inst, ok := a.reg.Get(container); ok {
		return inst.Controller, nil
	}

	inst := &Instance{
		Key:     viewstate.NewKey(source, index),
		Source:  source,
		Config:  cfg,
		saveKey: "save:" + strconv.FormatUint(a.seq.Add(1), 10),
	}
	wc := weak.Make(container)

	opts := cfg.PanZoomOptions()
	opts.OnZoomChanged = func(z float64) {
		a.updateLabel(inst, z)
		a.scheduleSave(wc, inst)
	}
	opts.OnPanChanged = func(panzoom.Point) {
		a.scheduleSave(wc, inst)
	}

	surface := a.doc.NewSurface(img, a.Viewport())
	ctrl, err := a.factory(surface, opts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "create pan-zoom controller")
	}
	inst.Controller = ctrl
	inst.Surface = surface
	a.doc.StripSizing(img)
	wrapper := a.doc.WrapImage(img, dom.ClassWrapper)

	restored := a.store.Restore(inst.Key, ctrl)
	observability.Preview().OnRestore(ctx, inst.Key.String(), restored)
	if !restored {
		ctrl.Fit()
		ctrl.Center()
	}
	// positioning is not a user change
	a.deb.Cancel(inst.saveKey)

	if label := a.buildControls(wrapper, cfg); label != nil {
		inst.label = weak.Make(label)
		a.updateLabel(inst, ctrl.GetZoom())
	}

	a.reg.Register(container, inst)
	a.logger.Debug("diagram attached", "key", inst.Key, "restored", restored)
	return ctrl, nil
}

func (a *Attacher) scheduleSave(wc weak.Pointer[html.Node], inst *Instance) {
	a.deb.Trigger(inst.saveKey, a.saveDelay, func() {
		c := wc.Value()
		if c == nil {
			return
		}
		// the container may have been detached, or re-attached with a new
		// instance, since the save was scheduled
		if cur, ok := a.reg.Get(c); !ok || cur != inst {
			return
		}
		a.save(context.Background(), inst, inst.Key)
	})
}

func (a *Attacher) save(ctx context.Context, inst *Instance, key viewstate.Key) {
	st := viewstate.State{Zoom: inst.Controller.GetZoom(), Pan: inst.Controller.GetPan()}
	if !st.Valid() {
		err := errors.New(errors.ErrCodeSaveFailed, "invalid view %+v", st)
		a.logger.Warn("view state not saved", "key", key, "err", err)
		return
	}
	a.store.Save(key, st)
	observability.Preview().OnSave(ctx, key.String())
}

// Detach saves the final view of container, destroys its controller and
// forgets it. Detaching a container without a controller is a no-op.
//
// The view is saved under the container's current position, or under its
// attach-time position once it has left the document.
func (a *Attacher) Detach(ctx context.Context, container *html.Node) {
	inst, ok := a.reg.Unregister(container)
	if !ok {
		return
	}
	a.teardown(ctx, inst, a.doc.IndexOf(container))
}

func (a *Attacher) teardown(ctx context.Context, inst *Instance, index int) {
	a.deb.Cancel(inst.saveKey)
	key := inst.Key
	if index >= 0 {
		key = viewstate.Key{Fingerprint: inst.Key.Fingerprint, Index: index}
	}
	a.save(ctx, inst, key)

	err := inst.Controller.Destroy()
	if err != nil {
		err = errors.Wrap(errors.ErrCodeTeardownFailed, err, "destroy controller")
		a.logger.Warn("controller teardown failed", "key", key, "err", err)
	}
	observability.Preview().OnTeardown(ctx, key.String(), err)
	a.logger.Debug("diagram detached", "key", key)
}

// DetachAll tears down every registered controller.
func (a *Attacher) DetachAll(ctx context.Context) int {
	var containers []*html.Node
	a.reg.Range(func(c *html.Node, _ *Instance) bool {
		containers = append(containers, c)
		return true
	})
	n := 0
	for _, c := range containers {
		if a.HasPanZoom(c) {
			a.Detach(ctx, c)
			n++
		}
	}
	return n
}

// HasPanZoom reports whether container has a live controller.
func (a *Attacher) HasPanZoom(container *html.Node) bool {
	return a.reg.Has(container)
}

// Get returns the instance attached to container.
func (a *Attacher) Get(container *html.Node) (*Instance, bool) {
	return a.reg.Get(container)
}

// Len is the number of attached containers.
func (a *Attacher) Len() int {
	return a.reg.Len()
}

// ResizeAll re-fits every controller to the current viewport. Diagrams
// with a remembered view keep their zoom; the others are fitted and
// centered again.
func (a *Attacher) ResizeAll() {
	a.reg.Range(func(_ *html.Node, inst *Instance) bool {
		inst.Controller.Resize()
		if !a.store.Has(inst.Key) {
			inst.Controller.Fit()
			inst.Controller.Center()
		}
		return true
	})
}
