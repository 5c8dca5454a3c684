package preview

import (
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// Fullscreen modal classes.
const (
	ClassModal         = "mermaid-fullscreen-modal"
	ClassModalBackdrop = "mermaid-fullscreen-backdrop"
	ClassModalContent  = "mermaid-fullscreen-content"
	ClassModalClose    = "mermaid-fullscreen-close"
	ClassModalDiagram  = "mermaid-fullscreen-diagram"
	ClassModalControls = "mermaid-fullscreen-controls"
)

// Fullscreen shows one diagram at a time in a modal with its own
// controller. The modal copy is independent of the inline diagram: its
// view is never saved.
type Fullscreen struct {
	doc      *dom.Document
	factory  panzoom.Factory
	viewport func() panzoom.Size
	logger   *log.Logger

	mu    sync.Mutex
	modal *html.Node
	label *html.Node
	ctrl  panzoom.Instance
}

// NewFullscreen returns a closed modal manager. viewport reports the
// visible area of the modal; nil uses DefaultViewport.
func NewFullscreen(doc *dom.Document, factory panzoom.Factory, viewport func() panzoom.Size, logger *log.Logger) *Fullscreen {
	if factory == nil {
		factory = panzoom.NewInstance
	}
	if viewport == nil {
		viewport = func() panzoom.Size { return DefaultViewport }
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fullscreen{doc: doc, factory: factory, viewport: viewport, logger: logger}
}

// Open shows a copy of img, closing any modal already open.
func (f *Fullscreen) Open(img *html.Node, cfg Config) error {
	f.Close()

	markup := `<div class="` + ClassModal + `">` +
		`<div class="` + ClassModalBackdrop + `" data-action="close"></div>` +
		`<div class="` + ClassModalContent + `">` +
		`<button class="` + ClassModalClose + `" data-action="close" aria-label="Close fullscreen" title="Close (Esc)">` + icons[ActionClose] + `</button>` +
		`<div class="` + ClassModalDiagram + `"></div>` +
		toolbar(ClassModalControls, "Diagram controls", true, ActionZoomIn, ActionZoomOut, ActionFitWidth, ActionReset) +
		`</div></div>`
	modal, err := dom.Fragment(markup)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "build fullscreen modal")
	}
	clone := f.doc.PristineClone(img)
	diagram := dom.Find(modal, ClassModalDiagram)
	diagram.AppendChild(clone)
	label := dom.Find(modal, ClassZoomLevel)

	f.doc.AppendChild(f.doc.Body(), modal)
	f.doc.SetStyle(clone,
		[2]string{"width", "100%"},
		[2]string{"height", "100%"},
		[2]string{"max-width", "none"},
	)
	f.doc.SetStyle(f.doc.Body(), [2]string{"overflow", "hidden"})

	opts := cfg.PanZoomOptions()
	opts.OnZoomChanged = func(z float64) { f.doc.SetText(label, ZoomLabel(z)) }
	ctrl, err := f.factory(f.doc.NewSurface(clone, f.viewport()), opts)
	if err != nil {
		f.doc.Remove(modal)
		f.doc.SetStyle(f.doc.Body(), [2]string{"overflow", ""})
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "create fullscreen controller")
	}
	f.doc.SetText(label, ZoomLabel(ctrl.GetZoom()))

	f.mu.Lock()
	f.modal, f.label, f.ctrl = modal, label, ctrl
	f.mu.Unlock()
	return nil
}

// IsOpen reports whether a modal is shown.
func (f *Fullscreen) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modal != nil
}

// Controller returns the modal's controller, or nil when closed.
func (f *Fullscreen) Controller() panzoom.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctrl
}

// Do runs a modal toolbar action.
func (f *Fullscreen) Do(act Action) error {
	if act.Name == ActionClose {
		f.Close()
		return nil
	}
	ctrl := f.Controller()
	if ctrl == nil {
		return errors.New(errors.ErrCodeNotFound, "no fullscreen diagram open")
	}
	switch act.Name {
	case ActionZoomIn:
		ctrl.ZoomIn()
	case ActionZoomOut:
		ctrl.ZoomOut()
	case ActionFitWidth:
		ctrl.ResetZoom()
		ctrl.Fit()
		ctrl.Center()
	case ActionReset:
		Reset(ctrl)
	case ActionWheel, ActionDblClick, ActionPan:
		in, ok := ctrl.(interactive)
		if !ok {
			return errors.New(errors.ErrCodeUnsupported, "controller does not take %s input", act.Name)
		}
		at := panzoom.Point{X: act.X, Y: act.Y}
		switch act.Name {
		case ActionWheel:
			in.HandleWheel(act.Delta, at)
		case ActionDblClick:
			in.HandleDoubleClick(at)
		default:
			in.PanBy(act.DX, act.DY)
		}
	default:
		return errors.New(errors.ErrCodeUnsupported, "unknown fullscreen action %q", act.Name)
	}
	f.mu.Lock()
	label := f.label
	f.mu.Unlock()
	if label != nil {
		f.doc.SetText(label, ZoomLabel(ctrl.GetZoom()))
	}
	return nil
}

// HandleKey closes the modal on Escape and reports whether the key was
// used.
func (f *Fullscreen) HandleKey(key string) bool {
	if key != "Escape" || !f.IsOpen() {
		return false
	}
	f.Close()
	return true
}

// Close removes the modal and destroys its controller. Closing a closed
// modal is a no-op.
func (f *Fullscreen) Close() {
	f.mu.Lock()
	modal, ctrl := f.modal, f.ctrl
	f.modal, f.label, f.ctrl = nil, nil, nil
	f.mu.Unlock()
	if modal == nil {
		return
	}
	if err := ctrl.Destroy(); err != nil {
		f.logger.Debug("fullscreen controller destroy", "err", err)
	}
	f.doc.Remove(modal)
	f.doc.SetStyle(f.doc.Body(), [2]string{"overflow", ""})
}
