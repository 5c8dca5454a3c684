package preview

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// Control markup classes.
const (
	ClassControls      = "mermaid-zoom-controls"
	ClassHoverControls = "mermaid-zoom-hover-controls"
	ClassButton        = "mermaid-zoom-btn"
	ClassZoomLevel     = "mermaid-zoom-level"
)

// Action names carried by control buttons and client messages.
const (
	ActionZoomIn     = "zoom-in"
	ActionZoomOut    = "zoom-out"
	ActionReset      = "reset"
	ActionFitWidth   = "fit-width"
	ActionFullscreen = "fullscreen"
	ActionExport     = "export"
	ActionWheel      = "wheel"
	ActionDblClick   = "dblclick"
	ActionPan        = "pan"
	ActionClose      = "close"
)

// ErrNotAttached is returned when acting on a container without a
// controller.
var ErrNotAttached = stderrors.New("preview: container has no controller")

// Action is one user interaction with a diagram.
type Action struct {
	Name   string  `json:"action"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Delta  float64 `json:"delta,omitempty"`
	Format string  `json:"format,omitempty"`
}

// ExportFunc exports the rendered image of a diagram.
type ExportFunc func(ctx context.Context, svg string, cfg Config, format string) error

// interactive is the input surface of the in-process controller.
type interactive interface {
	HandleWheel(delta float64, at panzoom.Point) bool
	HandleDoubleClick(at panzoom.Point) bool
	PanBy(dx, dy float64)
}

var icons = map[string]string{
	ActionZoomIn:     `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M19 13h-6v6h-2v-6H5v-2h6V5h2v6h6v2z"/></svg>`,
	ActionZoomOut:    `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M19 13H5v-2h14v2z"/></svg>`,
	ActionReset:      `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M5 15H3v4c0 1.1.9 2 2 2h4v-2H5v-4zM5 5h4V3H5c-1.1 0-2 .9-2 2v4h2V5zm14-2h-4v2h4v4h2V5c0-1.1-.9-2-2-2zm0 16h-4v2h4c1.1 0 2-.9 2-2v-4h-2v4z"/></svg>`,
	ActionFitWidth:   `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M4 15h16v-2H4v2zm0 4h16v-2H4v2zm0-8h16V9H4v2zm0-6v2h16V5H4z"/></svg>`,
	ActionFullscreen: `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M7 14H5v5h5v-2H7v-3zm-2-4h2V7h3V5H5v5zm12 7h-3v2h5v-5h-2v3zM14 5v2h3v3h2V5h-5z"/></svg>`,
	ActionExport:     `<svg viewBox="0 0 24 24" width="16" height="16" fill="currentColor"><path d="M19 9h-4V3H9v6H5l7 7 7-7zM5 18v2h14v-2H5z"/></svg>`,
	ActionClose:      `<svg viewBox="0 0 24 24" width="24" height="24" fill="currentColor"><path d="M19 6.41L17.59 5 12 10.59 6.41 5 5 6.41 10.59 12 5 17.59 6.41 19 12 13.41 17.59 19 19 17.59 13.41 12z"/></svg>`,
}

var titles = map[string]string{
	ActionZoomIn:     "Zoom in",
	ActionZoomOut:    "Zoom out",
	ActionReset:      "Fit to view",
	ActionFitWidth:   "Fit to width",
	ActionFullscreen: "Fullscreen",
	ActionExport:     "Export",
}

func button(action string) string {
	t := titles[action]
	return fmt.Sprintf(`<button class="%s" data-action="%s" aria-label="%s" title="%s">%s</button>`,
		ClassButton, action, t, t, icons[action])
}

// toolbar builds control markup for the given actions.
func toolbar(class, label string, zoomLevel bool, actions ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="%s" role="toolbar" aria-label="%s">`, class, label)
	if zoomLevel {
		fmt.Fprintf(&b, `<span class="%s" aria-live="polite">100%%</span>`, ClassZoomLevel)
	}
	for _, a := range actions {
		b.WriteString(button(a))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// buildControls appends the toolbar to wrapper and returns its zoom level
// label, if any. Mode "never" builds nothing.
func (a *Attacher) buildControls(wrapper *html.Node, cfg Config) *html.Node {
	if cfg.ShowControls == ControlsNever {
		return nil
	}
	a.doc.SetClass(wrapper, ClassHoverControls, cfg.ShowControls == ControlsHover)
	if existing := a.doc.Find(wrapper, ClassControls); existing != nil {
		a.doc.Remove(existing)
	}

	actions := []string{ActionZoomIn, ActionZoomOut, ActionReset}
	if cfg.ShowFullscreenButton {
		actions = append(actions, ActionFullscreen)
	}
	if cfg.ShowExportButton {
		actions = append(actions, ActionExport)
	}
	bar, err := dom.Fragment(toolbar(ClassControls, "Diagram zoom controls", cfg.ShowZoomLevel, actions...))
	if err != nil {
		a.logger.Warn("controls not built", "err", err)
		return nil
	}
	a.doc.AppendChild(wrapper, bar)
	if !cfg.ShowZoomLevel {
		return nil
	}
	return a.doc.Find(bar, ClassZoomLevel)
}

// ZoomLabel formats a relative zoom as a percentage.
func ZoomLabel(zoom float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(zoom*100)))
}

func (a *Attacher) updateLabel(inst *Instance, zoom float64) {
	if l := inst.label.Value(); l != nil {
		a.doc.SetText(l, ZoomLabel(zoom))
	}
}

// Dispatch runs act against the controller of container.
func (a *Attacher) Dispatch(ctx context.Context, container *html.Node, act Action) error {
	inst, ok := a.reg.Get(container)
	if !ok {
		return ErrNotAttached
	}
	ctrl := inst.Controller
	at := panzoom.Point{X: act.X, Y: act.Y}

	switch act.Name {
	case ActionZoomIn:
		ctrl.ZoomIn()
	case ActionZoomOut:
		ctrl.ZoomOut()
	case ActionReset:
		Reset(ctrl)
	case ActionWheel, ActionDblClick, ActionPan:
		in, ok := ctrl.(interactive)
		if !ok {
			return errors.New(errors.ErrCodeUnsupported, "controller does not take %s input", act.Name)
		}
		switch act.Name {
		case ActionWheel:
			in.HandleWheel(act.Delta, at)
		case ActionDblClick:
			in.HandleDoubleClick(at)
		default:
			in.PanBy(act.DX, act.DY)
		}
	case ActionFullscreen:
		if a.fs == nil || !inst.Config.ShowFullscreenButton {
			return errors.New(errors.ErrCodeUnsupported, "fullscreen is disabled")
		}
		img := a.doc.Image(container)
		if img == nil {
			return ErrNotAttached
		}
		return a.fs.Open(img, inst.Config)
	case ActionExport:
		if a.onExport == nil || !inst.Config.ShowExportButton {
			return errors.New(errors.ErrCodeUnsupported, "export is disabled")
		}
		img := a.doc.Image(container)
		if img == nil {
			return ErrNotAttached
		}
		return a.onExport(ctx, a.doc.OuterHTML(a.doc.PristineClone(img)), inst.Config, act.Format)
	default:
		return errors.New(errors.ErrCodeUnsupported, "unknown action %q", act.Name)
	}
	return nil
}

// Reset returns a controller to its fitted, centered view.
func Reset(ctrl panzoom.Instance) {
	ctrl.ResetZoom()
	ctrl.ResetPan()
	ctrl.Fit()
	ctrl.Center()
}
