// Package panzoom implements the view-transform engine behind interactive
// diagrams.
//
// A [Controller] owns the zoom factor and pan offset of one rendered image
// and pushes the resulting transform to a [Surface]. Zoom is relative to
// the fitted scale: 1 means the diagram exactly fits its viewport. Pan is
// the translation, in viewport pixels, of the diagram's origin.
//
// Programmatic setters ([Controller.ZoomTo], [Controller.PanTo]) reject
// values outside the configured bounds; interactive operations
// ([Controller.ZoomIn], wheel and double-click input) clamp instead.
package panzoom

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrDestroyed is returned by operations on a destroyed controller.
	ErrDestroyed = errors.New("panzoom: controller destroyed")

	// ErrOutOfRange is returned when a zoom or pan value is rejected.
	ErrOutOfRange = errors.New("panzoom: value out of range")
)

// Point is a 2D position or offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64
	Height float64
}

// Rect is the content box of a diagram in image units.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Surface is the displayed image a controller transforms.
type Surface interface {
	// Bounds is the diagram's intrinsic content box.
	Bounds() Rect
	// Viewport is the visible area the diagram is fitted into.
	Viewport() Size
	// Apply renders the transform: scale, then translate by pan.
	Apply(scale float64, pan Point)
	// Release undoes Apply and detaches the surface.
	Release()
}

// Options configures a controller.
type Options struct {
	ZoomEnabled            bool
	PanEnabled             bool
	FitOnInit              bool
	CenterOnInit           bool
	MinZoom                float64
	MaxZoom                float64
	ZoomSensitivity        float64
	DoubleClickZoomEnabled bool
	MouseWheelZoomEnabled  bool

	// OnZoomChanged and OnPanChanged fire after a change, never while the
	// controller lock is held, so handlers may call back into it.
	OnZoomChanged func(zoom float64)
	OnPanChanged  func(pan Point)
}

// DefaultOptions mirrors the defaults of the diagram configuration.
func DefaultOptions() Options {
	return Options{
		ZoomEnabled:            true,
		PanEnabled:             true,
		FitOnInit:              true,
		CenterOnInit:           true,
		MinZoom:                0.1,
		MaxZoom:                20,
		ZoomSensitivity:        0.3,
		DoubleClickZoomEnabled: true,
		MouseWheelZoomEnabled:  true,
	}
}

func (o Options) validate() error {
	if !finite(o.MinZoom) || !finite(o.MaxZoom) || o.MinZoom <= 0 || o.MaxZoom < o.MinZoom {
		return fmt.Errorf("panzoom: invalid zoom bounds [%v, %v]", o.MinZoom, o.MaxZoom)
	}
	if !finite(o.ZoomSensitivity) || o.ZoomSensitivity <= 0 {
		return fmt.Errorf("panzoom: invalid zoom sensitivity %v", o.ZoomSensitivity)
	}
	return nil
}

// Factory builds a controller for a surface. It is how the attachment
// layer consumes the engine.
type Factory func(s Surface, opts Options) (Instance, error)

// Instance is the contract of a live view-transform controller.
type Instance interface {
	ZoomIn()
	ZoomOut()
	ZoomTo(zoom float64) error
	PanTo(p Point) error
	GetZoom() float64
	GetPan() Point
	Fit()
	Center()
	ResetZoom()
	ResetPan()
	Destroy() error
	Resize()
	Viewport() Size
}

// Controller is the in-process [Instance].
type Controller struct {
	mu        sync.Mutex
	surface   Surface
	opts      Options
	base      float64 // scale at zoom 1
	zoom      float64
	pan       Point
	initZoom  float64
	initPan   Point
	destroyed bool
}

var _ Instance = (*Controller)(nil)

// New builds a controller over s and applies the initial transform.
func New(s Surface, opts Options) (*Controller, error) {
	if s == nil {
		return nil, errors.New("panzoom: nil surface")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &Controller{surface: s, opts: opts, zoom: 1}
	c.base = fitScale(s)
	if opts.FitOnInit {
		c.fitLocked()
	}
	if opts.CenterOnInit {
		c.centerLocked()
	}
	c.initZoom, c.initPan = c.zoom, c.pan
	c.applyLocked()
	return c, nil
}

// NewInstance is a [Factory] backed by [New].
func NewInstance(s Surface, opts Options) (Instance, error) {
	return New(s, opts)
}

func fitScale(s Surface) float64 {
	b, v := s.Bounds(), s.Viewport()
	if b.Width <= 0 || b.Height <= 0 || v.Width <= 0 || v.Height <= 0 {
		return 1
	}
	return math.Min(v.Width/b.Width, v.Height/b.Height)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (c *Controller) clamp(z float64) float64 {
	return math.Max(c.opts.MinZoom, math.Min(c.opts.MaxZoom, z))
}

func (c *Controller) applyLocked() {
	c.surface.Apply(c.zoom*c.base, c.pan)
}

// change records what a mutation touched so events fire after unlock.
type change struct {
	zoom, pan bool
}

func (c *Controller) notify(ch change, zoom float64, pan Point) {
	if ch.zoom && c.opts.OnZoomChanged != nil {
		c.opts.OnZoomChanged(zoom)
	}
	if ch.pan && c.opts.OnPanChanged != nil {
		c.opts.OnPanChanged(pan)
	}
}

// mutate runs fn under the lock, re-applies the transform and emits events
// for whatever changed.
func (c *Controller) mutate(fn func()) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	z0, p0 := c.zoom, c.pan
	fn()
	ch := change{zoom: c.zoom != z0, pan: c.pan != p0}
	if ch.zoom || ch.pan {
		c.applyLocked()
	}
	z, p := c.zoom, c.pan
	c.mu.Unlock()
	c.notify(ch, z, p)
}

// zoomAtLocked scales around a viewport point, keeping it fixed on screen.
func (c *Controller) zoomAtLocked(target float64, at Point) {
	target = c.clamp(target)
	k := target / c.zoom
	c.pan = Point{
		X: at.X - (at.X-c.pan.X)*k,
		Y: at.Y - (at.Y-c.pan.Y)*k,
	}
	c.zoom = target
}

func (c *Controller) viewportCenter() Point {
	v := c.surface.Viewport()
	return Point{X: v.Width / 2, Y: v.Height / 2}
}

func (c *Controller) fitLocked() {
	b := c.surface.Bounds()
	c.zoom = 1
	c.pan = Point{X: -b.X * c.base, Y: -b.Y * c.base}
}

func (c *Controller) centerLocked() {
	b, v := c.surface.Bounds(), c.surface.Viewport()
	s := c.zoom * c.base
	c.pan = Point{
		X: (v.Width-b.Width*s)/2 - b.X*s,
		Y: (v.Height-b.Height*s)/2 - b.Y*s,
	}
}

// ZoomIn zooms by one sensitivity step around the viewport center.
func (c *Controller) ZoomIn() {
	c.ZoomBy(1 + c.opts.ZoomSensitivity)
}

// ZoomOut is the inverse of ZoomIn.
func (c *Controller) ZoomOut() {
	c.ZoomBy(1 / (1 + c.opts.ZoomSensitivity))
}

// ZoomBy multiplies the zoom by factor around the viewport center,
// clamped to bounds.
func (c *Controller) ZoomBy(factor float64) {
	if !finite(factor) || factor <= 0 {
		return
	}
	c.mutate(func() { c.zoomAtLocked(c.zoom*factor, c.viewportCenter()) })
}

// ZoomAtPoint multiplies the zoom by factor keeping at fixed, clamped to
// bounds.
func (c *Controller) ZoomAtPoint(factor float64, at Point) {
	if !finite(factor) || factor <= 0 || !finite(at.X) || !finite(at.Y) {
		return
	}
	c.mutate(func() { c.zoomAtLocked(c.zoom*factor, at) })
}

// ZoomTo sets the zoom around the viewport center. Values outside
// [MinZoom, MaxZoom] are rejected.
func (c *Controller) ZoomTo(zoom float64) error {
	if !finite(zoom) || zoom < c.opts.MinZoom || zoom > c.opts.MaxZoom {
		return fmt.Errorf("%w: zoom %v not in [%v, %v]", ErrOutOfRange, zoom, c.opts.MinZoom, c.opts.MaxZoom)
	}
	if c.isDestroyed() {
		return ErrDestroyed
	}
	c.mutate(func() { c.zoomAtLocked(zoom, c.viewportCenter()) })
	return nil
}

// PanTo sets the pan offset.
func (c *Controller) PanTo(p Point) error {
	if !finite(p.X) || !finite(p.Y) {
		return fmt.Errorf("%w: pan %v", ErrOutOfRange, p)
	}
	if c.isDestroyed() {
		return ErrDestroyed
	}
	c.mutate(func() { c.pan = p })
	return nil
}

// PanBy moves the diagram by a delta when panning is enabled.
func (c *Controller) PanBy(dx, dy float64) {
	if !c.opts.PanEnabled || !finite(dx) || !finite(dy) {
		return
	}
	c.mutate(func() { c.pan = Point{X: c.pan.X + dx, Y: c.pan.Y + dy} })
}

// HandleWheel applies a wheel step at a viewport point. Negative delta
// zooms in. It reports whether the event was consumed.
func (c *Controller) HandleWheel(delta float64, at Point) bool {
	if !c.opts.ZoomEnabled || !c.opts.MouseWheelZoomEnabled || delta == 0 {
		return false
	}
	f := 1 + c.opts.ZoomSensitivity
	if delta > 0 {
		f = 1 / f
	}
	c.ZoomAtPoint(f, at)
	return true
}

// HandleDoubleClick zooms in one step at a viewport point.
func (c *Controller) HandleDoubleClick(at Point) bool {
	if !c.opts.ZoomEnabled || !c.opts.DoubleClickZoomEnabled {
		return false
	}
	c.ZoomAtPoint(1+c.opts.ZoomSensitivity, at)
	return true
}

// GetZoom returns the current relative zoom.
func (c *Controller) GetZoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// GetPan returns the current pan offset.
func (c *Controller) GetPan() Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pan
}

// Fit scales the diagram to fit the viewport.
func (c *Controller) Fit() {
	c.mutate(c.fitLocked)
}

// Center centers the diagram at the current zoom.
func (c *Controller) Center() {
	c.mutate(c.centerLocked)
}

// ResetZoom returns to the zoom the controller was created with.
func (c *Controller) ResetZoom() {
	c.mutate(func() { c.zoomAtLocked(c.initZoom, c.viewportCenter()) })
}

// ResetPan returns to the pan the controller was created with.
func (c *Controller) ResetPan() {
	c.mutate(func() { c.pan = c.initPan })
}

// Resize recomputes the fitted scale after the viewport changed. The
// relative zoom is kept.
func (c *Controller) Resize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.base = fitScale(c.surface)
	c.applyLocked()
}

// Viewport returns the surface viewport.
func (c *Controller) Viewport() Size {
	return c.surface.Viewport()
}

func (c *Controller) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy releases the surface. Every later operation is a no-op; a second
// Destroy returns ErrDestroyed.
func (c *Controller) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.destroyed = true
	c.surface.Release()
	return nil
}
