package panzoom

import (
	"errors"
	"math"
	"testing"
)

type fakeSurface struct {
	bounds   Rect
	viewport Size
	scale    float64
	pan      Point
	applied  int
	released bool
}

func (s *fakeSurface) Bounds() Rect   { return s.bounds }
func (s *fakeSurface) Viewport() Size { return s.viewport }
func (s *fakeSurface) Apply(scale float64, pan Point) {
	s.scale, s.pan = scale, pan
	s.applied++
}
func (s *fakeSurface) Release() { s.released = true }

func newSurface() *fakeSurface {
	return &fakeSurface{bounds: Rect{Width: 200, Height: 100}, viewport: Size{Width: 400, Height: 400}}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewFitsAndCenters(t *testing.T) {
	s := newSurface()
	c, err := New(s, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.GetZoom() != 1 {
		t.Errorf("GetZoom() = %v, want 1", c.GetZoom())
	}
	if got := c.GetPan(); !approx(got.X, 0) || !approx(got.Y, 100) {
		t.Errorf("GetPan() = %+v, want {0 100}", got)
	}
	if !approx(s.scale, 2) {
		t.Errorf("applied scale = %v, want 2", s.scale)
	}
}

func TestInstanceViewport(t *testing.T) {
	s := newSurface()
	inst, err := NewInstance(s, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.Viewport(); got != s.viewport {
		t.Errorf("Viewport() = %+v, want %+v", got, s.viewport)
	}
	s.viewport = Size{Width: 100, Height: 50}
	inst.Resize()
	if got := inst.Viewport(); got != s.viewport {
		t.Errorf("Viewport() after resize = %+v, want %+v", got, s.viewport)
	}
}

func TestNewInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"zero min", func(o *Options) { o.MinZoom = 0 }},
		{"max below min", func(o *Options) { o.MaxZoom = 0.05 }},
		{"nan sensitivity", func(o *Options) { o.ZoomSensitivity = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mod(&opts)
			if _, err := New(newSurface(), opts); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := New(nil, DefaultOptions()); err == nil {
		t.Error("nil surface should fail")
	}
}

func TestZoomToBounds(t *testing.T) {
	c, _ := New(newSurface(), DefaultOptions())

	tests := []struct {
		zoom    float64
		wantErr bool
	}{
		{2.5, false},
		{0.1, false},
		{20, false},
		{0.05, true},
		{21, true},
		{math.NaN(), true},
		{math.Inf(1), true},
	}
	for _, tt := range tests {
		err := c.ZoomTo(tt.zoom)
		if (err != nil) != tt.wantErr {
			t.Errorf("ZoomTo(%v) err = %v, wantErr %v", tt.zoom, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ZoomTo(%v) err = %v, want ErrOutOfRange", tt.zoom, err)
		}
	}
}

func TestZoomToKeepsCenterFixed(t *testing.T) {
	s := newSurface()
	c, _ := New(s, DefaultOptions())
	// Diagram center in viewport coordinates before and after must match.
	before := Point{X: c.GetPan().X + 100*2, Y: c.GetPan().Y + 50*2}
	if err := c.ZoomTo(2); err != nil {
		t.Fatal(err)
	}
	after := Point{X: c.GetPan().X + 100*4, Y: c.GetPan().Y + 50*4}
	if !approx(before.X, after.X) || !approx(before.Y, after.Y) {
		t.Errorf("center moved from %+v to %+v", before, after)
	}
	if !approx(s.scale, 4) {
		t.Errorf("applied scale = %v, want 4", s.scale)
	}
}

func TestPanTo(t *testing.T) {
	c, _ := New(newSurface(), DefaultOptions())
	if err := c.PanTo(Point{X: 10, Y: -5}); err != nil {
		t.Fatal(err)
	}
	if got := c.GetPan(); got != (Point{X: 10, Y: -5}) {
		t.Errorf("GetPan() = %+v", got)
	}
	if err := c.PanTo(Point{X: math.NaN()}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("PanTo(NaN) err = %v", err)
	}
}

func TestInteractiveZoomClamps(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxZoom = 1.5
	c, _ := New(newSurface(), opts)
	for i := 0; i < 10; i++ {
		c.ZoomIn()
	}
	if c.GetZoom() != 1.5 {
		t.Errorf("GetZoom() = %v, want clamp at 1.5", c.GetZoom())
	}
	for i := 0; i < 50; i++ {
		c.ZoomOut()
	}
	if c.GetZoom() != opts.MinZoom {
		t.Errorf("GetZoom() = %v, want clamp at %v", c.GetZoom(), opts.MinZoom)
	}
}

func TestEvents(t *testing.T) {
	var zooms, pans int
	opts := DefaultOptions()
	opts.OnZoomChanged = func(float64) { zooms++ }
	opts.OnPanChanged = func(Point) { pans++ }
	c, _ := New(newSurface(), opts)
	if zooms != 0 || pans != 0 {
		t.Fatalf("construction fired events: zoom=%d pan=%d", zooms, pans)
	}

	c.ZoomIn()
	if zooms != 1 {
		t.Errorf("zoom events = %d, want 1", zooms)
	}
	c.PanBy(5, 5)
	if pans < 2 {
		t.Errorf("pan events = %d, want at least 2", pans)
	}

	// No-op changes emit nothing.
	z := zooms
	_ = c.ZoomTo(c.GetZoom())
	if zooms != z {
		t.Error("unchanged zoom should not fire")
	}
}

func TestEventHandlerMayReenter(t *testing.T) {
	opts := DefaultOptions()
	var c *Controller
	var seen float64
	opts.OnZoomChanged = func(float64) { seen = c.GetZoom() }
	c, _ = New(newSurface(), opts)
	c.ZoomIn()
	if seen != c.GetZoom() {
		t.Errorf("handler saw %v, want %v", seen, c.GetZoom())
	}
}

func TestResetAndFit(t *testing.T) {
	c, _ := New(newSurface(), DefaultOptions())
	init := c.GetPan()
	c.ZoomIn()
	c.PanBy(30, 40)

	c.ResetZoom()
	c.ResetPan()
	if c.GetZoom() != 1 || c.GetPan() != init {
		t.Errorf("after reset zoom=%v pan=%+v, want 1 %+v", c.GetZoom(), c.GetPan(), init)
	}

	c.ZoomIn()
	c.Fit()
	c.Center()
	if c.GetZoom() != 1 || c.GetPan() != init {
		t.Errorf("after fit+center zoom=%v pan=%+v", c.GetZoom(), c.GetPan())
	}
}

func TestInputToggles(t *testing.T) {
	opts := DefaultOptions()
	opts.MouseWheelZoomEnabled = false
	opts.DoubleClickZoomEnabled = false
	opts.PanEnabled = false
	c, _ := New(newSurface(), opts)
	pan := c.GetPan()

	if c.HandleWheel(-1, Point{}) {
		t.Error("wheel should be ignored")
	}
	if c.HandleDoubleClick(Point{}) {
		t.Error("double click should be ignored")
	}
	c.PanBy(10, 10)
	if c.GetZoom() != 1 || c.GetPan() != pan {
		t.Error("disabled inputs changed the view")
	}

	on, _ := New(newSurface(), DefaultOptions())
	if !on.HandleWheel(-1, Point{X: 200, Y: 200}) || on.GetZoom() <= 1 {
		t.Error("wheel up should zoom in")
	}
	if !on.HandleWheel(1, Point{X: 200, Y: 200}) || !approx(on.GetZoom(), 1) {
		t.Errorf("wheel down should undo, zoom = %v", on.GetZoom())
	}
}

func TestResize(t *testing.T) {
	s := newSurface()
	c, _ := New(s, DefaultOptions())
	s.viewport = Size{Width: 800, Height: 800}
	c.Resize()
	if c.GetZoom() != 1 {
		t.Errorf("Resize changed relative zoom to %v", c.GetZoom())
	}
	if !approx(s.scale, 4) {
		t.Errorf("applied scale = %v, want 4", s.scale)
	}
}

func TestDestroy(t *testing.T) {
	s := newSurface()
	c, _ := New(s, DefaultOptions())
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !s.released {
		t.Error("surface should be released")
	}
	if err := c.Destroy(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Destroy = %v, want ErrDestroyed", err)
	}
	if err := c.ZoomTo(2); !errors.Is(err, ErrDestroyed) {
		t.Errorf("ZoomTo after destroy = %v", err)
	}
	applied := s.applied
	c.ZoomIn()
	c.Resize()
	if s.applied != applied {
		t.Error("destroyed controller touched the surface")
	}
}
