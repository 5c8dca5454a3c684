package dom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"weak"

	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// ClassViewport marks the group that carries the pan-zoom transform.
const ClassViewport = "svg-pan-zoom_viewport"

// attrSavedViewBox keeps the viewBox while the transform is active, so
// clones of a zoomed svg still know their content box.
const attrSavedViewBox = "data-viewbox"

// Surface presents an svg in the document as a [panzoom.Surface].
//
// It refers to the svg weakly, so a controller kept in a registry does not
// keep a removed diagram alive. Once the svg is gone every call is a no-op.
type Surface struct {
	doc    *Document
	svg    weak.Pointer[html.Node]
	bounds panzoom.Rect

	mu       sync.Mutex
	viewport panzoom.Size
	group    weak.Pointer[html.Node]
	adopted  bool
	viewBox  string
}

var _ panzoom.Surface = (*Surface)(nil)

// NewSurface adapts svg with the given visible area.
func (d *Document) NewSurface(svg *html.Node, viewport panzoom.Size) *Surface {
	d.mu.Lock()
	b := svgBounds(svg)
	d.mu.Unlock()
	return &Surface{doc: d, svg: weak.Make(svg), bounds: b, viewport: viewport}
}

// Bounds implements panzoom.Surface.
func (s *Surface) Bounds() panzoom.Rect { return s.bounds }

// Viewport implements panzoom.Surface.
func (s *Surface) Viewport() panzoom.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// SetViewport changes the visible area; callers follow up with the
// controller's Resize.
func (s *Surface) SetViewport(v panzoom.Size) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
}

// Apply implements panzoom.Surface. The first call moves the svg children
// into a viewport group and takes the viewBox off the svg so transform
// units are viewport pixels.
func (s *Surface) Apply(scale float64, pan panzoom.Point) {
	svg := s.svg.Value()
	if svg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group.Value()
	if !s.adopted || g == nil {
		g = s.doc.adoptViewport(svg)
		s.group = weak.Make(g)
		s.adopted = true
		if vb, ok := s.doc.Attr(svg, "viewBox"); ok {
			s.viewBox = vb
			s.doc.SetAttr(svg, attrSavedViewBox, vb)
			s.doc.RemoveAttr(svg, "viewBox")
		}
		s.doc.SetStyle(svg, [2]string{"height", "100%"})
	}
	s.doc.SetAttr(g, "transform", Matrix(scale, pan))
}

// Release implements panzoom.Surface.
func (s *Surface) Release() {
	svg := s.svg.Value()
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group.Value()
	if svg == nil || !s.adopted || g == nil {
		return
	}
	s.doc.releaseViewport(svg, g)
	if s.viewBox != "" {
		s.doc.SetAttr(svg, "viewBox", s.viewBox)
		s.doc.RemoveAttr(svg, attrSavedViewBox)
	}
	s.doc.SetStyle(svg, [2]string{"height", "auto"})
	s.group = weak.Pointer[html.Node]{}
	s.adopted = false
}

// Matrix formats a uniform scale plus translation as an SVG transform.
func Matrix(scale float64, pan panzoom.Point) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return fmt.Sprintf("matrix(%s,0,0,%s,%s,%s)", f(scale), f(scale), f(pan.X), f(pan.Y))
}

func (d *Document) adoptViewport(svg *html.Node) *html.Node {
	d.mu.Lock()
	if g := Find(svg, ClassViewport); g != nil {
		d.mu.Unlock()
		return g
	}
	g := Element("g", "class", ClassViewport)
	g.Namespace = svg.Namespace
	moved := children(svg)
	for _, c := range moved {
		svg.RemoveChild(c)
		g.AppendChild(c)
	}
	svg.AppendChild(g)
	d.mu.Unlock()
	d.emit(Record{Op: OpInsert, Target: svg, Nodes: []*html.Node{g}})
	return g
}

func (d *Document) releaseViewport(svg, g *html.Node) {
	d.mu.Lock()
	if g.Parent != svg {
		d.mu.Unlock()
		return
	}
	for _, c := range children(g) {
		g.RemoveChild(c)
		svg.InsertBefore(c, g)
	}
	svg.RemoveChild(g)
	d.mu.Unlock()
	d.emit(Record{Op: OpRemove, Target: svg, Nodes: []*html.Node{g}})
}

// svgBounds reads the content box from viewBox, then width/height.
func svgBounds(svg *html.Node) panzoom.Rect {
	vb, ok := Attr(svg, "viewBox")
	if !ok {
		vb, ok = Attr(svg, attrSavedViewBox)
	}
	if ok {
		f := strings.FieldsFunc(vb, func(r rune) bool { return r == ' ' || r == ',' })
		if len(f) == 4 {
			var v [4]float64
			ok := true
			for i, s := range f {
				x, err := strconv.ParseFloat(s, 64)
				if err != nil {
					ok = false
					break
				}
				v[i] = x
			}
			if ok && v[2] > 0 && v[3] > 0 {
				return panzoom.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
			}
		}
	}
	w, _ := Attr(svg, "width")
	h, _ := Attr(svg, "height")
	return panzoom.Rect{Width: parseLength(w), Height: parseLength(h)}
}

func parseLength(s string) float64 {
	s = strings.TrimSpace(s)
	for _, unit := range []string{"px", "pt"} {
		s = strings.TrimSuffix(s, unit)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Bounds returns the content box of a detached svg.
func Bounds(svg *html.Node) panzoom.Rect { return svgBounds(svg) }

// SVGBounds returns the content box of svg.
func (d *Document) SVGBounds(svg *html.Node) panzoom.Rect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return svgBounds(svg)
}

// PristineClone copies svg without any pan-zoom transform: the viewport
// group is unwrapped and the viewBox restored.
func (d *Document) PristineClone(svg *html.Node) *html.Node {
	d.mu.Lock()
	c := Clone(svg)
	d.mu.Unlock()

	if g := Find(c, ClassViewport); g != nil && g.Parent != nil {
		p := g.Parent
		for _, ch := range children(g) {
			g.RemoveChild(ch)
			p.InsertBefore(ch, g)
		}
		p.RemoveChild(g)
	}
	if vb, ok := removeAttr(c, attrSavedViewBox); ok {
		setAttr(c, "viewBox", vb)
	}
	return c
}
