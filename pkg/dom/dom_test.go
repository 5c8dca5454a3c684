package dom

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

func page(t *testing.T, body string) *Document {
	t.Helper()
	d, err := ParseString("<!DOCTYPE html><html><head></head><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestContainerHTMLRoundTrip(t *testing.T) {
	src := "graph TD;A-->B & <C>"
	d := page(t, ContainerHTML(src, `{"minZoom":0.5}`, "mermaid"))

	cs := d.Containers()
	if len(cs) != 1 {
		t.Fatalf("Containers() = %d, want 1", len(cs))
	}
	c := cs[0]
	if got := d.Source(c); got != src {
		t.Errorf("Source() = %q, want %q", got, src)
	}
	if got := d.ConfigBlob(c); got != `{"minZoom":0.5}` {
		t.Errorf("ConfigBlob() = %q", got)
	}
	if got := d.Language(c); got != "mermaid" {
		t.Errorf("Language() = %q", got)
	}
	if d.Target(c) == nil {
		t.Error("Target() should find the render div")
	}
	if d.Image(c) != nil {
		t.Error("Image() should be nil before rendering")
	}
}

func TestIndexOf(t *testing.T) {
	d := page(t, ContainerHTML("a", "{}", "")+"<p>x</p>"+ContainerHTML("b", "{}", ""))
	cs := d.Containers()
	for i, c := range cs {
		if got := d.IndexOf(c); got != i {
			t.Errorf("IndexOf(container %d) = %d", i, got)
		}
	}
	d.Remove(cs[0])
	if d.IndexOf(cs[0]) != -1 {
		t.Error("removed container should have index -1")
	}
	if d.IndexOf(cs[1]) != 0 {
		t.Error("remaining container should shift to 0")
	}
	if d.Contains(cs[0]) {
		t.Error("Contains should be false after Remove")
	}
}

func TestSetImageAndError(t *testing.T) {
	d := page(t, ContainerHTML("digraph{a->b}", "{}", "dot"))
	c := d.Containers()[0]

	svg, err := d.SetImage(c, `<?xml version="1.0"?><svg viewBox="0 0 200 100" width="200pt" height="100pt"><g><text>a</text></g></svg>`)
	if err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	if svg == nil || d.Image(c) != svg {
		t.Fatal("Image() should return the inserted svg")
	}
	if got := d.Source(c); got != "digraph{a->b}" {
		t.Errorf("Source() after render = %q", got)
	}
	if b := d.SVGBounds(svg); b.Width != 200 || b.Height != 100 {
		t.Errorf("SVGBounds() = %+v", b)
	}

	d.SetError(c, "Mermaid Diagram Error", "<script>alert(1)</script>")
	if d.Image(c) != nil {
		t.Error("error box should replace the image")
	}
	out := d.OuterHTML(c)
	if strings.Contains(out, "<script>") {
		t.Errorf("error text must be escaped: %s", out)
	}
	if !strings.Contains(out, ClassError) || !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("missing error box: %s", out)
	}
}

func TestStripSizingAndWrap(t *testing.T) {
	d := page(t, ContainerHTML("x", "{}", ""))
	c := d.Containers()[0]
	svg, _ := d.SetImage(c, `<svg viewBox="0 0 10 10" width="10" height="10" style="max-width: 10px"></svg>`)

	d.StripSizing(svg)
	if _, ok := d.Attr(svg, "height"); ok {
		t.Error("height attribute should be removed")
	}
	style, _ := d.Attr(svg, "style")
	for _, want := range []string{"max-width: none", "width: 100%", "height: auto"} {
		if !strings.Contains(style, want) {
			t.Errorf("style %q missing %q", style, want)
		}
	}

	w := d.WrapImage(svg, ClassWrapper)
	if d.Parent(svg) != w || !d.HasClass(w, ClassWrapper) {
		t.Error("svg should be inside the wrapper")
	}
	if d.WrapImage(svg, ClassWrapper) != w {
		t.Error("wrapping twice should return the same wrapper")
	}
	if d.Image(c) != svg {
		t.Error("Image() should still find the wrapped svg")
	}
}

func TestTheme(t *testing.T) {
	d := page(t, "")
	if d.IsDark() {
		t.Error("fresh document should be light")
	}
	d.SetDark(true)
	if !d.IsDark() {
		t.Error("SetDark(true) should make IsDark true")
	}
	d.SetDark(false)
	if d.IsDark() {
		t.Error("SetDark(false) should make IsDark false")
	}
}

func TestObserveBatches(t *testing.T) {
	d := page(t, "")
	var mu sync.Mutex
	var recs []Record
	stop := d.Observe(func(batch []Record) {
		mu.Lock()
		recs = append(recs, batch...)
		mu.Unlock()
	})

	if err := d.ReplaceBody(ContainerHTML("a", "{}", "")); err != nil {
		t.Fatal(err)
	}
	d.SetDark(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(recs)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d records, want at least 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	var inserted, theme bool
	for _, r := range recs {
		if r.Op == OpInsert && len(d.CollectContainers(r.Nodes)) == 1 {
			inserted = true
		}
		if d.IsThemeRecord(r) {
			theme = true
		}
	}
	mu.Unlock()
	if !inserted {
		t.Error("no insert record carrying the container")
	}
	if !theme {
		t.Error("no theme record")
	}
	stop()
	stop()
}

func TestSurface(t *testing.T) {
	d := page(t, ContainerHTML("x", "{}", ""))
	c := d.Containers()[0]
	svg, _ := d.SetImage(c, `<svg viewBox="5 5 200 100"><rect width="1" height="1"></rect></svg>`)

	s := d.NewSurface(svg, panzoom.Size{Width: 400, Height: 400})
	if b := s.Bounds(); b.X != 5 || b.Width != 200 {
		t.Errorf("Bounds() = %+v", b)
	}
	s.Apply(2, panzoom.Point{X: 10, Y: 20})

	g := d.Find(svg, ClassViewport)
	if g == nil {
		t.Fatal("viewport group not created")
	}
	if tr, _ := d.Attr(g, "transform"); tr != "matrix(2,0,0,2,10,20)" {
		t.Errorf("transform = %q", tr)
	}
	if _, ok := d.Attr(svg, "viewBox"); ok {
		t.Error("viewBox should be lifted while transformed")
	}

	// A clone keeps its content box.
	if b := d.SVGBounds(d.Clone(svg)); b.Width != 200 {
		t.Errorf("clone bounds = %+v", b)
	}

	s.Release()
	if d.Find(svg, ClassViewport) != nil {
		t.Error("Release should unwrap the viewport group")
	}
	if vb, _ := d.Attr(svg, "viewBox"); vb != "5 5 200 100" {
		t.Errorf("viewBox after Release = %q", vb)
	}
}

func TestMatrix(t *testing.T) {
	if got := Matrix(1.5, panzoom.Point{X: -3, Y: 0.25}); got != "matrix(1.5,0,0,1.5,-3,0.25)" {
		t.Errorf("Matrix() = %q", got)
	}
}
