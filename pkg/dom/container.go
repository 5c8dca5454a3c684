package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Markup contract shared with the markdown renderer.
const (
	ClassContainer = "mermaid-zoom-container"
	ClassSource    = "mermaid-source"
	ClassTarget    = "mermaid"
	ClassWrapper   = "mermaid-zoom-wrapper"
	ClassError     = "mermaid-zoom-error"
	AttrConfig     = "data-config"
	AttrLanguage   = "data-lang"
)

// ContainerHTML builds the markup of one diagram container.
func ContainerHTML(source, configJSON, lang string) string {
	esc := html.EscapeString(source)
	var b strings.Builder
	b.WriteString(`<div class="` + ClassContainer + `" ` + AttrConfig + `="`)
	b.WriteString(html.EscapeString(configJSON))
	b.WriteString(`"`)
	if lang != "" {
		b.WriteString(` ` + AttrLanguage + `="` + html.EscapeString(lang) + `"`)
	}
	b.WriteString(`>`)
	b.WriteString(`<pre class="` + ClassSource + `" style="display:none">` + esc + `</pre>`)
	b.WriteString(`<div class="` + ClassTarget + `">` + esc + `</div>`)
	b.WriteString(`</div>`)
	return b.String()
}

// Containers returns every diagram container in document order.
func (d *Document) Containers() []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return FindAll(d.root, ClassContainer)
}

// IndexOf returns the position of c among the document's containers, or
// -1 when c is not attached.
func (d *Document) IndexOf(c *html.Node) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, idx := 0, -1
	walk(d.root, func(n *html.Node) bool {
		if HasClass(n, ClassContainer) {
			if n == c {
				idx = i
				return false
			}
			i++
		}
		return true
	})
	return idx
}

// CollectContainers returns the containers among nodes or their
// descendants.
func (d *Document) CollectContainers(nodes []*html.Node) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*html.Node
	for _, n := range nodes {
		out = append(out, FindAll(n, ClassContainer)...)
	}
	return out
}

// Source returns the diagram source held by container c: the hidden
// source block, or the target's text when there is none.
func (d *Document) Source(c *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pre := Find(c, ClassSource); pre != nil {
		return TextContent(pre)
	}
	if t := target(c); t != nil && FindTag(t, "svg") == nil {
		return TextContent(t)
	}
	return ""
}

// ConfigBlob returns the serialized configuration of c.
func (d *Document) ConfigBlob(c *html.Node) string {
	v, _ := d.Attr(c, AttrConfig)
	return v
}

// Language returns the declared diagram language of c, if any.
func (d *Document) Language(c *html.Node) string {
	v, _ := d.Attr(c, AttrLanguage)
	return v
}

func target(c *html.Node) *html.Node {
	var found *html.Node
	walk(c, func(n *html.Node) bool {
		if n != c && n.Type == html.ElementNode && n.Data == "div" && HasClass(n, ClassTarget) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Target returns the element rendered output goes into.
func (d *Document) Target(c *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return target(c)
}

// Image returns the rendered svg inside c, or nil.
func (d *Document) Image(c *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := target(c)
	if t == nil {
		return nil
	}
	return FindTag(t, "svg")
}

// SetImage replaces the target content of c with svg markup and returns
// the svg element.
func (d *Document) SetImage(c *html.Node, svg string) (*html.Node, error) {
	t := d.Target(c)
	if t == nil {
		return nil, errNoTarget
	}
	if i := strings.Index(svg, "<svg"); i > 0 {
		svg = svg[i:]
	}
	nodes, err := d.SetInnerHTML(t, svg)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		if img := FindTag(n, "svg"); img != nil {
			return img, nil
		}
	}
	return nil, errNoImage
}

// SetError replaces the target content of c with a visible error box. The
// message is stored as text and escaped on output.
func (d *Document) SetError(c *html.Node, title, msg string) {
	t := d.Target(c)
	if t == nil {
		return
	}
	box := Element("div", "class", ClassError)
	strong := Element("strong")
	strong.AppendChild(Text(title))
	pre := Element("pre")
	pre.AppendChild(Text(msg))
	box.AppendChild(strong)
	box.AppendChild(pre)

	d.mu.Lock()
	var recs []Record
	if rec, ok := d.removeChildrenLocked(t); ok {
		recs = append(recs, rec)
	}
	recs = append(recs, d.appendLocked(t, box))
	d.mu.Unlock()
	d.emit(recs...)
}

// ClearTarget drops previous render output from c.
func (d *Document) ClearTarget(c *html.Node) {
	if t := d.Target(c); t != nil {
		d.Clear(t)
	}
}

// StripSizing removes the renderer's fixed dimensions from svg so it
// scales with its wrapper.
func (d *Document) StripSizing(svg *html.Node) {
	d.RemoveAttr(svg, "height")
	d.SetStyle(svg,
		[2]string{"max-width", "none"},
		[2]string{"width", "100%"},
		[2]string{"height", "auto"},
	)
}

// WrapImage moves svg into a new wrapper element carrying class and
// returns the wrapper. An svg already wrapped returns its wrapper.
func (d *Document) WrapImage(svg *html.Node, class string) *html.Node {
	d.mu.Lock()
	p := svg.Parent
	if p != nil && HasClass(p, class) {
		d.mu.Unlock()
		return p
	}
	w := Element("div", "class", class)
	if p != nil {
		p.InsertBefore(w, svg)
		p.RemoveChild(svg)
	}
	w.AppendChild(svg)
	d.mu.Unlock()
	if p != nil {
		d.emit(
			Record{Op: OpRemove, Target: p, Nodes: []*html.Node{svg}},
			Record{Op: OpInsert, Target: p, Nodes: []*html.Node{w}},
		)
	}
	return w
}
