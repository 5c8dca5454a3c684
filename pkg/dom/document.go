// Package dom is the document surface diagrams live in.
//
// A [Document] wraps an HTML tree parsed with golang.org/x/net/html. All
// reads and writes go through the document so they are serialized by its
// lock, and every write emits [Record]s. Records are batched per burst of
// writes and delivered asynchronously, in order, to observers registered
// with [Document.Observe], much like a browser mutation observer.
//
// Nodes handed out by the document are identities: callers keep them to
// refer back to containers, but only inspect or modify them through
// document methods.
package dom

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a mutable, observable HTML tree.
type Document struct {
	mu     sync.Mutex
	root   *html.Node
	htmlEl *html.Node
	body   *html.Node

	obsMu     sync.Mutex
	observers map[int]func([]Record)
	nextObs   int
	pending   []Record
	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

const emptyPage = "<!DOCTYPE html><html><head></head><body></body></html>"

// New returns an empty document.
func New() *Document {
	d, _ := ParseString(emptyPage)
	return d
}

// Parse reads a full HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	d := &Document{
		root:      root,
		observers: make(map[int]func([]Record)),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	d.htmlEl = FindTag(root, "html")
	d.body = FindTag(root, "body")
	go d.deliver()
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Close stops record delivery. Pending records are dropped.
func (d *Document) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Observe registers fn for batched mutation records and returns a function
// that unregisters it. fn runs on the delivery goroutine; it may call back
// into the document.
func (d *Document) Observe(fn func([]Record)) (stop func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Document) emit(recs ...Record) {
	if len(recs) == 0 {
		return
	}
	d.obsMu.Lock()
	d.pending = append(d.pending, recs...)
	d.obsMu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Document) deliver() {
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
		}
		d.obsMu.Lock()
		batch := d.pending
		d.pending = nil
		fns := make([]func([]Record), 0, len(d.observers))
		for _, fn := range d.observers {
			fns = append(fns, fn)
		}
		d.obsMu.Unlock()

		if len(batch) == 0 {
			continue
		}
		for _, fn := range fns {
			fn(batch)
		}
	}
}

// Body returns the body element.
func (d *Document) Body() *html.Node {
	return d.body
}

// HTML serializes the whole document.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

// BodyHTML serializes the children of body.
func (d *Document) BodyHTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return renderChildren(d.body)
}

// OuterHTML serializes n.
func (d *Document) OuterHTML(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// parseFragment parses markup in the context of a body-level div.
func parseFragment(markup string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(markup), ctx)
}

// Contains reports whether n is attached to the document tree.
func (d *Document) Contains(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.containsLocked(n)
}

func (d *Document) containsLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Attr reads an attribute under the document lock.
func (d *Document) Attr(n *html.Node, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Attr(n, key)
}

// HasClass reads the class list under the document lock.
func (d *Document) HasClass(n *html.Node, class string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HasClass(n, class)
}

// Text returns the text content of n.
func (d *Document) Text(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return TextContent(n)
}

// Find returns the first element under root carrying class.
func (d *Document) Find(root *html.Node, class string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Find(root, class)
}

// FindAll returns the elements under root carrying class.
func (d *Document) FindAll(root *html.Node, class string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return FindAll(root, class)
}

// Clone deep-copies n under the document lock.
func (d *Document) Clone(n *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Clone(n)
}

// Parent returns the parent of n.
func (d *Document) Parent(n *html.Node) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return n.Parent
}

// ----------------------------------------------------------------------------
// Mutations
// ----------------------------------------------------------------------------

func (d *Document) appendLocked(parent, child *html.Node) Record {
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	return Record{Op: OpInsert, Target: parent, Nodes: []*html.Node{child}}
}

func (d *Document) removeChildrenLocked(n *html.Node) (Record, bool) {
	old := children(n)
	if len(old) == 0 {
		return Record{}, false
	}
	for _, c := range old {
		n.RemoveChild(c)
	}
	return Record{Op: OpRemove, Target: n, Nodes: old}, true
}

// AppendChild appends child to parent, detaching it from any previous
// parent first.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	rec := d.appendLocked(parent, child)
	d.mu.Unlock()
	d.emit(rec)
}

// InsertBefore inserts child before ref under parent. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	d.mu.Lock()
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	d.mu.Unlock()
	d.emit(Record{Op: OpInsert, Target: parent, Nodes: []*html.Node{child}})
}

// Remove detaches n from its parent. Removing a detached node is a no-op.
func (d *Document) Remove(n *html.Node) {
	d.mu.Lock()
	p := n.Parent
	if p == nil {
		d.mu.Unlock()
		return
	}
	p.RemoveChild(n)
	d.mu.Unlock()
	d.emit(Record{Op: OpRemove, Target: p, Nodes: []*html.Node{n}})
}

// Replace swaps old for repl in old's parent.
func (d *Document) Replace(old, repl *html.Node) {
	d.mu.Lock()
	p := old.Parent
	if p == nil {
		d.mu.Unlock()
		return
	}
	if repl.Parent != nil {
		repl.Parent.RemoveChild(repl)
	}
	p.InsertBefore(repl, old)
	p.RemoveChild(old)
	d.mu.Unlock()
	d.emit(
		Record{Op: OpRemove, Target: p, Nodes: []*html.Node{old}},
		Record{Op: OpInsert, Target: p, Nodes: []*html.Node{repl}},
	)
}

// SetAttr sets an attribute, emitting a record when the value changes.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.mu.Lock()
	old, existed := setAttr(n, key, val)
	d.mu.Unlock()
	if existed && old == val {
		return
	}
	d.emit(Record{Op: OpAttr, Target: n, Attr: key, Old: old})
}

// RemoveAttr deletes an attribute.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	d.mu.Lock()
	old, existed := removeAttr(n, key)
	d.mu.Unlock()
	if existed {
		d.emit(Record{Op: OpAttr, Target: n, Attr: key, Old: old})
	}
}

// SetClass adds or removes one class token.
func (d *Document) SetClass(n *html.Node, class string, present bool) {
	d.mu.Lock()
	old, _ := Attr(n, "class")
	next := withClass(n, class, present)
	if next == old {
		d.mu.Unlock()
		return
	}
	setAttr(n, "class", next)
	d.mu.Unlock()
	d.emit(Record{Op: OpAttr, Target: n, Attr: "class", Old: old})
}

// SetStyle merges inline style properties; an empty value deletes one.
func (d *Document) SetStyle(n *html.Node, props ...[2]string) {
	d.mu.Lock()
	old, _ := Attr(n, "style")
	next := mergeStyle(n, props)
	if next == old {
		d.mu.Unlock()
		return
	}
	setAttr(n, "style", next)
	d.mu.Unlock()
	d.emit(Record{Op: OpAttr, Target: n, Attr: "style", Old: old})
}

// SetText replaces the children of n with a single text node.
func (d *Document) SetText(n *html.Node, s string) {
	d.mu.Lock()
	if TextContent(n) == s && n.FirstChild != nil && n.FirstChild == n.LastChild {
		d.mu.Unlock()
		return
	}
	for _, c := range children(n) {
		n.RemoveChild(c)
	}
	n.AppendChild(Text(s))
	d.mu.Unlock()
	d.emit(Record{Op: OpText, Target: n})
}

// SetInnerHTML replaces the children of n with parsed markup and returns
// the new top-level nodes.
func (d *Document) SetInnerHTML(n *html.Node, markup string) ([]*html.Node, error) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	var recs []Record
	if rec, ok := d.removeChildrenLocked(n); ok {
		recs = append(recs, rec)
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	if len(nodes) > 0 {
		recs = append(recs, Record{Op: OpInsert, Target: n, Nodes: nodes})
	}
	d.mu.Unlock()
	d.emit(recs...)
	return nodes, nil
}

// ReplaceBody swaps the body content for markup.
func (d *Document) ReplaceBody(markup string) error {
	_, err := d.SetInnerHTML(d.body, markup)
	return err
}

// Clear removes every child of n.
func (d *Document) Clear(n *html.Node) {
	d.mu.Lock()
	rec, ok := d.removeChildrenLocked(n)
	d.mu.Unlock()
	if ok {
		d.emit(rec)
	}
}
