package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element builds a detached element. attrs are key/value pairs.
func Element(tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// Text builds a detached text node.
func Text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) (old string, existed bool) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return a.Val, true
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	return "", false
}

func removeAttr(n *html.Node, key string) (old string, existed bool) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return a.Val, true
		}
	}
	return "", false
}

// Classes returns the class tokens of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n is an element carrying class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

func withClass(n *html.Node, class string, present bool) string {
	var out []string
	found := false
	for _, c := range Classes(n) {
		if c == class {
			found = true
			if !present {
				continue
			}
		}
		out = append(out, c)
	}
	if present && !found {
		out = append(out, class)
	}
	return strings.Join(out, " ")
}

// walk visits n and its descendants in document order until fn returns
// false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// FindAll returns every element under root (inclusive) carrying class.
func FindAll(root *html.Node, class string) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if HasClass(n, class) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Find returns the first element under root (inclusive) carrying class.
func Find(root *html.Node, class string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if HasClass(n, class) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindTag returns the first element under root (inclusive) named tag.
func FindTag(root *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// TextContent concatenates the text nodes under n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// Clone deep-copies n. The copy is detached.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// mergeStyle rewrites the inline style of n, setting or deleting
// properties. An empty value deletes the property.
func mergeStyle(n *html.Node, props [][2]string) string {
	cur, _ := Attr(n, "style")
	type decl struct{ k, v string }
	var decls []decl
	for _, part := range strings.Split(cur, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		decls = append(decls, decl{strings.TrimSpace(strings.ToLower(k)), strings.TrimSpace(v)})
	}
	for _, p := range props {
		idx := -1
		for i, d := range decls {
			if d.k == p[0] {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0 && p[1] == "":
			decls = append(decls[:idx], decls[idx+1:]...)
		case idx >= 0:
			decls[idx].v = p[1]
		case p[1] != "":
			decls = append(decls, decl{p[0], p[1]})
		}
	}
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.k + ": " + d.v
	}
	return strings.Join(parts, "; ")
}

// Fragment parses markup into a detached element. Markup with several top
// level nodes yields the first element.
func Fragment(markup string) (*html.Node, error) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, errNoElement
}
