package dom

import "golang.org/x/net/html"

// Op is the kind of a mutation record.
type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
	OpAttr   Op = "attr"
	OpText   Op = "text"
)

// Record describes one change to the document tree.
//
// For OpInsert and OpRemove, Target is the parent and Nodes the children
// that were added or removed. For OpAttr, Target is the element and Attr
// the attribute name, Old its previous value. For OpText, Target is the
// element whose text content was replaced.
type Record struct {
	Op     Op
	Target *html.Node
	Nodes  []*html.Node
	Attr   string
	Old    string
}
