package markdown

import (
	"bytes"
	"html"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

// DefaultLanguages are the fence languages rendered as diagrams.
var DefaultLanguages = []string{"mermaid", "dot", "graphviz"}

// DefaultStyle is the chroma style of ordinary code blocks.
const DefaultStyle = "github"

// Options configure a Converter.
type Options struct {
	// Config is embedded in every diagram container. The zero Config means
	// preview.DefaultConfig.
	Config preview.Config
	// Languages overrides DefaultLanguages.
	Languages []string
	// Style is the chroma style of other code blocks; "none" disables
	// highlighting.
	Style string
	// Sanitize passes output through Policy.
	Sanitize bool
}

// Converter turns markdown into preview body HTML.
type Converter struct {
	md     goldmark.Markdown
	langs  []string
	style  string
	policy *bluemonday.Policy
	cfg    preview.Config
}

// New returns a converter.
func New(o Options) *Converter {
	langs := o.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	if o.Config == (preview.Config{}) {
		o.Config = preview.DefaultConfig()
	}
	c := &Converter{langs: langs, style: o.Style, cfg: o.Config}
	if c.style == "" {
		c.style = DefaultStyle
	}
	if o.Sanitize {
		c.policy = Policy()
	}
	c.md = c.build(o.Config)
	return c
}

func (c *Converter) build(cfg preview.Config) goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			&diagramExtension{langs: c.langs, cfg: cfg, style: c.style},
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(ghtml.WithUnsafe()),
	)
}

// Convert renders src, after stripping its front matter. The front matter
// may override the diagram configuration for this document.
func (c *Converter) Convert(src []byte) (Document, error) {
	fm, body, err := SplitFrontMatter(src, c.cfg)
	if err != nil {
		return Document{}, err
	}
	md := c.md
	if fm.DiagramZoom != c.cfg {
		md = c.build(fm.DiagramZoom)
	}
	var buf bytes.Buffer
	if err := md.Convert(body, &buf); err != nil {
		return Document{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "convert markdown")
	}
	out := buf.String()
	if c.policy != nil {
		out = c.policy.Sanitize(out)
	}
	return Document{Title: fm.Title, Body: out, Config: fm.DiagramZoom}, nil
}

// Document is a converted markdown file.
type Document struct {
	Title  string
	Body   string
	Config preview.Config
}

// Diagram is one diagram fence of a markdown file.
type Diagram struct {
	Index    int
	Language string
	Source   string
}

// Diagrams lists the diagram fences of src in document order.
func (c *Converter) Diagrams(src []byte) []Diagram {
	_, body, err := SplitFrontMatter(src, c.cfg)
	if err != nil {
		body = src
	}
	root := c.md.Parser().Parse(text.NewReader(body))
	var out []Diagram
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		fence, ok := n.(*ast.FencedCodeBlock)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(fence.Language(body)))
		if slices.Contains(c.langs, lang) {
			out = append(out, Diagram{Index: len(out), Language: lang, Source: fenceText(fence, body)})
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func fenceText(n *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := range lines.Len() {
		line := lines.At(i)
		b.Write(line.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}

// diagramExtension renders diagram fences as preview containers and every
// other fence through the highlighter.
type diagramExtension struct {
	langs []string
	cfg   preview.Config
	style string
}

func (e *diagramExtension) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(newFenceRenderer(e), 100),
	))
}

type capture map[ast.NodeKind]renderer.NodeRendererFunc

func (c capture) Register(k ast.NodeKind, fn renderer.NodeRendererFunc) { c[k] = fn }

type fenceRenderer struct {
	langs    []string
	blob     string
	enabled  bool
	fallback renderer.NodeRendererFunc
}

func newFenceRenderer(e *diagramExtension) *fenceRenderer {
	var inner renderer.NodeRenderer
	if e.style == "none" {
		inner = ghtml.NewRenderer(ghtml.WithUnsafe())
	} else {
		inner = highlighting.NewHTMLRenderer(highlighting.WithStyle(e.style))
	}
	funcs := capture{}
	inner.RegisterFuncs(funcs)
	return &fenceRenderer{
		langs:    e.langs,
		blob:     e.cfg.JSON(),
		enabled:  e.cfg.Enabled,
		fallback: funcs[ast.KindFencedCodeBlock],
	}
}

func (r *fenceRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.render)
}

func (r *fenceRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	fence := node.(*ast.FencedCodeBlock)
	lang := strings.ToLower(string(fence.Language(source)))
	if !slices.Contains(r.langs, lang) {
		return r.fallback(w, source, node, entering)
	}
	if !entering {
		return ast.WalkContinue, nil
	}
	src := fenceText(fence, source)
	if !r.enabled {
		_, _ = w.WriteString(`<div class="` + dom.ClassTarget + `">` + html.EscapeString(src) + "</div>\n")
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString(dom.ContainerHTML(src, r.blob, lang))
	_ = w.WriteByte('\n')
	return ast.WalkSkipChildren, nil
}

// Policy allows ordinary markdown output plus diagram containers and
// highlighted code.
func Policy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs(dom.AttrConfig, dom.AttrLanguage).OnElements("div")
	p.AllowStyles("display").MatchingEnum("none").OnElements("pre")
	p.AllowStyles("color", "background-color", "font-weight", "font-style", "text-decoration").Globally()
	p.AllowAttrs("id").Globally()
	return p
}
