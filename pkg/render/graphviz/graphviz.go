// Package graphviz renders Graphviz DOT diagrams in-process with
// goccy/go-graphviz.
package graphviz

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/diagramzoom/pkg/render"
)

// Palette colors a rendered graph.
type Palette struct {
	Background string
	Foreground string
	Fill       string
	Line       string
}

// Palettes maps theme names to colors. Unknown themes use "default".
var Palettes = map[string]Palette{
	"default": {Background: "transparent", Foreground: "#333333", Fill: "#ECECFF", Line: "#9370DB"},
	"neutral": {Background: "transparent", Foreground: "#333333", Fill: "#EEEEEE", Line: "#666666"},
	"forest":  {Background: "transparent", Foreground: "#333333", Fill: "#CDE498", Line: "#13540C"},
	"base":    {Background: "transparent", Foreground: "#333333", Fill: "#FFF4DD", Line: "#F4A261"},
	"dark":    {Background: "transparent", Foreground: "#CCCCCC", Fill: "#1F2020", Line: "#81B1DB"},
}

// Renderer renders DOT sources.
type Renderer struct {
	mu      sync.RWMutex
	palette Palette
	font    string
}

var _ render.Renderer = (*Renderer)(nil)

// New returns a renderer using the default palette.
func New() *Renderer {
	return &Renderer{palette: Palettes["default"]}
}

// Engine implements render.Renderer.
func (r *Renderer) Engine() string { return "graphviz" }

// Initialize implements render.Renderer.
func (r *Renderer) Initialize(theme string, opts render.LayoutOptions) error {
	p, ok := Palettes[theme]
	if !ok {
		p = Palettes["default"]
	}
	r.mu.Lock()
	r.palette = p
	r.font = opts.FontFamily
	r.mu.Unlock()
	return nil
}

// Render implements render.Renderer.
func (r *Renderer) Render(ctx context.Context, id, source string) (render.Result, error) {
	r.mu.RLock()
	dot := Themed(source, r.palette, r.font)
	r.mu.RUnlock()

	svg, err := RenderSVG(ctx, dot)
	if err != nil {
		return render.Result{}, err
	}
	return render.Result{SVG: string(setID(svg, id))}, nil
}

var openBrace = regexp.MustCompile(`^\s*(?:strict\s+)?(?:di)?graph\b[^{]*\{`)

// Themed injects palette defaults right after the opening brace of the
// graph so attributes set by the author still win.
func Themed(dot string, p Palette, font string) string {
	loc := openBrace.FindStringIndex(dot)
	if loc == nil {
		return dot
	}
	var b strings.Builder
	b.WriteString(dot[:loc[1]])
	fmt.Fprintf(&b, "\n  bgcolor=%q;\n", p.Background)
	nodeAttrs := fmt.Sprintf("color=%q, fontcolor=%q, fillcolor=%q, style=\"rounded,filled\", shape=box", p.Line, p.Foreground, p.Fill)
	edgeAttrs := fmt.Sprintf("color=%q, fontcolor=%q", p.Line, p.Foreground)
	if font != "" {
		fam := strings.Trim(strings.SplitN(font, ",", 2)[0], `"' `)
		nodeAttrs += fmt.Sprintf(", fontname=%q", fam)
		edgeAttrs += fmt.Sprintf(", fontname=%q", fam)
	}
	fmt.Fprintf(&b, "  node [%s];\n  edge [%s];\n", nodeAttrs, edgeAttrs)
	b.WriteString(dot[loc[1]:])
	return b.String()
}

// RenderSVG renders a DOT graph to SVG with a normalized root element.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([-0-9.]+)\s+([-0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites the root tag to a viewBox at the origin with
// pixel width and height, dropping Graphviz's pt units.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	done := false
	return svgTagRe.ReplaceAllFunc(svg, func(m []byte) []byte {
		if done {
			return m
		}
		done = true
		return []byte(tag)
	})
}

func setID(svg []byte, id string) []byte {
	if id == "" {
		return svg
	}
	i := bytes.Index(svg, []byte("<svg"))
	if i < 0 {
		return svg
	}
	i += len("<svg")
	out := make([]byte, 0, len(svg)+len(id)+6)
	out = append(out, svg[:i]...)
	out = append(out, ` id="`+id+`"`...)
	return append(out, svg[i:]...)
}
