// Package render defines the rendering collaborator that turns diagram
// source text into SVG markup.
//
// # Renderers
//
// A [Renderer] is configured with [Renderer.Initialize] before its first
// render and again on every theme change, then asked for one image per
// diagram with [Renderer.Render]. Two engines ship with diagramzoom:
//
//   - [graphviz]: Graphviz DOT sources, rendered in-process
//   - [mermaid]: Mermaid sources, rendered in a headless browser
//
// [Router] dispatches on the fence language carried in the context
// ([WithLanguage]) and [Cached] memoizes any renderer in a [cache.Cache].
//
//	r := render.NewRouter("mermaid", map[string]render.Renderer{
//	    "mermaid": mermaid.New(mgr, mermaid.Options{Cache: c}),
//	    "dot":     graphviz.New(),
//	})
//	r.Initialize("dark", render.DefaultLayout())
//	res, err := r.Render(render.WithLanguage(ctx, "dot"), id, src)
//
// # Format Conversion
//
// [ToPDF] and [ToPNG] convert any SVG through the external rsvg-convert
// tool (from librsvg). The export package uses them for png, jpg and pdf.
//
// [graphviz]: github.com/matzehuels/diagramzoom/pkg/render/graphviz
// [mermaid]: github.com/matzehuels/diagramzoom/pkg/render/mermaid
// [cache.Cache]: github.com/matzehuels/diagramzoom/pkg/cache.Cache
package render
