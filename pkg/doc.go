// Package pkg provides the libraries behind diagramzoom, interactive pan and
// zoom for the diagrams of a markdown preview.
//
// # Overview
//
// A markdown document is converted to HTML, every Mermaid or Graphviz fence
// becomes a diagram container, each container is rendered to svg, and each
// rendered svg is wrapped with a pan/zoom controller and a control bar. The
// view of every diagram (zoom and pan) is remembered by a fingerprint of its
// source and its position, so it survives re-renders, live reloads and theme
// changes.
//
// # Architecture
//
// The data flow of the preview server:
//
//	markdown file
//	     ↓
//	[markdown] (goldmark, fences become containers)
//	     ↓
//	[dom] document tree + mutation observers
//	     ↓
//	[preview] render coordinator, attach/teardown controller, change watcher
//	     ↓                 ↓
//	[render] engines   [panzoom] controllers, [registry] of live instances
//	     ↓
//	[viewstate] remembered views, persisted through [cache]
//	     ↓
//	[server] HTTP + websocket preview, [export] png/jpg/svg/pdf/html files
//
// # Main Packages
//
// ## Core
//
// [fingerprint] - Short stable hash of a diagram source, the first half of a
// view-state key.
//
// [viewstate] - Store of remembered views keyed by fingerprint and index,
// with cache-backed persistence.
//
// [registry] - Weakly held map of live pan/zoom instances keyed by
// container.
//
// [panzoom] - The transform controller: zoom bounds, wheel and double click
// zoom, drag panning, fit and center.
//
// [preview] - Render coordination, attachment and teardown of controllers,
// debounced change watching, controls, fullscreen and resize.
//
// ## Rendering
//
// [render] - The Renderer interface, a language router and a caching
// decorator. [render/mermaid] renders through headless Chrome and
// [render/graphviz] through the graphviz library.
//
// [markdown] - goldmark conversion with diagram fences, front matter and
// sanitizing.
//
// [pipeline] - Static document renders used by the CLI.
//
// [export] - Diagram export to png, jpg, svg, pdf and html.
//
// ## Infrastructure
//
// [cache] - File, Redis, MongoDB and null cache backends.
//
// [config] - koanf-loaded configuration with env overrides and hot reload.
//
// [server] - The live preview server.
//
// [browser] - Shared headless Chrome.
//
// [dom] - A live HTML document with mutation observation.
//
// [errors] - Coded errors and input validation.
//
// [observability] - Render, cache and export hooks.
package pkg
