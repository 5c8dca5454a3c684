// Package preview makes the diagrams of a document preview interactive.
//
// Three components cooperate, all bound to one [dom.Document]:
//
//   - [Coordinator] renders a container's source through a
//     [render.Renderer], once per container, writing either the image or
//     an error box into it.
//   - [Attacher] wraps a rendered image with a pan-zoom controller and
//     on-screen controls, restores the remembered view from a
//     [viewstate.Store] and saves it back, debounced, as the user zooms
//     and pans. [Attacher.Detach] tears a controller down again.
//   - [Watcher] observes the document and drives both: added containers
//     and the host's content-updated signal schedule a reconciliation pass,
//     a theme flip tears every controller down and renders again.
//
// A typical host:
//
//	store := viewstate.NewStore(logger)
//	coord := preview.NewCoordinator(doc, renderer, logger)
//	att := preview.NewAttacher(doc, store, logger)
//	w := preview.NewWatcher(doc, coord, att, logger)
//	w.Start(ctx)
//	defer w.Stop(ctx)
//
// Per-diagram behavior comes from the JSON [Config] blob in each
// container's data-config attribute, overlaid on [DefaultConfig].
//
// [dom.Document]: github.com/matzehuels/diagramzoom/pkg/dom.Document
// [render.Renderer]: github.com/matzehuels/diagramzoom/pkg/render.Renderer
// [viewstate.Store]: github.com/matzehuels/diagramzoom/pkg/viewstate.Store
package preview
