// Package server serves a live, interactive preview of one markdown file.
//
// The server owns the document model: it renders the markdown into a
// dom.Document, keeps its diagrams rendered and interactive with a
// preview.Watcher, and mirrors the document to browsers over a websocket.
// Browsers send user input back (button clicks, wheel, drag, keys, theme
// and size changes) which the server applies to its controllers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/export"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
	"github.com/matzehuels/diagramzoom/pkg/pipeline"
	"github.com/matzehuels/diagramzoom/pkg/preview"
	"github.com/matzehuels/diagramzoom/pkg/render"
	"github.com/matzehuels/diagramzoom/pkg/viewstate"
)

const (
	reloadKey    = "reload"
	broadcastKey = "broadcast"

	// ReloadDelay coalesces bursts of file writes from editors.
	ReloadDelay = 100 * time.Millisecond
	// BroadcastDelay coalesces mutation bursts into one document push.
	BroadcastDelay = 30 * time.Millisecond
)

// Options configure a Server.
type Options struct {
	// Path is the markdown file to preview.
	Path string
	Addr string
	// AllowedOrigins lists websocket and CORS origins. Empty allows the
	// server's own origin only; "*" allows any.
	AllowedOrigins []string
	Viewport       panzoom.Size
	// SnapshotInterval is how often view state is persisted. Zero saves
	// only at startup and shutdown.
	SnapshotInterval time.Duration
	Markdown         markdown.Options
	Renderer         render.Renderer
	Layout           render.LayoutOptions
	// Cache persists view-state snapshots. Nil disables persistence.
	Cache    cache.Cache
	Keyer    cache.Keyer
	StateTTL time.Duration
	// Exporter backs the export button and the export route. Nil
	// disables both.
	Exporter  *export.Exporter
	ExportDir string
	Dark      bool
	Logger    *log.Logger

	// WatcherOptions and AttachOptions tune the preview core.
	WatcherOptions []preview.WatcherOption
	AttachOptions  []preview.AttachOption
	Settle         preview.SettleFunc
}

// Server is a live preview of one markdown file.
type Server struct {
	opts   Options
	path   string
	logger *log.Logger

	doc     *dom.Document
	store   *viewstate.Store
	coord   *preview.Coordinator
	att     *preview.Attacher
	fs      *preview.Fullscreen
	watcher *preview.Watcher
	persist *viewstate.Persister
	hub     *hub
	deb     *preview.Debouncer
	router  chi.Router

	mu      sync.Mutex
	conv    *markdown.Converter
	title   string
	running bool
	stopObs func()
	stopFS  func()
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// New loads the file at opts.Path and prepares the preview. Nothing runs
// until Start.
func New(opts Options) (*Server, error) {
	if opts.Renderer == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "server: renderer is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.Viewport == (panzoom.Size{}) {
		opts.Viewport = preview.DefaultViewport
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", opts.Path)
	}

	s := &Server{
		opts:   opts,
		path:   path,
		logger: opts.Logger.With("file", filepath.Base(path)),
		conv:   markdown.New(opts.Markdown),
		deb:    preview.NewDebouncer(),
	}
	s.hub = newHub(s.logger)

	md, err := s.convert()
	if err != nil {
		return nil, err
	}
	s.title = md.Title
	s.doc, err = dom.ParseString(pipeline.Shell(md.Title, md.Body, opts.Dark, ""))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "parse preview document")
	}

	s.store = viewstate.NewStore(s.logger)
	if opts.Cache != nil {
		s.persist = &viewstate.Persister{
			Cache: opts.Cache,
			Key:   opts.Keyer.StateKey(path),
			TTL:   opts.StateTTL,
		}
	}

	var coordOpts []preview.CoordinatorOption
	coordOpts = append(coordOpts, preview.WithLayout(opts.Layout))
	if opts.Settle != nil {
		coordOpts = append(coordOpts, preview.WithSettle(opts.Settle))
	}
	s.coord = preview.NewCoordinator(s.doc, opts.Renderer, s.logger, coordOpts...)

	s.fs = preview.NewFullscreen(s.doc, nil, func() panzoom.Size { return s.att.Viewport() }, s.logger)
	attOpts := []preview.AttachOption{
		preview.WithViewport(opts.Viewport),
		preview.WithFullscreen(s.fs),
	}
	if opts.Exporter != nil {
		attOpts = append(attOpts, preview.WithExport(opts.Exporter.Sink(opts.ExportDir, s.doc.IsDark, s.exported)))
	}
	attOpts = append(attOpts, opts.AttachOptions...)
	s.att = preview.NewAttacher(s.doc, s.store, s.logger, attOpts...)

	watchOpts := append([]preview.WatcherOption{preview.WithDefaults(md.Config)}, opts.WatcherOptions...)
	s.watcher = preview.NewWatcher(s.doc, s.coord, s.att, s.logger, watchOpts...)

	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) convert() (markdown.Document, error) {
	src, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return markdown.Document{}, errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", s.path)
		}
		return markdown.Document{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	return conv.Convert(src)
}

// Start loads persisted view state and begins watching the document and
// the file. Starting a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.deb.Reset()

	if s.persist != nil {
		n, err := s.persist.Load(ctx, s.store)
		if err != nil {
			s.logger.Warn("view state not loaded", "err", err)
		} else if n > 0 {
			s.logger.Info("view state loaded", "entries", n)
		}
	}

	stopFS, err := s.watchFile()
	if err != nil {
		s.logger.Warn("file watch disabled", "err", err)
		stopFS = func() {}
	}

	s.mu.Lock()
	s.stopFS = stopFS
	s.stopObs = s.doc.Observe(func([]dom.Record) {
		s.deb.Trigger(broadcastKey, BroadcastDelay, s.pushDocument)
	})
	s.mu.Unlock()

	s.watcher.Start(ctx)
	if s.persist != nil && s.opts.SnapshotInterval > 0 {
		s.loops.Add(1)
		go s.snapshotLoop(ctx)
	}
	return nil
}

// Close stops watching, tears down every controller, persists view state
// and disconnects all clients.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopObs()
	s.stopFS()
	s.cancel()
	s.mu.Unlock()

	s.loops.Wait()
	s.deb.Stop()
	s.fs.Close()
	s.watcher.Stop(ctx)

	var err error
	if s.persist != nil {
		if err = s.persist.Save(ctx, s.store); err != nil {
			s.logger.Warn("view state not saved", "err", err)
		} else {
			s.logger.Info("view state saved", "entries", s.store.Len())
		}
	}
	s.hub.closeAll()
	return err
}

func (s *Server) snapshotLoop(ctx context.Context) {
	defer s.loops.Done()
	t := time.NewTicker(s.opts.SnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.persist.Save(ctx, s.store); err != nil {
				s.logger.Warn("view state snapshot failed", "err", err)
				continue
			}
			s.logger.Debug("view state snapshot", "entries", s.store.Len())
		}
	}
}

// Reload re-renders the markdown file into the document. Containers are
// replaced, which the watcher picks up like any other content update.
func (s *Server) Reload() error {
	md, err := s.convert()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.title = md.Title
	s.mu.Unlock()

	if err := s.doc.ReplaceBody(md.Body); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "replace document body")
	}
	s.watcher.SetDefaults(md.Config)
	s.watcher.ContentUpdated()
	s.logger.Info("document reloaded", "diagrams", len(s.doc.Containers()))
	return nil
}

// SetDefaults swaps the diagram defaults, for example after the config
// file changed, and reloads the document with them.
func (s *Server) SetDefaults(cfg preview.Config) error {
	mo := s.opts.Markdown
	mo.Config = cfg
	s.mu.Lock()
	s.opts.Markdown = mo
	s.conv = markdown.New(mo)
	s.mu.Unlock()
	return s.Reload()
}

// WaitIdle blocks until the document has no pending reconciliation.
func (s *Server) WaitIdle(ctx context.Context) error {
	return s.watcher.WaitIdle(ctx)
}

// Document returns the live document.
func (s *Server) Document() *dom.Document { return s.doc }

// Store returns the view-state store.
func (s *Server) Store() *viewstate.Store { return s.store }

// Title returns the document title from the front matter.
func (s *Server) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Server) exported(path string) {
	s.hub.broadcast(message{Type: msgExported, Path: path})
}

func (s *Server) pushDocument() {
	s.hub.broadcast(s.documentMessage())
}

func (s *Server) documentMessage() message {
	return message{Type: msgDocument, HTML: s.doc.BodyHTML(), Dark: s.doc.IsDark()}
}

// ListenAndServe starts the server, serves HTTP on opts.Addr until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("preview server listening", "addr", s.opts.Addr)
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "err", err)
	}
	closeErr := s.Close(shutdownCtx)
	if serveErr != nil && serveErr != http.ErrServerClosed {
		return serveErr
	}
	return closeErr
}
