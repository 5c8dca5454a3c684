package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/export"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
	"github.com/matzehuels/diagramzoom/pkg/pipeline"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

//go:embed assets/client.js
var clientScript string

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","state":%q,"clients":%d}`, s.watcher.State(), s.hub.count())
	})
	r.Get("/", s.handleIndex)
	r.Get("/document", s.handleDocument)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/export/{index}.{format}", s.handleExport)
	r.NotFound(s.handleFile)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(pipeline.Shell(s.Title(), s.doc.BodyHTML(), s.doc.IsDark(), clientScript)))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(s.doc.BodyHTML()))
}

// handleFile serves files next to the markdown file, such as images it
// references.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if err := errors.ValidatePath(rel); err != nil {
		writeError(w, err)
		return
	}
	full := filepath.Join(filepath.Dir(s.path), filepath.FromSlash(rel))
	if full == s.path {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Exporter == nil {
		writeError(w, errors.New(errors.ErrCodeUnsupported, "export is disabled"))
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid diagram index %q", chi.URLParam(r, "index")))
		return
	}
	f, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, err)
		return
	}

	containers := s.doc.Containers()
	if index < 0 || index >= len(containers) {
		writeError(w, errors.New(errors.ErrCodeNotFound, "no diagram %d", index))
		return
	}
	c := containers[index]
	img := s.doc.Image(c)
	if img == nil {
		writeError(w, errors.New(errors.ErrCodeNotFound, "diagram %d is not rendered", index))
		return
	}
	cfg := s.containerConfig(c)
	svg := s.doc.OuterHTML(s.doc.PristineClone(img))

	data, err := s.opts.Exporter.Export(r.Context(), svg, f, export.Options{
		Scale: cfg.ExportScale,
		Dark:  s.doc.IsDark(),
		Title: s.Title(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, export.FileName(f, time.Now())))
	_, _ = w.Write(data)
}

// containerConfig is the configuration a container was attached with, or
// its parsed blob when it is not attached.
func (s *Server) containerConfig(c *html.Node) preview.Config {
	if inst, ok := s.att.Get(c); ok {
		return inst.Config
	}
	s.mu.Lock()
	base := s.opts.Markdown.Config
	s.mu.Unlock()
	cfg, err := preview.ParseConfig(s.doc.ConfigBlob(c), base)
	if err != nil {
		s.logger.Warn("invalid diagram config", "err", err)
	}
	return cfg
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidFormat, errors.ErrCodeInvalidPath:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound, errors.ErrCodeFileNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeUnsupported:
		status = http.StatusNotImplemented
	}
	http.Error(w, errors.UserMessage(err), status)
}

func (s *Server) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{}
	origins := s.opts.AllowedOrigins
	switch {
	case slices.Contains(origins, "*"):
		u.CheckOrigin = func(*http.Request) bool { return true }
	case len(origins) > 0:
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if o, err := url.Parse(origin); err == nil && o.Host == r.Host {
				return true
			}
			return slices.Contains(origins, origin)
		}
	}
	return u
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "err", err)
		return
	}
	c := s.hub.add(conn)
	defer s.hub.remove(c)

	s.hub.sendTo(c, message{Type: msgHello, ID: c.id})
	s.hub.sendTo(c, s.documentMessage())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", "client", c.id, "err", err)
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			s.hub.sendTo(c, message{Type: msgError, Error: "invalid message format"})
			continue
		}
		if err := s.handle(r.Context(), req); err != nil {
			s.logger.Debug("client request failed", "client", c.id, "type", req.Type, "err", err)
			s.hub.sendTo(c, message{Type: msgError, Error: errors.UserMessage(err)})
		}
	}
}

// handle applies one client request to the document.
func (s *Server) handle(ctx context.Context, req request) error {
	switch req.Type {
	case msgAction:
		containers := s.doc.Containers()
		if req.Container < 0 || req.Container >= len(containers) {
			return errors.New(errors.ErrCodeNotFound, "no diagram %d", req.Container)
		}
		return s.att.Dispatch(ctx, containers[req.Container], req.Action)
	case msgModal:
		return s.fs.Do(req.Action)
	case msgTheme:
		if s.doc.IsDark() != req.Dark {
			s.doc.SetDark(req.Dark)
		}
		return nil
	case msgResize:
		if req.Width <= 0 || req.Height <= 0 {
			return errors.New(errors.ErrCodeInvalidInput, "invalid size %vx%v", req.Width, req.Height)
		}
		s.watcher.Resize(panzoom.Size{Width: req.Width, Height: req.Height})
		return nil
	case msgKey:
		s.fs.HandleKey(req.Key)
		return nil
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown message type %q", req.Type)
	}
}
