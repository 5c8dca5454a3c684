package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/export"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/preview"
	"github.com/matzehuels/diagramzoom/pkg/render"
	"github.com/matzehuels/diagramzoom/pkg/viewstate"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100" width="200" height="100"><rect width="200" height="100"></rect></svg>`

const oneDiagram = "---\ntitle: Flow\n---\n# Flow\n\n```mermaid\ngraph TD; A-->B\n```\n"

const twoDiagrams = "# Flow\n\n```mermaid\ngraph TD; A-->B\n```\n\n```mermaid\ngraph LR; C-->D\n```\n"

type fakeRenderer struct {
	mu     sync.Mutex
	themes []string
}

func (f *fakeRenderer) Engine() string { return "fake" }

func (f *fakeRenderer) Initialize(theme string, _ render.LayoutOptions) error {
	f.mu.Lock()
	f.themes = append(f.themes, theme)
	f.mu.Unlock()
	return nil
}

func (f *fakeRenderer) Render(context.Context, string, string) (render.Result, error) {
	return render.Result{SVG: testSVG}, nil
}

func (f *fakeRenderer) LastTheme() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.themes) == 0 {
		return ""
	}
	return f.themes[len(f.themes)-1]
}

func noSettle(context.Context) error { return nil }

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testOptions(t *testing.T, content string) Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.md")
	writeDoc(t, path, content)
	return Options{
		Path:     path,
		Renderer: &fakeRenderer{},
		Logger:   log.NewWithOptions(io.Discard, log.Options{}),
		Settle:   noSettle,
		WatcherOptions: []preview.WatcherOption{
			preview.WithReconcileDelay(10 * time.Millisecond),
			preview.WithResizeDelay(10 * time.Millisecond),
		},
		AttachOptions: []preview.AttachOption{preview.WithSaveDelay(10 * time.Millisecond)},
	}
}

// startServer starts a server for opts and waits for the first pass.
func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	waitIdle(t, s)
	return s
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body), resp.Header
}

func TestNewMissingFile(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	opts.Path = filepath.Join(t.TempDir(), "missing.md")
	if _, err := New(opts); err == nil {
		t.Fatal("New(missing) succeeded")
	}
}

func TestNewRequiresRenderer(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	opts.Renderer = nil
	if _, err := New(opts); err == nil {
		t.Fatal("New without renderer succeeded")
	}
}

func TestServeDocument(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, _ := get(t, ts.URL+"/document")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, want := range []string{"<svg", "mermaid-zoom-controls", "100%"} {
		if !strings.Contains(body, want) {
			t.Errorf("/document missing %q", want)
		}
	}

	status, body, _ = get(t, ts.URL+"/")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(body, "<title>Flow</title>") || !strings.Contains(body, "new WebSocket") {
		t.Errorf("index page missing title or client script")
	}

	status, body, _ = get(t, ts.URL+"/healthz")
	if status != http.StatusOK || !strings.Contains(body, `"state":"idle"`) {
		t.Errorf("/healthz = %d %s", status, body)
	}
}

func TestNewDefaultsDiagramConfig(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	opts.Markdown = markdown.Options{}
	s := startServer(t, opts)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, body, _ := get(t, ts.URL+"/document")
	if !strings.Contains(body, "mermaid-zoom-controls") {
		t.Errorf("diagram not made interactive with the default config:\n%s", body)
	}
}

func TestServeNeighbourFiles(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	writeDoc(t, filepath.Join(filepath.Dir(opts.Path), "notes.txt"), "hello")
	s := startServer(t, opts)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if status, body, _ := get(t, ts.URL+"/notes.txt"); status != http.StatusOK || body != "hello" {
		t.Errorf("/notes.txt = %d %q", status, body)
	}
	if status, _, _ := get(t, ts.URL+"/nope.txt"); status != http.StatusNotFound {
		t.Errorf("/nope.txt status = %d", status)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.URL.Path = "/../secret"
	s.handleFile(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal status = %d", rec.Code)
	}
}

func TestExportRoute(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	opts.Exporter = export.New(opts.Logger)
	s := startServer(t, opts)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, hdr := get(t, ts.URL+"/export/0.svg")
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	if !strings.HasPrefix(hdr.Get("Content-Type"), "image/svg+xml") {
		t.Errorf("Content-Type = %q", hdr.Get("Content-Type"))
	}
	if !strings.Contains(hdr.Get("Content-Disposition"), "mermaid-diagram-") {
		t.Errorf("Content-Disposition = %q", hdr.Get("Content-Disposition"))
	}
	if !strings.Contains(body, "<svg") || strings.Contains(body, "svg-pan-zoom_viewport") {
		t.Errorf("exported svg is not pristine: %s", body)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/export/7.svg", http.StatusNotFound},
		{"/export/x.svg", http.StatusBadRequest},
		{"/export/0.bmp", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if status, _, _ := get(t, ts.URL+tt.path); status != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, status, tt.want)
		}
	}
}

func TestExportRouteDisabled(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	if status, _, _ := get(t, ts.URL+"/export/0.svg"); status != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", status)
	}
}

// wsClient reads messages on a goroutine so tests can wait for one that
// matches.
type wsClient struct {
	conn *websocket.Conn
	msgs chan message
}

func dial(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &wsClient{conn: conn, msgs: make(chan message, 64)}
	go func() {
		defer close(c.msgs)
		for {
			var m message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			c.msgs <- m
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *wsClient) send(t *testing.T, v any) {
	t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) wait(t *testing.T, what string, match func(message) bool) message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-c.msgs:
			if !ok {
				t.Fatalf("connection closed waiting for %s", what)
			}
			if match(m) {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestWebSocketHelloAndDocument(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := dial(t, ts)
	hello := c.wait(t, "hello", func(m message) bool { return m.Type == msgHello })
	if hello.ID == "" {
		t.Error("hello carries no client id")
	}
	doc := c.wait(t, "document", func(m message) bool { return m.Type == msgDocument })
	if !strings.Contains(doc.HTML, "<svg") {
		t.Error("document message has no diagram")
	}
}

func TestWebSocketZoomAction(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := dial(t, ts)
	c.wait(t, "hello", func(m message) bool { return m.Type == msgHello })
	c.send(t, map[string]any{"type": "action", "container": 0, "action": "zoom-in"})
	c.wait(t, "zoomed document", func(m message) bool {
		return m.Type == msgDocument && strings.Contains(m.HTML, "130%")
	})

	key := viewstate.NewKey("graph TD; A-->B", 0)
	eventually(t, "saved view state", func() bool {
		st, ok := s.Store().Get(key)
		return ok && math.Abs(st.Zoom-1.3) < 1e-9
	})
}

func TestWebSocketErrors(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := dial(t, ts)
	tests := []any{
		map[string]any{"type": "bogus"},
		map[string]any{"type": "action", "container": 9, "action": "zoom-in"},
		map[string]any{"type": "action", "container": 0, "action": "spin"},
		map[string]any{"type": "resize", "width": 0, "height": 10},
	}
	for _, req := range tests {
		c.send(t, req)
		c.wait(t, "error", func(m message) bool { return m.Type == msgError && m.Error != "" })
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	m := c.wait(t, "format error", func(m message) bool { return m.Type == msgError })
	if m.Error != "invalid message format" {
		t.Errorf("error = %q", m.Error)
	}
}

func TestThemeFlip(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	r := opts.Renderer.(*fakeRenderer)
	s := startServer(t, opts)

	if err := s.handle(context.Background(), request{Type: msgTheme, Dark: true}); err != nil {
		t.Fatal(err)
	}
	if !s.Document().IsDark() {
		t.Fatal("document not dark")
	}
	eventually(t, "dark render", func() bool { return r.LastTheme() == "dark" })
}

func TestFullscreenOverWebSocket(t *testing.T) {
	s := startServer(t, testOptions(t, oneDiagram))
	ctx := context.Background()

	open := request{Type: msgAction, Container: 0, Action: preview.Action{Name: preview.ActionFullscreen}}
	if err := s.handle(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.fs.IsOpen() {
		t.Fatal("modal not open")
	}
	if err := s.handle(ctx, request{Type: msgModal, Action: preview.Action{Name: preview.ActionZoomIn}}); err != nil {
		t.Fatalf("modal zoom: %v", err)
	}
	if err := s.handle(ctx, request{Type: msgKey, Key: "Escape"}); err != nil {
		t.Fatal(err)
	}
	if s.fs.IsOpen() {
		t.Error("Escape did not close the modal")
	}
}

func TestReload(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	s := startServer(t, opts)

	writeDoc(t, opts.Path, twoDiagrams)
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	doc := s.Document()
	eventually(t, "two rendered diagrams", func() bool {
		cs := doc.Containers()
		return len(cs) == 2 && doc.Image(cs[0]) != nil && doc.Image(cs[1]) != nil
	})
	if s.Title() != "" {
		t.Errorf("Title = %q, want empty after front matter removed", s.Title())
	}
}

func TestFileWatchReloads(t *testing.T) {
	opts := testOptions(t, oneDiagram)
	s := startServer(t, opts)

	writeDoc(t, opts.Path, twoDiagrams)
	eventually(t, "reload from file change", func() bool {
		return len(s.Document().Containers()) == 2
	})
}

func TestViewStatePersisted(t *testing.T) {
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := testOptions(t, oneDiagram)
	opts.Cache = c

	s1, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s1.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s1)
	if err := s1.handle(ctx, request{Type: msgAction, Container: 0, Action: preview.Action{Name: preview.ActionZoomIn}}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := startServer(t, opts)
	key := viewstate.NewKey("graph TD; A-->B", 0)
	st, ok := s2.Store().Get(key)
	if !ok {
		t.Fatal("view state not restored from cache")
	}
	if math.Abs(st.Zoom-1.3) > 1e-9 {
		t.Errorf("zoom = %v, want 1.3", st.Zoom)
	}
}

func TestSetDefaults(t *testing.T) {
	opts := testOptions(t, "```mermaid\ngraph TD; A-->B\n```\n")
	s := startServer(t, opts)

	cfg := preview.DefaultConfig()
	cfg.ShowControls = preview.ControlsNever
	if err := s.SetDefaults(cfg); err != nil {
		t.Fatal(err)
	}
	eventually(t, "rendered without controls", func() bool {
		doc := s.Document()
		cs := doc.Containers()
		return len(cs) == 1 && doc.Image(cs[0]) != nil && !strings.Contains(doc.BodyHTML(), preview.ClassControls)
	})
}

func TestMessageJSON(t *testing.T) {
	var req request
	raw := `{"type":"action","container":2,"action":"wheel","delta":-120,"x":5,"y":6}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if req.Container != 2 || req.Name != preview.ActionWheel || req.Delta != -120 || req.X != 5 {
		t.Errorf("request = %+v", req)
	}
}
