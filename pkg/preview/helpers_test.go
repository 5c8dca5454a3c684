package preview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
	"github.com/matzehuels/diagramzoom/pkg/render"
	"github.com/matzehuels/diagramzoom/pkg/viewstate"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100" width="200" height="100" style="max-width: 200px;"><rect width="200" height="100"></rect></svg>`

// fakeRenderer renders every source to testSVG unless it contains failOn.
type fakeRenderer struct {
	mu     sync.Mutex
	calls  int
	themes []string
	failOn string
	block  chan struct{}
}

func (f *fakeRenderer) Engine() string { return "fake" }

func (f *fakeRenderer) Initialize(theme string, _ render.LayoutOptions) error {
	f.mu.Lock()
	f.themes = append(f.themes, theme)
	f.mu.Unlock()
	return nil
}

func (f *fakeRenderer) Render(ctx context.Context, _, source string) (render.Result, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return render.Result{}, ctx.Err()
		}
	}
	if f.failOn != "" && strings.Contains(source, f.failOn) {
		return render.Result{}, errors.New("Parse error near <script>alert(1)</script>")
	}
	return render.Result{SVG: testSVG}, nil
}

func (f *fakeRenderer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRenderer) LastTheme() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.themes) == 0 {
		return ""
	}
	return f.themes[len(f.themes)-1]
}

// countingCtrl counts Destroy calls across controllers.
type countingCtrl struct {
	*panzoom.Controller
	destroys *atomic.Int32
}

func (c countingCtrl) Destroy() error {
	c.destroys.Add(1)
	return c.Controller.Destroy()
}

func countingFactory(n *atomic.Int32) panzoom.Factory {
	return func(s panzoom.Surface, opts panzoom.Options) (panzoom.Instance, error) {
		c, err := panzoom.New(s, opts)
		if err != nil {
			return nil, err
		}
		return countingCtrl{Controller: c, destroys: n}, nil
	}
}

// hookRecorder counts preview hook calls.
type hookRecorder struct {
	observability.NoopPreviewHooks
	saves    atomic.Int32
	restores atomic.Int32
	hits     atomic.Int32
	passes   atomic.Int32
	attached atomic.Int32
	failed   atomic.Int32
}

func (h *hookRecorder) OnReconcileComplete(_ context.Context, attached, failed int, _ time.Duration) {
	h.attached.Store(int32(attached))
	h.failed.Store(int32(failed))
	h.passes.Add(1)
}

func (h *hookRecorder) OnSave(context.Context, string) { h.saves.Add(1) }

func (h *hookRecorder) OnRestore(_ context.Context, _ string, ok bool) {
	h.restores.Add(1)
	if ok {
		h.hits.Add(1)
	}
}

func recordHooks(t *testing.T) *hookRecorder {
	t.Helper()
	h := &hookRecorder{}
	observability.SetPreviewHooks(h)
	t.Cleanup(observability.Reset)
	return h
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(&strings.Builder{}, log.Options{Level: log.FatalLevel})
}

func page(body string) string {
	return `<!DOCTYPE html><html><head></head><body class="vscode-light">` + body + `</body></html>`
}

func containers(sources ...string) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(dom.ContainerHTML(s, "", "mermaid"))
	}
	return b.String()
}

func newDoc(t *testing.T, sources ...string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(page(containers(sources...)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d
}

func noSettle(context.Context) error { return nil }

type fixture struct {
	doc      *dom.Document
	renderer *fakeRenderer
	store    *viewstate.Store
	coord    *Coordinator
	att      *Attacher
	destroys *atomic.Int32
}

func newFixture(t *testing.T, sources ...string) *fixture {
	t.Helper()
	f := &fixture{
		doc:      newDoc(t, sources...),
		renderer: &fakeRenderer{},
		store:    viewstate.NewStore(quietLogger()),
		destroys: &atomic.Int32{},
	}
	f.coord = NewCoordinator(f.doc, f.renderer, quietLogger(), WithSettle(noSettle))
	f.att = NewAttacher(f.doc, f.store, quietLogger(),
		WithFactory(countingFactory(f.destroys)),
		WithSaveDelay(50*time.Millisecond),
	)
	return f
}

// attach renders and attaches the container at index i.
func (f *fixture) attach(t *testing.T, i int, cfg Config) (*html.Node, panzoom.Instance) {
	t.Helper()
	c := f.doc.Containers()[i]
	src := f.doc.Source(c)
	img, err := f.coord.EnsureRendered(context.Background(), c, src, cfg)
	if err != nil || img == nil {
		t.Fatalf("EnsureRendered = %v, %v", img, err)
	}
	ctrl, err := f.att.Attach(context.Background(), c, img, cfg, i, src)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return c, ctrl
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
