// Package mermaid renders Mermaid diagrams with mermaid.js running in a
// headless browser tab.
//
// The mermaid script is downloaded once with retries and kept in the asset
// cache. All renders share one tab and run one at a time; mermaid.js keeps
// global state and is not reentrant.
package mermaid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/matzehuels/diagramzoom/pkg/browser"
	"github.com/matzehuels/diagramzoom/pkg/buildinfo"
	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

// DefaultScriptURL is the mermaid build loaded into the render tab.
const DefaultScriptURL = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.min.js"

// Options configures a Renderer.
type Options struct {
	ScriptURL string
	// Timeout bounds a single render. Default: 30s.
	Timeout time.Duration
	// ScriptTTL is how long the downloaded script stays cached. Default: 7 days.
	ScriptTTL time.Duration
	Cache     cache.Cache
	Keyer     cache.Keyer
	Logger    *log.Logger
}

func (o *Options) defaults() {
	if o.ScriptURL == "" {
		o.ScriptURL = DefaultScriptURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ScriptTTL <= 0 {
		o.ScriptTTL = 7 * 24 * time.Hour
	}
	if o.Cache == nil {
		o.Cache = cache.NewNullCache()
	}
	if o.Keyer == nil {
		o.Keyer = cache.NewDefaultKeyer()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Renderer renders Mermaid sources.
type Renderer struct {
	mgr    *browser.Manager
	opts   Options
	client *retryablehttp.Client

	mu     sync.Mutex
	page   *rod.Page
	theme  string
	layout render.LayoutOptions
	dirty  bool
}

var _ render.Renderer = (*Renderer)(nil)

// New returns a renderer using the browser of mgr.
func New(mgr *browser.Manager, opts Options) *Renderer {
	opts.defaults()
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	r := &Renderer{
		mgr:    mgr,
		opts:   opts,
		client: client,
		theme:  "default",
		layout: render.DefaultLayout(),
		dirty:  true,
	}
	if mgr != nil {
		mgr.OnRecycle(func(*rod.Browser) {
			r.mu.Lock()
			r.page = nil
			r.dirty = true
			r.mu.Unlock()
		})
	}
	return r
}

// Engine implements render.Renderer.
func (r *Renderer) Engine() string { return "mermaid" }

// Initialize implements render.Renderer. The configuration is pushed to
// mermaid.js before the next render.
func (r *Renderer) Initialize(theme string, opts render.LayoutOptions) error {
	if theme == "" {
		theme = "default"
	}
	r.mu.Lock()
	r.theme = theme
	r.layout = opts
	r.dirty = true
	r.mu.Unlock()
	return nil
}

// InitConfig is the argument handed to mermaid.initialize.
func InitConfig(theme string, l render.LayoutOptions) map[string]any {
	return map[string]any{
		"startOnLoad":   false,
		"theme":         theme,
		"securityLevel": l.SecurityLevel,
		"fontFamily":    l.FontFamily,
		"flowchart": map[string]any{
			"useMaxWidth": l.UseMaxWidth,
			"htmlLabels":  l.HTMLLabels,
		},
		"sequence": map[string]any{"useMaxWidth": l.UseMaxWidth},
		"gantt":    map[string]any{"useMaxWidth": l.UseMaxWidth},
	}
}

// Render implements render.Renderer.
func (r *Renderer) Render(ctx context.Context, id, source string) (render.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	page, err := r.pageLocked(ctx)
	if err != nil {
		return render.Result{}, err
	}
	p := page.Context(ctx)

	if r.dirty {
		if _, err := p.Eval(`cfg => mermaid.initialize(cfg)`, InitConfig(r.theme, r.layout)); err != nil {
			return render.Result{}, fmt.Errorf("mermaid: initialize: %w", err)
		}
		r.dirty = false
	}

	res, err := p.Eval(`(id, src) => mermaid.render(id, src).then(r => r.svg)`, id, source)
	if err != nil {
		// mermaid leaves its scratch element behind on failure
		_, _ = page.Eval(`id => { const el = document.getElementById('d' + id); if (el) el.remove(); }`, id)
		return render.Result{}, fmt.Errorf("mermaid: %w", err)
	}
	return render.Result{SVG: res.Value.Str()}, nil
}

func (r *Renderer) pageLocked(ctx context.Context) (*rod.Page, error) {
	if r.page != nil {
		return r.page, nil
	}
	if r.mgr == nil {
		return nil, fmt.Errorf("mermaid: no browser configured")
	}
	script, err := r.Script(ctx)
	if err != nil {
		return nil, err
	}
	page, err := r.mgr.Page(ctx, 1280, 800, 1)
	if err != nil {
		return nil, err
	}
	if err := page.SetDocumentContent("<!DOCTYPE html><html><head></head><body></body></html>"); err != nil {
		page.Close()
		return nil, fmt.Errorf("mermaid: prepare tab: %w", err)
	}
	if err := page.AddScriptTag("", script); err != nil {
		page.Close()
		return nil, fmt.Errorf("mermaid: load script: %w", err)
	}
	r.page = page
	r.dirty = true
	return page, nil
}

// Script returns the mermaid script, from the asset cache when possible.
func (r *Renderer) Script(ctx context.Context) (string, error) {
	key := r.opts.Keyer.AssetKey(r.opts.ScriptURL)
	if data, ok, err := r.opts.Cache.Get(ctx, key); err != nil {
		r.opts.Logger.Warn("asset cache read failed", "url", r.opts.ScriptURL, "err", err)
	} else if ok && len(data) > 0 {
		return string(data), nil
	}

	data, err := r.fetch(ctx, r.opts.ScriptURL)
	if err != nil {
		return "", err
	}
	if err := r.opts.Cache.Set(ctx, key, data, r.opts.ScriptTTL); err != nil {
		r.opts.Logger.Warn("asset cache write failed", "url", r.opts.ScriptURL, "err", err)
	}
	return string(data), nil
}

func (r *Renderer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mermaid: build script request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	r.opts.Logger.Debug("fetching mermaid script", "url", url)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mermaid: fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mermaid: fetch script: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mermaid: read script: %w", err)
	}
	return data, nil
}

// Close releases the render tab. The browser itself belongs to the
// manager.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.page == nil {
		return nil
	}
	err := r.page.Close()
	r.page = nil
	return err
}
