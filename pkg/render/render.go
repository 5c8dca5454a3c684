package render

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Result is the output of one render.
type Result struct {
	SVG string
}

// LayoutOptions are the engine-wide layout settings applied with a theme.
type LayoutOptions struct {
	FontFamily    string `json:"fontFamily" yaml:"font_family" koanf:"font_family"`
	UseMaxWidth   bool   `json:"useMaxWidth" yaml:"use_max_width" koanf:"use_max_width"`
	HTMLLabels    bool   `json:"htmlLabels" yaml:"html_labels" koanf:"html_labels"`
	SecurityLevel string `json:"securityLevel" yaml:"security_level" koanf:"security_level"`
}

// DefaultLayout returns the layout used by the preview.
func DefaultLayout() LayoutOptions {
	return LayoutOptions{
		FontFamily:    `"Segoe UI", Helvetica, Arial, sans-serif`,
		UseMaxWidth:   true,
		HTMLLabels:    true,
		SecurityLevel: "loose",
	}
}

// Renderer turns diagram source into SVG.
type Renderer interface {
	// Engine names the renderer, e.g. "mermaid".
	Engine() string
	// Initialize selects a theme. It must be called before the first
	// Render and may be called again at any time.
	Initialize(theme string, opts LayoutOptions) error
	// Render renders source. id is unique per call and may end up as the
	// root element id of the svg.
	Render(ctx context.Context, id, source string) (Result, error)
}

// NewID returns a fresh diagram id usable as an XML id.
func NewID() string {
	return "diagram-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type languageKey struct{}

// WithLanguage records the fence language of the diagram being rendered.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey{}, strings.ToLower(strings.TrimSpace(lang)))
}

// LanguageFrom returns the language set by WithLanguage, or "".
func LanguageFrom(ctx context.Context) string {
	s, _ := ctx.Value(languageKey{}).(string)
	return s
}

// Router dispatches renders to an engine chosen by the diagram language.
type Router struct {
	fallback string
	engines  map[string]Renderer

	mu     sync.Mutex
	theme  string
	layout LayoutOptions
	ready  map[string]bool
}

var _ Renderer = (*Router)(nil)

// NewRouter routes each language in engines to its renderer and unknown or
// missing languages to engines[fallback].
func NewRouter(fallback string, engines map[string]Renderer) *Router {
	return &Router{fallback: fallback, engines: engines, ready: make(map[string]bool)}
}

// Engine implements Renderer.
func (r *Router) Engine() string { return "router" }

// Initialize records the theme. Engines are initialized lazily on their
// first render under that theme, so an engine that is never used never
// starts.
func (r *Router) Initialize(theme string, opts LayoutOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.theme = theme
	r.layout = opts
	clear(r.ready)
	return nil
}

// Render implements Renderer.
func (r *Router) Render(ctx context.Context, id, source string) (Result, error) {
	lang := LanguageFrom(ctx)
	eng, ok := r.engines[lang]
	if !ok {
		lang = r.fallback
		eng, ok = r.engines[lang]
	}
	if !ok {
		return Result{}, fmt.Errorf("render: no engine for language %q", LanguageFrom(ctx))
	}

	r.mu.Lock()
	if !r.ready[lang] {
		if err := eng.Initialize(r.theme, r.layout); err != nil {
			r.mu.Unlock()
			return Result{}, fmt.Errorf("render: initialize %s: %w", eng.Engine(), err)
		}
		r.ready[lang] = true
	}
	r.mu.Unlock()

	return eng.Render(ctx, id, source)
}
