package preview

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/fingerprint"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

// ErrNoTarget is returned for a container without a render target.
var ErrNoTarget = stderrors.New("preview: container has no render target")

// Frame is the duration of one layout frame.
const Frame = 16 * time.Millisecond

// SettleFunc waits until layout is stable after new output was inserted.
type SettleFunc func(ctx context.Context) error

// Frames returns a SettleFunc that waits n frames.
func Frames(n int) SettleFunc {
	return func(ctx context.Context) error {
		t := time.NewTimer(time.Duration(n) * Frame)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

// Coordinator renders containers through a render.Renderer. Rendering is
// idempotent per container: a container that already shows an image is
// returned as is.
type Coordinator struct {
	doc      *dom.Document
	renderer render.Renderer
	settle   SettleFunc
	layout   render.LayoutOptions
	logger   *log.Logger

	mu          sync.Mutex
	theme       string
	initialized bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSettle replaces the two-frame settle delay.
func WithSettle(fn SettleFunc) CoordinatorOption {
	return func(c *Coordinator) { c.settle = fn }
}

// WithLayout sets the layout options passed on every Initialize.
func WithLayout(l render.LayoutOptions) CoordinatorOption {
	return func(c *Coordinator) { c.layout = l }
}

// NewCoordinator returns a coordinator for doc. A nil logger uses
// log.Default().
func NewCoordinator(doc *dom.Document, r render.Renderer, logger *log.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		doc:      doc,
		renderer: r,
		settle:   Frames(2),
		layout:   render.DefaultLayout(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize configures the renderer for theme.
func (c *Coordinator) Initialize(theme string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initLocked(theme)
}

func (c *Coordinator) initLocked(theme string) error {
	if err := c.renderer.Initialize(theme, c.layout); err != nil {
		return errors.Wrap(errors.ErrCodeRenderFailed, err, "initialize renderer with theme %q", theme)
	}
	c.theme = theme
	c.initialized = true
	c.logger.Debug("renderer initialized", "engine", c.renderer.Engine(), "theme", theme)
	return nil
}

// Theme returns the theme the renderer was last initialized with.
func (c *Coordinator) Theme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

// EnsureRendered returns the image of container, rendering source first
// when the container has none.
//
// A nil image with a nil error means the container left the document while
// its render was in flight; nothing was written. A render failure is
// written into the container as an error box and returned as a
// RENDER_FAILED error; it is not retried. A render cut short by ctx leaves
// the container untouched and returns ctx.Err().
func (c *Coordinator) EnsureRendered(ctx context.Context, container *html.Node, source string, cfg Config) (*html.Node, error) {
	if c.doc.Target(container) == nil {
		return nil, ErrNoTarget
	}
	if img := c.doc.Image(container); img != nil {
		return img, nil
	}

	theme := cfg.Theme(c.doc.IsDark())
	c.mu.Lock()
	if !c.initialized || c.theme != theme {
		if err := c.initLocked(theme); err != nil {
			c.mu.Unlock()
			c.doc.SetError(container, errorTitle(c.doc.Language(container)), err.Error())
			return nil, err
		}
	}
	c.mu.Unlock()

	lang := c.doc.Language(container)
	start := time.Now()
	res, err := c.renderer.Render(render.WithLanguage(ctx, lang), render.NewID(), source)
	observability.Preview().OnRender(ctx, fingerprint.Of(source), time.Since(start), err)

	if !c.doc.Contains(container) {
		c.logger.Debug("container detached during render, dropping result")
		return nil, nil
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		c.doc.SetError(container, errorTitle(lang), err.Error())
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "render diagram")
	}

	img, err := c.doc.SetImage(container, res.SVG)
	if err != nil {
		if dom.IsNoTarget(err) {
			return nil, ErrNoTarget
		}
		c.doc.SetError(container, errorTitle(lang), "renderer returned no image")
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "insert rendered image")
	}

	if err := c.settle(ctx); err != nil {
		return nil, err
	}
	return img, nil
}

// ForceRender drops any previous output of container and renders again.
func (c *Coordinator) ForceRender(ctx context.Context, container *html.Node, source string, cfg Config) (*html.Node, error) {
	c.doc.ClearTarget(container)
	return c.EnsureRendered(ctx, container, source, cfg)
}

func errorTitle(lang string) string {
	switch strings.ToLower(lang) {
	case "", "mermaid":
		return "Mermaid Diagram Error"
	default:
		return "Diagram Error"
	}
}
