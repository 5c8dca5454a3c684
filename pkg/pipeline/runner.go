package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/preview"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

// Runner renders markdown documents with caching.
//
// The Runner is stateless apart from its collaborators; several goroutines
// may render different documents with the same Runner.
type Runner struct {
	Renderer render.Renderer
	Cache    cache.Cache
	Keyer    cache.Keyer
	Logger   *log.Logger
}

// NewRunner creates a runner. A nil cache disables caching and a nil
// keyer uses cache.NewDefaultKeyer.
func NewRunner(r render.Renderer, c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Renderer: r, Cache: c, Keyer: keyer, Logger: logger}
}

// RenderDocument converts src and renders every diagram in it. Diagram
// failures are reported in the result and shown in the output as error
// boxes; they do not fail the document.
func (r *Runner) RenderDocument(ctx context.Context, src []byte, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	theme := opts.Preview.Theme(opts.Dark)
	key := r.Keyer.RenderKey("document", theme, opts.cacheKey()+"\x00"+string(src))

	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			var res Result
			if err := json.Unmarshal(data, &res); err == nil {
				res.CacheInfo.DocumentHit = true
				return &res, nil
			}
		}
	}

	res, doc, err := r.render(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if res.Failed == 0 {
		if data, err := json.Marshal(res); err == nil {
			_ = r.Cache.Set(ctx, key, data, TTLDocument)
		}
	}
	return res, nil
}

func (r *Runner) render(ctx context.Context, src []byte, opts Options) (*Result, *dom.Document, error) {
	res := &Result{}
	start := time.Now()
	conv, err := markdown.New(opts.markdown()).Convert(src)
	if err != nil {
		return nil, nil, err
	}
	res.Title = conv.Title
	if opts.Title != "" {
		res.Title = opts.Title
	}
	res.Stats.ConvertTime = time.Since(start)

	doc, err := dom.ParseString(Shell(res.Title, conv.Body, opts.Dark, ""))
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInternal, err, "parse converted document")
	}

	start = time.Now()
	coord := preview.NewCoordinator(doc, r.Renderer, r.Logger, preview.WithSettle(func(context.Context) error { return nil }))
	containers := doc.Containers()
	res.Diagrams = len(containers)
	for i, c := range containers {
		if err := ctx.Err(); err != nil {
			doc.Close()
			return nil, nil, errors.Wrap(errors.ErrCodeTimeout, err, "render document")
		}
		if _, err := r.renderOne(ctx, doc, coord, c, conv.Config); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("diagram %d: %v", i, err))
			r.Logger.Warn("diagram failed", "index", i, "err", err)
		}
	}
	res.Stats.RenderTime = time.Since(start)

	if opts.Standalone {
		res.HTML = doc.HTML()
	} else {
		res.HTML = doc.BodyHTML()
	}
	r.Logger.Debug("rendered document",
		"diagrams", res.Diagrams,
		"failed", res.Failed,
		"convert", res.Stats.ConvertTime.Round(time.Millisecond),
		"render", res.Stats.RenderTime.Round(time.Millisecond))
	return res, doc, nil
}

func (r *Runner) renderOne(ctx context.Context, doc *dom.Document, coord *preview.Coordinator, c *html.Node, base preview.Config) (*html.Node, error) {
	cfg, err := preview.ParseConfig(doc.ConfigBlob(c), base)
	if err != nil {
		r.Logger.Warn("bad diagram config, using defaults", "err", err)
	}
	return coord.EnsureRendered(ctx, c, doc.Source(c), cfg)
}

// Diagram renders the diagram at index of src and returns its svg.
func (r *Runner) Diagram(ctx context.Context, src []byte, index int, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", fmt.Errorf("invalid options: %w", err)
	}
	conv, err := markdown.New(opts.markdown()).Convert(src)
	if err != nil {
		return "", err
	}
	doc, err := dom.ParseString(Shell("", conv.Body, opts.Dark, ""))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "parse converted document")
	}
	defer doc.Close()

	containers := doc.Containers()
	if index < 0 || index >= len(containers) {
		return "", errors.New(errors.ErrCodeNotFound, "diagram %d not found (document has %d)", index, len(containers))
	}
	coord := preview.NewCoordinator(doc, r.Renderer, r.Logger, preview.WithSettle(func(context.Context) error { return nil }))
	img, err := r.renderOne(ctx, doc, coord, containers[index], conv.Config)
	if err != nil {
		return "", err
	}
	return doc.OuterHTML(img), nil
}

// Close releases the cache.
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}
