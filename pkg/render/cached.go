package render

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/diagramzoom/pkg/cache"
)

// Cached memoizes an inner renderer. Entries are keyed by engine, fence
// language, theme and source. Only successful renders are stored.
type Cached struct {
	inner  Renderer
	cache  cache.Cache
	keyer  cache.Keyer
	ttl    time.Duration
	logger *log.Logger

	mu    sync.RWMutex
	theme string
}

var _ Renderer = (*Cached)(nil)

// NewCached wraps inner. A nil keyer uses cache.NewDefaultKeyer and a nil
// logger log.Default().
func NewCached(inner Renderer, c cache.Cache, keyer cache.Keyer, ttl time.Duration, logger *log.Logger) *Cached {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cached{inner: inner, cache: c, keyer: keyer, ttl: ttl, logger: logger}
}

// Engine implements Renderer.
func (c *Cached) Engine() string { return c.inner.Engine() }

// Initialize implements Renderer.
func (c *Cached) Initialize(theme string, opts LayoutOptions) error {
	if err := c.inner.Initialize(theme, opts); err != nil {
		return err
	}
	c.mu.Lock()
	c.theme = theme
	c.mu.Unlock()
	return nil
}

// Render implements Renderer. Cache failures degrade to an uncached render.
func (c *Cached) Render(ctx context.Context, id, source string) (Result, error) {
	c.mu.RLock()
	theme := c.theme
	c.mu.RUnlock()

	engine := c.inner.Engine()
	if lang := LanguageFrom(ctx); lang != "" {
		engine += "/" + lang
	}
	key := c.keyer.RenderKey(engine, theme, source)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("render cache read failed", "key", key, "err", err)
	} else if ok {
		var res Result
		if err := json.Unmarshal(data, &res); err == nil && res.SVG != "" {
			return res, nil
		}
	}

	res, err := c.inner.Render(ctx, id, source)
	if err != nil {
		return Result{}, err
	}
	data, err := json.Marshal(res)
	if err == nil {
		err = c.cache.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("render cache write failed", "key", key, "err", err)
	}
	return res, nil
}
