// Package pipeline renders markdown documents into static HTML with every
// diagram pre-rendered.
//
// The pipeline is the non-interactive sibling of the preview host: it
// converts markdown with [markdown.Converter], parses the result into a
// [dom.Document] and runs the render coordinator over every container in
// document order. Nothing is attached, so the output carries no pan-zoom
// state; the preview client script attaches controllers when the page is
// opened.
//
// # Usage
//
//	runner := pipeline.NewRunner(renderer, c, nil, logger)
//	res, err := runner.RenderDocument(ctx, src, pipeline.Options{
//	    Preview:    preview.DefaultConfig(),
//	    Standalone: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("README.html", []byte(res.HTML), 0o644)
//
// Rendered documents are cached by content, theme and options; individual
// diagrams are cached by the renderer when it is wrapped in
// [render.NewCached].
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

// TTLDocument is how long rendered documents stay cached.
const TTLDocument = 7 * 24 * time.Hour

// Options configure one document render.
type Options struct {
	// Preview is the base configuration blob of every diagram.
	Preview preview.Config `json:"preview"`
	// Dark renders with the dark theme.
	Dark bool `json:"dark,omitempty"`
	// Title overrides the front matter title of standalone pages.
	Title string `json:"title,omitempty"`
	// Standalone wraps the body in a full HTML page.
	Standalone bool `json:"standalone,omitempty"`
	// Sanitize strips unsafe author HTML.
	Sanitize bool `json:"sanitize,omitempty"`
	// Style is the chroma style of ordinary code blocks.
	Style string `json:"style,omitempty"`
	// Refresh bypasses the document cache.
	Refresh bool `json:"-"`
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := o.Preview.Validate(); err != nil {
		return err
	}
	return nil
}

func (o Options) markdown() markdown.Options {
	return markdown.Options{Config: o.Preview, Style: o.Style, Sanitize: o.Sanitize}
}

func (o Options) cacheKey() string {
	b, err := json.Marshal(o)
	if err != nil {
		panic(errors.Wrap(errors.ErrCodeInternal, err, "marshal pipeline options"))
	}
	return string(b)
}

// Result is a rendered document.
type Result struct {
	// HTML is the body markup, or a full page for standalone renders.
	HTML  string `json:"html"`
	Title string `json:"title,omitempty"`
	// Diagrams counts diagram containers; Failed those whose render failed.
	Diagrams int      `json:"diagrams"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`

	Stats     Stats     `json:"-"`
	CacheInfo CacheInfo `json:"-"`
}

// Stats contains pipeline timings.
type Stats struct {
	ConvertTime time.Duration
	RenderTime  time.Duration
}

// CacheInfo tracks whether the document came from the cache.
type CacheInfo struct {
	DocumentHit bool
}
