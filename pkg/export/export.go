package export

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"

	"github.com/matzehuels/diagramzoom/pkg/browser"
	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

// Format is an export file format.
type Format string

const (
	SVG  Format = "svg"
	PNG  Format = "png"
	JPG  Format = "jpg"
	PDF  Format = "pdf"
	HTML Format = "html"
)

// Formats lists every supported format.
var Formats = []Format{PNG, JPG, SVG, PDF, HTML}

// NamePrefix starts every generated export file name.
const NamePrefix = "mermaid-diagram"

// DefaultJPEGQuality matches a 0.95 canvas encoder quality.
const DefaultJPEGQuality = 95

// ParseFormat accepts a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); f {
	case "jpeg":
		return JPG, nil
	case SVG, PNG, JPG, PDF, HTML:
		return f, nil
	case "htm":
		return HTML, nil
	}
	return "", errors.New(errors.ErrCodeInvalidFormat, "unsupported export format %q", s)
}

// Ext is the file extension without the dot.
func (f Format) Ext() string { return string(f) }

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case SVG:
		return "image/svg+xml"
	case PNG:
		return "image/png"
	case JPG:
		return "image/jpeg"
	case PDF:
		return "application/pdf"
	case HTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

// FileName is the default name of an export made at t.
func FileName(f Format, t time.Time) string {
	return fmt.Sprintf("%s-%d.%s", NamePrefix, t.UnixMilli(), f.Ext())
}

// Options tune one export.
type Options struct {
	// Scale multiplies the intrinsic size of raster output.
	Scale float64
	// MaxWidth caps raster width in pixels; 0 means no cap.
	MaxWidth int
	// Dark selects the dark page colors of HTML output.
	Dark bool
	// Title names HTML pages and PDF documents.
	Title string
}

// Exporter converts rendered diagram svg into files.
type Exporter struct {
	browser       *browser.Manager
	preferBrowser bool
	quality       int
	logger        *log.Logger
	now           func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithBrowser rasterizes through Chrome when rsvg-convert is missing.
func WithBrowser(m *browser.Manager) Option {
	return func(e *Exporter) { e.browser = m }
}

// PreferBrowser rasterizes through Chrome even when rsvg-convert is
// installed. It needs WithBrowser.
func PreferBrowser() Option {
	return func(e *Exporter) { e.preferBrowser = true }
}

// WithJPEGQuality sets the JPEG quality, 1 to 100.
func WithJPEGQuality(q int) Option {
	return func(e *Exporter) { e.quality = q }
}

// New returns an exporter.
func New(logger *log.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = log.Default()
	}
	e := &Exporter{quality: DefaultJPEGQuality, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.quality < 1 || e.quality > 100 {
		e.quality = DefaultJPEGQuality
	}
	return e
}

// Export converts svg into format f.
func (e *Exporter) Export(ctx context.Context, svg string, f Format, o Options) ([]byte, error) {
	hooks := observability.Export()
	hooks.OnExportStart(ctx, string(f))
	start := time.Now()
	out, err := e.export(ctx, svg, f, o)
	hooks.OnExportComplete(ctx, string(f), len(out), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("exported diagram", "format", f, "bytes", len(out), "took", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (e *Exporter) export(ctx context.Context, svg string, f Format, o Options) ([]byte, error) {
	if !strings.Contains(svg, "<svg") {
		return nil, errors.New(errors.ErrCodeInvalidInput, "export input is not svg")
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	switch f {
	case SVG:
		return []byte(svg), nil
	case HTML:
		return Page(svg, o)
	case PNG:
		return e.png(ctx, svg, o)
	case JPG:
		raw, err := e.png(ctx, svg, o)
		if err != nil {
			return nil, err
		}
		return e.jpeg(raw)
	case PDF:
		return e.pdf(ctx, svg, o)
	}
	return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported export format %q", f)
}

// WriteFile exports into dir and returns the written path. An empty name
// picks the default file name.
func (e *Exporter) WriteFile(ctx context.Context, dir, name, svg string, f Format, o Options) (string, error) {
	if name == "" {
		name = FileName(f, e.now())
	} else if err := errors.ValidateExportName(name); err != nil {
		return "", err
	}
	if filepath.Ext(name) == "" {
		name += "." + f.Ext()
	}
	data, err := e.Export(ctx, svg, f, o)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeExportFailed, err, "create export dir")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeExportFailed, err, "write %s", name)
	}
	return path, nil
}

func (e *Exporter) png(ctx context.Context, svg string, o Options) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch {
	case e.browser != nil && (e.preferBrowser || !render.HasRSVG()):
		raw, err = e.screenshot(ctx, svg, o.Scale)
	case render.HasRSVG():
		raw, err = render.ToPNG(ctx, []byte(svg), o.Scale)
	default:
		return nil, errors.Wrap(errors.ErrCodeUnsupported, render.ErrNoRSVG, "no rasterizer available")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "rasterize diagram")
	}
	if o.MaxWidth > 0 {
		return downscale(raw, o.MaxWidth)
	}
	return raw, nil
}

func (e *Exporter) screenshot(ctx context.Context, svg string, scale float64) ([]byte, error) {
	frag, err := dom.Fragment(svg)
	if err != nil {
		return nil, err
	}
	b := dom.Bounds(frag)
	w, h := int(math.Ceil(b.Width)), int(math.Ceil(b.Height))
	if w <= 0 || h <= 0 {
		w, h = 800, 600
	}
	page, err := e.browser.Page(ctx, w, h, scale)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	page = page.Context(ctx)

	doc := `<!DOCTYPE html><html><head><style>html,body{margin:0;background:#fff}svg{display:block}</style></head><body>` + svg + `</body></html>`
	if err := page.SetDocumentContent(doc); err != nil {
		return nil, err
	}
	el, err := page.Element("svg")
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// jpeg flattens a png onto white, since JPEG has no alpha.
func (e *Exporter) jpeg(raw []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "decode png")
	}
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

func downscale(raw []byte, maxWidth int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "decode png")
	}
	sb := src.Bounds()
	if sb.Dx() <= maxWidth {
		return raw, nil
	}
	h := int(math.Round(float64(sb.Dy()) * float64(maxWidth) / float64(sb.Dx())))
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "encode png")
	}
	return buf.Bytes(), nil
}

var pdfConfigOnce sync.Once

func pdfConfig() *model.Configuration {
	pdfConfigOnce.Do(api.DisableConfigDir)
	return model.NewDefaultConfiguration()
}

func (e *Exporter) pdf(ctx context.Context, svg string, o Options) ([]byte, error) {
	raw, err := render.ToPDF(ctx, []byte(svg))
	if stderrors.Is(err, render.ErrNoRSVG) {
		return nil, errors.Wrap(errors.ErrCodeUnsupported, err, "convert to pdf")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "convert to pdf")
	}
	conf := pdfConfig()
	if err := api.Validate(bytes.NewReader(raw), conf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, err, "validate pdf")
	}
	if o.Title == "" {
		return raw, nil
	}
	var buf bytes.Buffer
	props := map[string]string{"Title": o.Title}
	if err := api.AddProperties(bytes.NewReader(raw), &buf, props, conf); err != nil {
		e.logger.Warn("pdf properties not set", "err", err)
		return raw, nil
	}
	return buf.Bytes(), nil
}
