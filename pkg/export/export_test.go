package export

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/observability"
	"github.com/matzehuels/diagramzoom/pkg/preview"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 20 10"><rect width="20" height="10" fill="red"/></svg>`

func quiet() *log.Logger {
	return log.NewWithOptions(&strings.Builder{}, log.Options{Level: log.FatalLevel})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"png", PNG, true},
		{"PNG", PNG, true},
		{".jpg", JPG, true},
		{"jpeg", JPG, true},
		{"svg", SVG, true},
		{"pdf", PDF, true},
		{"html", HTML, true},
		{"htm", HTML, true},
		{"gif", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, errors.ErrCodeInvalidFormat) {
			t.Errorf("ParseFormat(%q) code = %q", tt.in, errors.GetCode(err))
		}
	}
}

func TestFileName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	if got := FileName(JPG, ts); got != "mermaid-diagram-1700000000123.jpg" {
		t.Errorf("FileName = %q", got)
	}
	if got := JPG.ContentType(); got != "image/jpeg" {
		t.Errorf("ContentType = %q", got)
	}
}

func TestPage(t *testing.T) {
	light, err := Page(testSVG, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s := string(light)
	if !strings.Contains(s, testSVG) || !strings.Contains(s, "<title>mermaid-diagram</title>") || !strings.Contains(s, "#ffffff") {
		t.Errorf("light page:\n%s", s)
	}

	dark, err := Page(testSVG, Options{Dark: true, Title: "Flow <1>"})
	if err != nil {
		t.Fatal(err)
	}
	s = string(dark)
	if !strings.Contains(s, "#1e1e1e") || !strings.Contains(s, "Flow &lt;1&gt;") {
		t.Errorf("dark page:\n%s", s)
	}
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestJPEGFlattensOnWhite(t *testing.T) {
	e := New(quiet())
	out, err := e.jpeg(pngBytes(t, 4, 4, color.NRGBA{}))
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Errorf("transparent pixel became %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestDownscale(t *testing.T) {
	raw := pngBytes(t, 100, 50, color.NRGBA{R: 255, A: 255})
	out, err := downscale(raw, 40)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Errorf("size = %dx%d", cfg.Width, cfg.Height)
	}

	same, err := downscale(raw, 200)
	if err != nil || !bytes.Equal(same, raw) {
		t.Error("narrow image was re-encoded")
	}
}

type exportRecorder struct {
	observability.NoopExportHooks
	done atomic.Int32
	errs atomic.Int32
}

func (r *exportRecorder) OnExportComplete(_ context.Context, _ string, _ int, _ time.Duration, err error) {
	r.done.Add(1)
	if err != nil {
		r.errs.Add(1)
	}
}

func TestExport(t *testing.T) {
	rec := &exportRecorder{}
	observability.SetExportHooks(rec)
	t.Cleanup(observability.Reset)

	e := New(quiet())
	ctx := context.Background()
	out, err := e.Export(ctx, testSVG, SVG, Options{})
	if err != nil || string(out) != testSVG {
		t.Fatalf("svg export = %q, %v", out, err)
	}
	if _, err := e.Export(ctx, "hello", SVG, Options{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("non-svg input: %v", err)
	}
	if _, err := e.Export(ctx, testSVG, "gif", Options{}); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("bad format: %v", err)
	}
	if rec.done.Load() != 3 || rec.errs.Load() != 2 {
		t.Errorf("hooks saw %d exports, %d failed", rec.done.Load(), rec.errs.Load())
	}
}

func TestRasterWithoutRasterizer(t *testing.T) {
	if render.HasRSVG() {
		t.Skip("rsvg-convert installed")
	}
	e := New(quiet())
	for _, f := range []Format{PNG, JPG, PDF} {
		if _, err := e.Export(context.Background(), testSVG, f, Options{}); !errors.Is(err, errors.ErrCodeUnsupported) {
			t.Errorf("%s: err = %v, want UNSUPPORTED", f, err)
		}
	}
}

func TestRasterWithRSVG(t *testing.T) {
	if !render.HasRSVG() {
		t.Skip("rsvg-convert not installed")
	}
	e := New(quiet())
	out, err := e.Export(context.Background(), testSVG, JPG, Options{Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 {
		t.Errorf("width = %d, want 40", cfg.Width)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	e := New(quiet())
	e.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	path, err := e.WriteFile(ctx, dir, "", testSVG, SVG, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "mermaid-diagram-42.svg" {
		t.Errorf("path = %s", path)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != testSVG {
		t.Errorf("file = %q, %v", data, err)
	}

	path, err = e.WriteFile(ctx, dir, "flow", testSVG, HTML, Options{})
	if err != nil || filepath.Base(path) != "flow.html" {
		t.Errorf("named export = %s, %v", path, err)
	}
	if _, err := e.WriteFile(ctx, dir, "../escape", testSVG, SVG, Options{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("traversal name: %v", err)
	}
}

func TestSink(t *testing.T) {
	dir := t.TempDir()
	e := New(quiet())
	var got string
	fn := e.Sink(dir, func() bool { return true }, func(p string) { got = p })
	if err := fn(context.Background(), testSVG, preview.DefaultConfig(), "html"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "#1e1e1e") {
		t.Error("dark document exported with light colors")
	}
	if err := fn(context.Background(), testSVG, preview.DefaultConfig(), "bmp"); err == nil {
		t.Error("bad format accepted")
	}
}
