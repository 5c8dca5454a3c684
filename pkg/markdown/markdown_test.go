package markdown

import (
	"strings"
	"testing"

	"github.com/matzehuels/diagramzoom/pkg/dom"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

const doc = "# Title\n\nSome text.\n\n```mermaid\ngraph TD\n  A-->B\n```\n\n```go\nfunc main() {}\n```\n\n```dot\ndigraph { a -> b }\n```\n"

func TestConvertContainers(t *testing.T) {
	c := New(Options{Config: preview.DefaultConfig()})
	out, err := c.Convert([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	d, err := dom.ParseString("<html><body>" + out.Body + "</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	cs := d.Containers()
	if len(cs) != 2 {
		t.Fatalf("%d containers:\n%s", len(cs), out.Body)
	}
	if got := d.Source(cs[0]); got != "graph TD\n  A-->B" {
		t.Errorf("source = %q", got)
	}
	if got := d.Language(cs[1]); got != "dot" {
		t.Errorf("language = %q", got)
	}
	cfg, err := preview.ParseConfig(d.ConfigBlob(cs[0]), preview.Config{})
	if err != nil || cfg != preview.DefaultConfig() {
		t.Errorf("blob = %+v, %v", cfg, err)
	}
	if !strings.Contains(out.Body, `id="title"`) {
		t.Error("heading ids missing")
	}
	if strings.Contains(out.Body, `class="language-go"`) {
		t.Error("go fence not highlighted")
	}
}

func TestConvertDisabled(t *testing.T) {
	cfg := preview.DefaultConfig()
	cfg.Enabled = false
	out, err := New(Options{Config: cfg, Style: "none"}).Convert([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Body, dom.ClassContainer) {
		t.Error("containers emitted while disabled")
	}
	if !strings.Contains(out.Body, `<div class="mermaid">graph TD`) {
		t.Errorf("plain diagram missing:\n%s", out.Body)
	}
	if !strings.Contains(out.Body, `class="language-go"`) {
		t.Error("plain fence rendering lost")
	}
}

func TestConvertFrontMatter(t *testing.T) {
	src := "---\ntitle: Architecture\ndiagramzoom:\n  show_controls: always\n  max_zoom: 8\n---\n" + doc
	out, err := New(Options{Config: preview.DefaultConfig()}).Convert([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if out.Title != "Architecture" {
		t.Errorf("title = %q", out.Title)
	}
	if out.Config.ShowControls != preview.ControlsAlways || out.Config.MaxZoom != 8 || out.Config.MinZoom != 0.1 {
		t.Errorf("config = %+v", out.Config)
	}
	if !strings.Contains(out.Body, "&#34;showControls&#34;:&#34;always&#34;") {
		t.Errorf("blob not overridden:\n%s", out.Body)
	}
	if strings.Contains(out.Body, "title: Architecture") {
		t.Error("front matter rendered")
	}
}

func TestConvertZeroConfigUsesDefaults(t *testing.T) {
	src := "---\ntitle: Plain\n---\n" + doc
	out, err := New(Options{}).Convert([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if out.Config != preview.DefaultConfig() {
		t.Errorf("config = %+v, want defaults", out.Config)
	}
	d, err := dom.ParseString("<html><body>" + out.Body + "</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	cs := d.Containers()
	if len(cs) != 2 {
		t.Fatalf("%d containers", len(cs))
	}
	cfg, err := preview.ParseConfig(d.ConfigBlob(cs[0]), preview.Config{})
	if err != nil || !cfg.Enabled {
		t.Errorf("blob = %+v, %v", cfg, err)
	}
}

func TestSplitFrontMatter(t *testing.T) {
	base := preview.DefaultConfig()
	tests := []struct {
		name    string
		src     string
		body    string
		wantErr bool
	}{
		{"none", "# hi\n", "# hi\n", false},
		{"rule not header", "---x\nbody", "---x\nbody", false},
		{"unterminated", "---\ntitle: x\n", "---\ntitle: x\n", false},
		{"empty header", "---\n---\nbody", "body", false},
		{"crlf close", "---\ntitle: x\n---\r\nbody", "body", false},
		{"bad yaml", "---\ntitle: [\n---\nbody", "---\ntitle: [\n---\nbody", true},
		{"invalid config", "---\ndiagramzoom:\n  min_zoom: -1\n---\nbody", "---\ndiagramzoom:\n  min_zoom: -1\n---\nbody", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body, err := SplitFrontMatter([]byte(tt.src), base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err != nil && !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("code = %q", errors.GetCode(err))
			}
			if string(body) != tt.body {
				t.Errorf("body = %q, want %q", body, tt.body)
			}
		})
	}
}

func TestDiagrams(t *testing.T) {
	got := New(Options{Config: preview.DefaultConfig()}).Diagrams([]byte(doc))
	if len(got) != 2 {
		t.Fatalf("diagrams = %+v", got)
	}
	if got[0].Language != "mermaid" || got[0].Source != "graph TD\n  A-->B" || got[0].Index != 0 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Language != "dot" || got[1].Index != 1 {
		t.Errorf("second = %+v", got[1])
	}
}

func TestSanitize(t *testing.T) {
	src := doc + "\n<script>alert(1)</script>\n\n<a href=\"javascript:x()\">x</a>\n"
	out, err := New(Options{Config: preview.DefaultConfig(), Sanitize: true}).Convert([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Body, "<script>") || strings.Contains(out.Body, "javascript:") {
		t.Errorf("unsafe markup kept:\n%s", out.Body)
	}
	d, err := dom.ParseString("<html><body>" + out.Body + "</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	cs := d.Containers()
	if len(cs) != 2 || d.ConfigBlob(cs[0]) == "" || d.Language(cs[1]) != "dot" {
		t.Errorf("containers damaged by sanitizing:\n%s", out.Body)
	}
}
