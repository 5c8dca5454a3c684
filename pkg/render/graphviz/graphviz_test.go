package graphviz

import (
	"context"
	"strings"
	"testing"

	"github.com/matzehuels/diagramzoom/pkg/render"
)

func TestThemed(t *testing.T) {
	tests := []struct {
		name   string
		dot    string
		inject bool
	}{
		{"digraph", "digraph G { a -> b }", true},
		{"graph", "graph { a -- b }", true},
		{"strict", "strict digraph deps {\n a -> b\n}", true},
		{"not dot", "graph TD;A-->B", false},
	}
	p := Palettes["dark"]
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Themed(tt.dot, p, "")
			if has := strings.Contains(got, p.Fill); has != tt.inject {
				t.Errorf("Themed(%q) = %q", tt.dot, got)
			}
			if tt.inject && !strings.HasSuffix(got, strings.SplitN(tt.dot, "{", 2)[1]) {
				t.Errorf("body not preserved: %q", got)
			}
		})
	}
}

func TestThemedFont(t *testing.T) {
	got := Themed("digraph { a }", Palettes["default"], `"Segoe UI", sans-serif`)
	if !strings.Contains(got, `fontname="Segoe UI"`) {
		t.Errorf("font not applied: %s", got)
	}
}

func TestNormalizeViewBox(t *testing.T) {
	in := []byte(`<?xml version="1.0"?><svg width="62pt" height="116pt" viewBox="0.00 0.00 62.00 116.00"><g id="graph0"></g></svg>`)
	out := string(normalizeViewBox(in))
	if !strings.Contains(out, `viewBox="0 0 62.00 116.00" width="62" height="116"`) {
		t.Errorf("normalizeViewBox() = %s", out)
	}
	if strings.Contains(out, "pt\"") {
		t.Errorf("pt units left: %s", out)
	}
	if got := normalizeViewBox([]byte("<svg></svg>")); string(got) != "<svg></svg>" {
		t.Errorf("no viewBox should pass through, got %s", got)
	}
}

func TestSetID(t *testing.T) {
	got := string(setID([]byte(`<svg viewBox="0 0 1 1"></svg>`), "diagram-1"))
	if got != `<svg id="diagram-1" viewBox="0 0 1 1"></svg>` {
		t.Errorf("setID() = %s", got)
	}
}

func TestRender(t *testing.T) {
	r := New()
	if err := r.Initialize("forest", render.DefaultLayout()); err != nil {
		t.Fatal(err)
	}
	res, err := r.Render(context.Background(), "diagram-x", "digraph G { a -> b }")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(res.SVG, `id="diagram-x"`) || !strings.Contains(res.SVG, "viewBox=") {
		t.Errorf("unexpected svg: %.200s", res.SVG)
	}
}
