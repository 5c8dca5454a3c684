package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/preview"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("Addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "c.yaml", `
preview:
  max_zoom: 8
  show_controls: always
render:
  engine: graphviz
  timeout: 5s
server:
  addr: ":9000"
  allowed_origins: ["http://localhost:3000"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preview.MaxZoom != 8 {
		t.Errorf("MaxZoom = %v, want 8", cfg.Preview.MaxZoom)
	}
	if cfg.Preview.ShowControls != preview.ControlsAlways {
		t.Errorf("ShowControls = %q", cfg.Preview.ShowControls)
	}
	if cfg.Preview.MinZoom != 0.1 {
		t.Errorf("MinZoom = %v, want untouched default 0.1", cfg.Preview.MinZoom)
	}
	if cfg.Render.Engine != "graphviz" || cfg.Render.Timeout != 5*time.Second {
		t.Errorf("Render = %+v", cfg.Render)
	}
	if cfg.Server.Addr != ":9000" || len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Export.JPEGQuality != 95 {
		t.Errorf("JPEGQuality = %d, want default 95", cfg.Export.JPEGQuality)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "c.toml", `
[cache]
backend = "null"

[export]
jpeg_quality = 80
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != cache.BackendNull {
		t.Errorf("Backend = %q", cfg.Cache.Backend)
	}
	if cfg.Export.JPEGQuality != 80 {
		t.Errorf("JPEGQuality = %d", cfg.Export.JPEGQuality)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "c.ini", "x=1")
	_, err := Load(path)
	if !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Fatalf("Load(.ini) = %v, want INVALID_FORMAT", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DIAGRAMZOOM_SERVER__ADDR", "0.0.0.0:1234")
	t.Setenv("DIAGRAMZOOM_PREVIEW__MAX_ZOOM", "12")
	t.Setenv("DIAGRAMZOOM_LOG__LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:1234" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Preview.MaxZoom != 12 {
		t.Errorf("MaxZoom = %v", cfg.Preview.MaxZoom)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"DIAGRAMZOOM_SERVER__ADDR", "server.addr"},
		{"DIAGRAMZOOM_PREVIEW__SHOW_ZOOM_LEVEL", "preview.show_zoom_level"},
		{"DIAGRAMZOOM_RENDER__LAYOUT__FONT_FAMILY", "render.layout.font_family"},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"engine", func(c *Config) { c.Render.Engine = "plantuml" }},
		{"timeout", func(c *Config) { c.Render.Timeout = 0 }},
		{"addr", func(c *Config) { c.Server.Addr = "" }},
		{"viewport", func(c *Config) { c.Server.ViewportWidth = 0 }},
		{"backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis addr", func(c *Config) { c.Cache.Backend = cache.BackendRedis }},
		{"mongo uri", func(c *Config) { c.Cache.Backend = cache.BackendMongo }},
		{"rasterizer", func(c *Config) { c.Export.Rasterizer = "inkscape" }},
		{"quality", func(c *Config) { c.Export.JPEGQuality = 101 }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"preview", func(c *Config) { c.Preview.MinZoom = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Validate() = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.Addr = ":8080"
			cfg.Preview.ShowControls = preview.ControlsNever
			cfg.Render.Timeout = 10 * time.Second

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Server.Addr != ":8080" {
				t.Errorf("Addr = %q", got.Server.Addr)
			}
			if got.Preview.ShowControls != preview.ControlsNever {
				t.Errorf("ShowControls = %q", got.Preview.ShowControls)
			}
			if got.Render.Timeout != 10*time.Second {
				t.Errorf("Timeout = %v", got.Render.Timeout)
			}
		})
	}
}

func TestSaveYAMLIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := Default().Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"show_controls: hover", "timeout: 30s", "backend: file"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("saved config missing %q:\n%s", want, data)
		}
	}
}

func TestCacheOptions(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	cfg := Default()
	opts, err := cfg.CacheOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Dir != filepath.Join("/tmp/xdg", "diagramzoom") {
		t.Errorf("Dir = %q", opts.Dir)
	}

	cfg.Cache.Backend = cache.BackendRedis
	cfg.Cache.RedisAddr = "localhost:6379"
	opts, err = cfg.CacheOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Dir != "" || opts.Redis.Addr != "localhost:6379" {
		t.Errorf("opts = %+v", opts)
	}
}

func TestDirs(t *testing.T) {
	dir, err := CacheDir()
	if err != nil {
		t.Fatalf("CacheDir: %v", err)
	}
	if !strings.HasSuffix(dir, "diagramzoom") {
		t.Errorf("CacheDir = %q", dir)
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join("/tmp/cfg", "diagramzoom", "config.yaml") {
		t.Errorf("DefaultPath = %q", path)
	}
}
