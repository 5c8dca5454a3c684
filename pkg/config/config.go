// Package config loads the diagramzoom application configuration.
//
// Values are layered: built-in defaults, then an optional YAML or TOML
// file, then environment overrides of the form DIAGRAMZOOM_SECTION__KEY
// (for example DIAGRAMZOOM_SERVER__ADDR or DIAGRAMZOOM_PREVIEW__MAX_ZOOM).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/preview"
	"github.com/matzehuels/diagramzoom/pkg/render"
)

const (
	appName = "diagramzoom"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DIAGRAMZOOM_"
)

// Rasterizers accepted by Export.Rasterizer.
const (
	RasterizerRSVG    = "rsvg"
	RasterizerBrowser = "browser"
)

// Config is the full application configuration.
type Config struct {
	Preview preview.Config `yaml:"preview" koanf:"preview"`
	Render  RenderConfig   `yaml:"render" koanf:"render"`
	Server  ServerConfig   `yaml:"server" koanf:"server"`
	Cache   CacheConfig    `yaml:"cache" koanf:"cache"`
	Export  ExportConfig   `yaml:"export" koanf:"export"`
	Log     LogConfig      `yaml:"log" koanf:"log"`
}

// RenderConfig selects and tunes the diagram engines.
type RenderConfig struct {
	// Engine handles fences whose language has no dedicated engine.
	Engine        string               `yaml:"engine" koanf:"engine"`
	Layout        render.LayoutOptions `yaml:"layout" koanf:"layout"`
	MermaidScript string               `yaml:"mermaid_script" koanf:"mermaid_script"`
	Timeout       time.Duration        `yaml:"timeout" koanf:"timeout"`
	BrowserURL    string               `yaml:"browser_url" koanf:"browser_url"`
	BrowserBin    string               `yaml:"browser_bin" koanf:"browser_bin"`
}

// ServerConfig configures the live preview server.
type ServerConfig struct {
	Addr             string        `yaml:"addr" koanf:"addr"`
	AllowedOrigins   []string      `yaml:"allowed_origins" koanf:"allowed_origins"`
	ViewportWidth    int           `yaml:"viewport_width" koanf:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height" koanf:"viewport_height"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" koanf:"snapshot_interval"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend" koanf:"backend"`
	Dir           string        `yaml:"dir" koanf:"dir"`
	RedisAddr     string        `yaml:"redis_addr" koanf:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" koanf:"redis_password"`
	RedisDB       int           `yaml:"redis_db" koanf:"redis_db"`
	MongoURI      string        `yaml:"mongo_uri" koanf:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database" koanf:"mongo_database"`
	RenderTTL     time.Duration `yaml:"render_ttl" koanf:"render_ttl"`
	StateTTL      time.Duration `yaml:"state_ttl" koanf:"state_ttl"`
}

// ExportConfig configures diagram export.
type ExportConfig struct {
	Rasterizer  string `yaml:"rasterizer" koanf:"rasterizer"`
	Dir         string `yaml:"dir" koanf:"dir"`
	JPEGQuality int    `yaml:"jpeg_quality" koanf:"jpeg_quality"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" koanf:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Preview: preview.DefaultConfig(),
		Render: RenderConfig{
			Engine:  "mermaid",
			Layout:  render.DefaultLayout(),
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:             "127.0.0.1:7878",
			ViewportWidth:    1280,
			ViewportHeight:   800,
			SnapshotInterval: time.Minute,
		},
		Cache: CacheConfig{
			Backend:       cache.BackendFile,
			MongoDatabase: appName,
			RenderTTL:     7 * 24 * time.Hour,
			StateTTL:      30 * 24 * time.Hour,
		},
		Export: ExportConfig{
			Rasterizer:  RasterizerRSVG,
			Dir:         ".",
			JPEGQuality: 95,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the configuration. An empty path or a missing file yields
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return nil, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "reading config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "unmarshalling config")
	}
	return cfg, nil
}

// envKey maps DIAGRAMZOOM_SERVER__ADDR to server.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOML(), nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported config format %q", filepath.Ext(path))
	}
}

// Save writes c to path as YAML, or TOML when path ends in .toml.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = marshalTOML(c)
	} else {
		data, err = yamlv3.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validEngines = map[string]bool{
	"mermaid":  true,
	"graphviz": true,
}

var validBackends = map[string]bool{
	cache.BackendFile:  true,
	cache.BackendNull:  true,
	cache.BackendRedis: true,
	cache.BackendMongo: true,
}

var validRasterizers = map[string]bool{
	RasterizerRSVG:    true,
	RasterizerBrowser: true,
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks enums and ranges.
func (c *Config) Validate() error {
	if err := c.Preview.Validate(); err != nil {
		return err
	}
	if !validEngines[c.Render.Engine] {
		return invalid("invalid render.engine %q: must be mermaid or graphviz", c.Render.Engine)
	}
	if c.Render.Timeout <= 0 {
		return invalid("render.timeout must be positive")
	}
	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	if c.Server.ViewportWidth <= 0 || c.Server.ViewportHeight <= 0 {
		return invalid("server viewport must be positive, got %dx%d", c.Server.ViewportWidth, c.Server.ViewportHeight)
	}
	if c.Server.SnapshotInterval < 0 {
		return invalid("server.snapshot_interval must be non-negative")
	}
	if !validBackends[c.Cache.Backend] {
		return invalid("invalid cache.backend %q: must be one of file, null, redis, mongo", c.Cache.Backend)
	}
	if c.Cache.Backend == cache.BackendRedis && c.Cache.RedisAddr == "" {
		return invalid("cache.redis_addr is required for the redis backend")
	}
	if c.Cache.Backend == cache.BackendMongo && c.Cache.MongoURI == "" {
		return invalid("cache.mongo_uri is required for the mongo backend")
	}
	if c.Cache.RenderTTL < 0 || c.Cache.StateTTL < 0 {
		return invalid("cache TTLs must be non-negative")
	}
	if !validRasterizers[c.Export.Rasterizer] {
		return invalid("invalid export.rasterizer %q: must be rsvg or browser", c.Export.Rasterizer)
	}
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		return invalid("export.jpeg_quality must be in [1, 100], got %d", c.Export.JPEGQuality)
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return invalid("invalid log.level %q", c.Log.Level)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeInvalidConfig, format, args...)
}

// CacheOptions translates the cache section for cache.Open. An empty dir
// falls back to CacheDir.
func (c *Config) CacheOptions() (cache.Options, error) {
	dir := c.Cache.Dir
	if dir == "" && c.Cache.Backend == cache.BackendFile {
		d, err := CacheDir()
		if err != nil {
			return cache.Options{}, err
		}
		dir = d
	}
	return cache.Options{
		Backend: c.Cache.Backend,
		Dir:     dir,
		Redis: cache.RedisOptions{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
		},
		Mongo: cache.MongoOptions{
			URI:      c.Cache.MongoURI,
			Database: c.Cache.MongoDatabase,
		},
	}, nil
}

// CacheDir returns the cache directory using XDG standard (~/.cache/diagramzoom/).
func CacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// DefaultPath returns ~/.config/diagramzoom/config.yaml, honoring XDG_CONFIG_HOME.
func DefaultPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.yaml"), nil
}
