// Package cli implements the diagramzoom command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/browser"
	"github.com/matzehuels/diagramzoom/pkg/buildinfo"
	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/config"
	"github.com/matzehuels/diagramzoom/pkg/export"
	"github.com/matzehuels/diagramzoom/pkg/pipeline"
	"github.com/matzehuels/diagramzoom/pkg/render"
	"github.com/matzehuels/diagramzoom/pkg/render/graphviz"
	"github.com/matzehuels/diagramzoom/pkg/render/mermaid"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "diagramzoom"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	verbose    bool
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), cfg: config.Default()}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// Config returns the loaded configuration.
func (c *CLI) Config() *config.Config { return c.cfg }

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Interactive pan and zoom for diagrams in markdown previews",
		Long: `diagramzoom renders the Mermaid and Graphviz diagrams of a markdown document and
makes them interactive: zoom, pan, fit, fullscreen and export, with the view of every
diagram remembered across re-renders and theme changes.`,
		Version:           buildinfo.Resolved(),
		SilenceUsage:      true,
		PersistentPreRunE: c.loadConfig,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.stateCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the config file and applies its log level. --verbose
// wins over the file.
func (c *CLI) loadConfig(cmd *cobra.Command, args []string) error {
	path, err := c.resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	c.cfg = cfg

	level := parseLevel(cfg.Log.Level)
	if c.verbose {
		level = log.DebugLevel
	}
	c.SetLogLevel(level)
	c.Logger.Debug("config loaded", "path", path)

	cmd.SetContext(withLogger(cmd.Context(), c.Logger))
	return nil
}

func (c *CLI) resolveConfigPath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	return config.DefaultPath()
}

// =============================================================================
// Engine Factory
// =============================================================================

// engines bundles the rendering stack built from the config.
type engines struct {
	cache    cache.Cache
	keyer    cache.Keyer
	browser  *browser.Manager
	renderer render.Renderer
	exporter *export.Exporter
	mermaid  *mermaid.Renderer
}

// newEngines builds the renderer router, the exporter and the cache
// behind them. Chrome is started lazily on the first mermaid render or
// browser rasterization.
func (c *CLI) newEngines(ctx context.Context, noCache bool) (*engines, error) {
	cfg := c.cfg
	cc, err := c.openCache(ctx, noCache)
	if err != nil {
		return nil, err
	}
	keyer := cache.NewDefaultKeyer()

	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Render.BrowserURL,
		Bin:       cfg.Render.BrowserBin,
		Logger:    c.Logger,
	})
	mm := mermaid.New(mgr, mermaid.Options{
		ScriptURL: cfg.Render.MermaidScript,
		Timeout:   cfg.Render.Timeout,
		Cache:     cc,
		Keyer:     keyer,
		Logger:    c.Logger,
	})
	gv := render.NewCached(graphviz.New(), cc, keyer, cfg.Cache.RenderTTL, c.Logger)
	mc := render.NewCached(mm, cc, keyer, cfg.Cache.RenderTTL, c.Logger)
	router := render.NewRouter(cfg.Render.Engine, map[string]render.Renderer{
		"mermaid":  mc,
		"dot":      gv,
		"graphviz": gv,
	})

	exportOpts := []export.Option{
		export.WithBrowser(mgr),
		export.WithJPEGQuality(cfg.Export.JPEGQuality),
	}
	if cfg.Export.Rasterizer == config.RasterizerBrowser {
		exportOpts = append(exportOpts, export.PreferBrowser())
	}

	return &engines{
		cache:    cc,
		keyer:    keyer,
		browser:  mgr,
		renderer: router,
		exporter: export.New(c.Logger, exportOpts...),
		mermaid:  mm,
	}, nil
}

func (e *engines) Close() error {
	var errs []string
	if err := e.mermaid.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := e.browser.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := e.cache.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close engines: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *CLI) openCache(ctx context.Context, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	opts, err := c.cfg.CacheOptions()
	if err != nil {
		c.Logger.Warn("cache disabled", "err", err)
		return cache.NewNullCache(), nil
	}
	return cache.Open(ctx, opts)
}

// newRunner creates a pipeline runner for the render and export commands.
func (e *engines) newRunner(logger *log.Logger) *pipeline.Runner {
	return pipeline.NewRunner(e.renderer, e.cache, e.keyer, logger)
}

// =============================================================================
// Options Helpers
// =============================================================================

// pipelineOptions derives static render options from the config.
func (c *CLI) pipelineOptions(dark bool) pipeline.Options {
	return pipeline.Options{
		Preview:    c.cfg.Preview,
		Dark:       dark,
		Standalone: true,
		Sanitize:   true,
	}
}
