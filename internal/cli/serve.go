package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/config"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
	"github.com/matzehuels/diagramzoom/pkg/server"
)

type serveOpts struct {
	addr      string
	dark      bool
	noCache   bool
	sanitize  bool
	exportDir string
}

// serveCommand creates the live preview command.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve <file.md>",
		Short: "Serve a live, interactive preview of a markdown file",
		Long: `Serve a live preview of a markdown file. Diagrams can be zoomed with the mouse
wheel or double click, dragged, fitted, opened fullscreen and exported. The page
reloads when the file changes and every diagram keeps its view.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.dark, "dark", false, "start with the dark theme")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable render and view-state caching")
	cmd.Flags().BoolVar(&opts.sanitize, "sanitize", true, "strip unsafe HTML from the document")
	cmd.Flags().StringVar(&opts.exportDir, "export-dir", "", "directory for exports from the export button")
	return cmd
}

func (c *CLI) runServe(cmd *cobra.Command, path string, opts serveOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	cfg := c.cfg

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	eng, err := c.newEngines(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := cfg.Server.Addr
	if opts.addr != "" {
		addr = opts.addr
	}
	exportDir := cfg.Export.Dir
	if opts.exportDir != "" {
		exportDir = opts.exportDir
	}

	srv, err := server.New(server.Options{
		Path:             path,
		Addr:             addr,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		Viewport:         panzoom.Size{Width: float64(cfg.Server.ViewportWidth), Height: float64(cfg.Server.ViewportHeight)},
		SnapshotInterval: cfg.Server.SnapshotInterval,
		Markdown:         markdown.Options{Config: cfg.Preview, Sanitize: opts.sanitize},
		Renderer:         eng.renderer,
		Layout:           cfg.Render.Layout,
		Cache:            eng.cache,
		Keyer:            eng.keyer,
		StateTTL:         cfg.Cache.StateTTL,
		Exporter:         eng.exporter,
		ExportDir:        exportDir,
		Dark:             opts.dark,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if c.configPath != "" {
		err := config.Watch(ctx, c.configPath, logger, func(next *config.Config) {
			if err := srv.SetDefaults(next.Preview); err != nil {
				logger.Warn("config not applied", "err", err)
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", "err", err)
		}
	}

	printSuccess("Previewing %s", path)
	printKeyValue("URL", StyleLink.Render("http://"+displayAddr(addr)))
	printDetail("Press Ctrl+C to stop")
	return srv.ListenAndServe(ctx)
}

// displayAddr turns a listen address into something a browser can open.
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	if len(addr) > 8 && addr[:8] == "0.0.0.0:" {
		return "localhost" + addr[7:]
	}
	return addr
}
