package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/export"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
)

type exportOpts struct {
	index    int
	format   string
	scale    float64
	maxWidth int
	out      string
	name     string
	dark     bool
	noCache  bool
}

// exportCommand creates the command that exports one diagram to a file.
func (c *CLI) exportCommand() *cobra.Command {
	opts := exportOpts{index: -1}

	cmd := &cobra.Command{
		Use:   "export <file.md>",
		Short: "Export one diagram of a markdown file",
		Long: `Export one diagram of a markdown file as png, jpg, svg, pdf or html.

Without --index a document with several diagrams opens an interactive picker.
Raster exports are drawn on a white background.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExport(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.index, "index", "i", -1, "diagram index in document order, starting at 0")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(export.PNG), "output format: "+formatList())
	cmd.Flags().Float64Var(&opts.scale, "scale", 0, "raster scale factor (default from config)")
	cmd.Flags().IntVar(&opts.maxWidth, "max-width", 0, "cap raster width in pixels")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVar(&opts.name, "name", "", "file name (default: "+export.NamePrefix+"-<millis>.<ext>)")
	cmd.Flags().BoolVar(&opts.dark, "dark", false, "render with the dark theme")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable caching")
	return cmd
}

func (c *CLI) runExport(cmd *cobra.Command, path string, opts exportOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	diagrams := markdown.New(markdown.Options{Config: c.cfg.Preview}).Diagrams(src)
	index, err := chooseDiagram(diagrams, opts.index, isInteractive())
	if err != nil {
		return err
	}
	if index < 0 {
		printInfo("Export cancelled")
		return nil
	}

	eng, err := c.newEngines(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer eng.Close()

	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Rendering diagram %d...", index))
	spinner.Start()
	svg, err := eng.newRunner(logger).Diagram(ctx, src, index, c.pipelineOptions(opts.dark))
	if err != nil {
		spinner.StopWithError("Render failed")
		return err
	}

	spinner.Update(fmt.Sprintf("Writing %s...", format))
	dir := c.cfg.Export.Dir
	if opts.out != "" {
		dir = opts.out
	}
	scale := c.cfg.Preview.ExportScale
	if opts.scale > 0 {
		scale = opts.scale
	}
	written, err := eng.exporter.WriteFile(ctx, dir, opts.name, svg, format, export.Options{
		Scale:    scale,
		MaxWidth: opts.maxWidth,
		Dark:     opts.dark,
		Title:    fmt.Sprintf("%s #%d", path, index),
	})
	if err != nil {
		spinner.StopWithError("Export failed")
		return err
	}
	spinner.StopWithSuccess(fmt.Sprintf("Exported diagram %d", index))
	printFile(written)
	return nil
}

// chooseDiagram resolves the diagram to export. A negative flag means
// "not given": a single diagram is picked directly and several need the
// picker. The result is -1 when the picker was dismissed.
func chooseDiagram(diagrams []markdown.Diagram, flag int, interactive bool) (int, error) {
	switch {
	case len(diagrams) == 0:
		return 0, errors.New("document has no diagrams")
	case flag >= len(diagrams):
		return 0, fmt.Errorf("diagram %d not found (document has %d)", flag, len(diagrams))
	case flag >= 0:
		return flag, nil
	case len(diagrams) == 1:
		return 0, nil
	case !interactive:
		return 0, fmt.Errorf("document has %d diagrams; choose one with --index", len(diagrams))
	}

	final, err := tea.NewProgram(NewDiagramPicker(diagrams)).Run()
	if err != nil {
		return 0, fmt.Errorf("diagram picker: %w", err)
	}
	if m, ok := final.(DiagramPicker); ok && m.Selected != nil {
		return m.Selected.Index, nil
	}
	return -1, nil
}

// isInteractive reports whether stdin is a terminal.
func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func formatList() string {
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
