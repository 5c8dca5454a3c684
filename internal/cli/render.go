package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/pipeline"
)

// renderOpts holds the flags of the render command.
type renderOpts struct {
	out      string // output directory; empty writes next to each input
	dark     bool
	noCache  bool
	refresh  bool // bypass cached documents but still fill the cache
	bodyOnly bool // write the body fragment instead of a standalone page
	title    string
	style    string
}

// renderedFile is the outcome of one input document.
type renderedFile struct {
	input  string
	output string
	result *pipeline.Result
	err    error
}

// renderCommand creates the static render command.
func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render <glob>...",
		Short: "Render markdown files to standalone interactive HTML",
		Long: `Render markdown files to HTML pages with every diagram rendered and wrapped in
pan and zoom controls. Patterns support ** (e.g. "docs/**/*.md").

Each page is written next to its input unless --out is given, in which case
the relative layout of the inputs is mirrored under that directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRender(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory")
	cmd.Flags().BoolVar(&opts.dark, "dark", false, "render with the dark theme")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "re-render documents even when cached")
	cmd.Flags().BoolVar(&opts.bodyOnly, "body-only", false, "write the HTML body without the page shell")
	cmd.Flags().StringVar(&opts.title, "title", "", "page title (default: front matter title)")
	cmd.Flags().StringVar(&opts.style, "style", "", "syntax highlighting style of ordinary code blocks")
	return cmd
}

func (c *CLI) runRender(cmd *cobra.Command, patterns []string, opts renderOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	inputs, err := expandInputs(patterns)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no markdown files match %s", strings.Join(patterns, " "))
	}

	eng, err := c.newEngines(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer eng.Close()
	runner := eng.newRunner(logger)

	popts := c.pipelineOptions(opts.dark)
	popts.Standalone = !opts.bodyOnly
	popts.Refresh = opts.refresh
	popts.Style = opts.style
	popts.Title = opts.title

	bar := progressbar.NewOptions(len(inputs),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Rendering"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	files := make([]renderedFile, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			_ = bar.Exit()
			return err
		}
		bar.Describe(filepath.Base(in))

		f := renderedFile{input: in, output: outputPath(in, opts.out)}
		f.result, f.err = renderFile(cmd, runner, in, f.output, popts)
		if f.err != nil {
			logger.Debug("render failed", "file", in, "err", f.err)
		}
		files = append(files, f)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	var failed int
	for _, f := range files {
		if f.err != nil {
			failed++
			printError("%s: %v", f.input, f.err)
			continue
		}
		printFile(f.output)
		fmt.Println(renderStatsLine(f.result.Diagrams, f.result.Failed, f.result.CacheInfo.DocumentHit))
		for _, msg := range f.result.Errors {
			printWarning("%s", msg)
		}
	}

	prog.done(fmt.Sprintf("Rendered %d of %d documents", len(files)-failed, len(files)))
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

func renderFile(cmd *cobra.Command, runner *pipeline.Runner, in, out string, opts pipeline.Options) (*pipeline.Result, error) {
	src, err := os.ReadFile(in)
	if err != nil {
		return nil, err
	}
	res, err := runner.RenderDocument(cmd.Context(), src, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, []byte(res.HTML), 0o644); err != nil {
		return nil, err
	}
	return res, nil
}

// expandInputs resolves glob patterns to a sorted, de-duplicated list of
// markdown files. Literal paths are kept as given so a missing file is
// reported by the render itself.
func expandInputs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pat := range patterns {
		if !hasMeta(pat) {
			add(pat)
			continue
		}
		if !doublestar.ValidatePathPattern(pat) {
			return nil, fmt.Errorf("invalid pattern %q", pat)
		}
		matches, err := doublestar.FilepathGlob(pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pat, err)
		}
		for _, m := range matches {
			if isMarkdown(m) {
				add(m)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

func isMarkdown(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".mdown", ".mkd":
		return true
	}
	return false
}

// outputPath maps an input document to its HTML page. Inputs outside the
// working directory land flat in outDir.
func outputPath(in, outDir string) string {
	name := strings.TrimSuffix(in, filepath.Ext(in)) + ".html"
	if outDir == "" {
		return name
	}
	rel := name
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(rel)
	}
	return filepath.Join(outDir, rel)
}
