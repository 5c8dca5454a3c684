package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/config"
)

// cacheKinds maps the --kind flag to key prefixes.
var cacheKinds = map[string]string{
	"all":    "",
	"render": "render:",
	"state":  "state:",
	"asset":  "asset:",
}

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached renders, view states and assets",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheStatsCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, ok := cacheKinds[kind]
			if !ok {
				return fmt.Errorf("unknown kind %q (want %s)", kind, kindList())
			}
			fc, err := c.fileCache()
			if err != nil {
				return err
			}
			n, err := fc.Clear(prefix)
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			if n == 0 {
				printInfo("Cache is empty")
				return nil
			}
			printSuccess("Cleared %d cached entries", n)
			printDetail("Directory: %s", fc.Dir())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "entries to remove: "+kindList())
	return cmd
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.cacheDir()
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count cached entries by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := c.fileCache()
			if err != nil {
				return err
			}
			counts, sizes, err := cacheStats(fc)
			if err != nil {
				return err
			}
			kinds := make([]string, 0, len(counts))
			for k := range counts {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)

			fmt.Println(StyleTitle.Render("Cache") + " " + StyleDim.Render(fc.Dir()))
			if len(kinds) == 0 {
				printInfo("Cache is empty")
				return nil
			}
			for _, k := range kinds {
				printKeyValue(k, fmt.Sprintf("%d entries, %s", counts[k], humanBytes(sizes[k])))
			}
			return nil
		},
	}
}

func cacheStats(fc *cache.FileCache) (counts, sizes map[string]int, err error) {
	counts, sizes = map[string]int{}, map[string]int{}
	err = fc.Walk("", func(e cache.EntryInfo) error {
		kind, _, ok := strings.Cut(e.Key, ":")
		if !ok {
			kind = "other"
		}
		counts[kind]++
		sizes[kind] += e.Size
		return nil
	})
	return counts, sizes, err
}

// fileCache opens the configured cache directory. Listing and clearing
// are only supported by the file backend.
func (c *CLI) fileCache() (*cache.FileCache, error) {
	if b := c.cfg.Cache.Backend; b != "" && b != cache.BackendFile {
		return nil, fmt.Errorf("cache backend %q cannot be listed; use its own tooling", b)
	}
	dir, err := c.cacheDir()
	if err != nil {
		return nil, err
	}
	return cache.NewFileCache(dir)
}

func (c *CLI) cacheDir() (string, error) {
	if c.cfg.Cache.Dir != "" {
		return c.cfg.Cache.Dir, nil
	}
	dir, err := config.CacheDir()
	if err != nil {
		return "", fmt.Errorf("get cache dir: %w", err)
	}
	return dir, nil
}

func kindList() string {
	return "all, render, state, asset"
}

func humanBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
