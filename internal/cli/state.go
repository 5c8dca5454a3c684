package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/matzehuels/diagramzoom/pkg/cache"
	"github.com/matzehuels/diagramzoom/pkg/markdown"
	"github.com/matzehuels/diagramzoom/pkg/viewstate"
)

// stateCommand creates the command that inspects remembered diagram views.
func (c *CLI) stateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and reset remembered diagram views",
		Long: `The preview server remembers the zoom and pan of every diagram, keyed by a
fingerprint of the diagram source and its position, and persists them per document.`,
	}
	cmd.AddCommand(c.stateListCommand())
	cmd.AddCommand(c.stateClearCommand())
	return cmd
}

func (c *CLI) stateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file.md>",
		Short: "List the saved views of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.documentStates(cmd, args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				printInfo("No saved views for %s", args[0])
				return nil
			}
			fmt.Println(StyleTitle.Render("Saved views") + " " + StyleDim.Render(args[0]))
			for _, e := range entries {
				status := StyleSuccess.Render("current")
				if !e.current {
					status = StyleDim.Render("stale")
				}
				printKeyValue(e.key, fmt.Sprintf("%.0f%%  pan %.0f,%.0f  %s", e.state.Zoom*100, e.state.Pan.X, e.state.Pan.Y, status))
			}
			return nil
		},
	}
}

func (c *CLI) stateClearCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [file.md]",
		Short: "Forget the saved views of a document, or of every document with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				fc, err := c.fileCache()
				if err != nil {
					return err
				}
				n, err := fc.Clear(cacheKinds["state"])
				if err != nil {
					return err
				}
				printSuccess("Forgot the views of %d documents", n)
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("name a document or pass --all")
			}

			cc, err := c.openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cc.Close()
			key, err := stateKey(cache.NewDefaultKeyer(), args[0])
			if err != nil {
				return err
			}
			if err := cc.Delete(cmd.Context(), key); err != nil {
				return fmt.Errorf("clear views: %w", err)
			}
			printSuccess("Forgot the views of %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "forget the views of every document")
	return cmd
}

// stateEntry is one saved view. current means the document still has a
// diagram with that fingerprint at that position.
type stateEntry struct {
	key     string
	state   viewstate.State
	current bool
}

func (c *CLI) documentStates(cmd *cobra.Command, path string) ([]stateEntry, error) {
	ctx := cmd.Context()
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cc, err := c.openCache(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	key, err := stateKey(cache.NewDefaultKeyer(), path)
	if err != nil {
		return nil, err
	}
	store := viewstate.NewStore(loggerFromContext(ctx))
	p := &viewstate.Persister{Cache: cc, Key: key}
	if _, err := p.Load(ctx, store); err != nil {
		return nil, err
	}

	diagrams := markdown.New(markdown.Options{Config: c.cfg.Preview}).Diagrams(src)
	return stateEntries(store.Snapshot(), diagrams), nil
}

// stateEntries pairs a snapshot with the diagrams the document has now,
// ordered by key.
func stateEntries(snap map[string]viewstate.State, diagrams []markdown.Diagram) []stateEntry {
	live := make(map[string]bool, len(diagrams))
	for _, d := range diagrams {
		live[viewstate.NewKey(d.Source, d.Index).String()] = true
	}
	out := make([]stateEntry, 0, len(snap))
	for k, st := range snap {
		out = append(out, stateEntry{key: k, state: st, current: live[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// stateKey is the cache key the preview server persists path's views
// under.
func stateKey(k cache.Keyer, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return k.StateKey(abs), nil
}
