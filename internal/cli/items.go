package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/hydra-inbox/internal/inbox"
	"github.com/raphaelgruber/hydra-inbox/internal/metrics"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

var (
	listJSON bool
	clearYes bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed items from history",
	Long: `List tracked items, most recent first. In a fresh process this is the
persisted history of completed items.

Examples:
  hydra-inbox list
  hydra-inbox list --json | jq '.[].title'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeList(cmd.OutOrStdout(), box.Items(), listJSON); err != nil {
			return err
		}
		if !listJSON {
			writeHistoryFooter(cmd.OutOrStdout(), historyLimit)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the full result for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, ok := box.Get(args[0])
		if !ok {
			return fmt.Errorf("show %s: %w", args[0], inbox.ErrNotFound)
		}
		writeItem(cmd.OutOrStdout(), item)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an item from history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := box.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every item and the stored history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := box.RequestClear()

		confirmed := clearYes
		if !confirmed {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				_ = req.Cancel()
				return errors.New("refusing to clear without confirmation; pass --yes")
			}
			var err error
			confirmed, err = confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("Clear %d item(s) and all history? [y/N] ", len(box.Items())))
			if err != nil {
				_ = req.Cancel()
				return err
			}
		}

		if !confirmed {
			_ = req.Cancel()
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		}
		if err := req.Confirm(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print items as JSON")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func writeList(w io.Writer, items []models.Item, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(w, "No items.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Status.Icon() + " " + item.Status.Label(),
			string(item.ContentType),
			truncate(item.DisplayName(), 48),
			item.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "STATUS", "TYPE", "NAME", "CREATED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}

// writeHistoryFooter notes how many completed results survive a restart.
func writeHistoryFooter(w io.Writer, limit int) {
	if limit <= 0 {
		return
	}
	fmt.Fprintln(w, defaultTheme.hintStyle().Render(fmt.Sprintf("History keeps the %d most recent completed items.", limit)))
}

func writeItem(w io.Writer, item models.Item) {
	fmt.Fprintf(w, "Item: %s\n", item.ID)
	fmt.Fprintf(w, "  Name: %s\n", item.DisplayName())
	fmt.Fprintf(w, "  Source: %s (%s)\n", item.Source, item.ContentType)
	fmt.Fprintf(w, "  Status: %s %s (%d%%)\n", item.Status.Icon(), item.Status.Label(), item.Progress)
	fmt.Fprintf(w, "  Created: %s\n", item.CreatedAt.Format(time.RFC3339))
	if item.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", item.URL)
	}
	if item.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", item.Error)
	}
	if item.Summary != "" {
		fmt.Fprintf(w, "\nSummary:\n  %s\n", item.Summary)
	}
	writeBullets(w, "Key insights", item.KeyInsights)
	writeBullets(w, "Action items", item.ActionItems)
	if len(item.Tags) > 0 {
		fmt.Fprintf(w, "\nTags: %s\n", strings.Join(item.Tags, ", "))
	}
	if item.RelevanceToHydra != "" {
		fmt.Fprintf(w, "\nRelevance to Hydra:\n  %s\n", item.RelevanceToHydra)
	}
}

func writeBullets(w io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(lines))
	for _, l := range lines {
		fmt.Fprintf(w, "  • %s\n", l)
	}
}

func printStats(s metrics.Snapshot) {
	ops := []struct {
		name string
		snap *metrics.OperationSnapshot
	}{
		{metrics.OpSubmit, s.Submit},
		{metrics.OpStatusFetch, s.StatusFetch},
		{metrics.OpPersist, s.Persist},
	}

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		if op.snap == nil {
			continue
		}
		rows = append(rows, []string{
			op.name,
			strconv.FormatInt(op.snap.Count, 10),
			strconv.FormatInt(op.snap.Errors, 10),
			fmt.Sprintf("%.1f", op.snap.AvgTimeMs),
			strconv.FormatInt(op.snap.MaxTimeMs, 10),
		})
	}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}
	fmt.Fprintln(stdout, renderTable([]string{"OPERATION", "COUNT", "ERRORS", "AVG MS", "MAX MS"}, rows, aligns))
	fmt.Fprintf(stdout, "accepted %d · rejected %d · completed %d · failed %d\n",
		s.Accepted, s.Rejected, s.Completed, s.Failed)
}
