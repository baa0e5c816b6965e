package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/hydra-inbox/internal/client"
	"github.com/raphaelgruber/hydra-inbox/internal/inbox"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

var (
	submitTopic string
	submitTitle string
	submitStats bool
	noWait      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit content for ingestion",
	Long: `Submit files, a clipboard image, a link or text, then watch each item
until the pipeline finishes with it.

Examples:
  hydra-inbox submit file notes.pdf diagram.png --topic infra
  hydra-inbox submit url https://go.dev/blog/synctest
  pbpaste | hydra-inbox submit text - --title "Meeting notes"
  hydra-inbox submit image screenshot.png`,
}

var submitFileCmd = &cobra.Command{
	Use:   "file <path>...",
	Short: "Upload one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]client.FilePayload, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", path, err)
				continue
			}
			files = append(files, client.FilePayload{Name: filepath.Base(path), Data: data})
		}
		if len(files) == 0 {
			return fmt.Errorf("no readable files")
		}
		return watchSubmitted(cmd.Context(), box.SubmitFiles(cmd.Context(), files, submitOptions()))
	},
}

var submitImageCmd = &cobra.Command{
	Use:   "image <path|->",
	Short: "Submit an image as if pasted from the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readArg(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		item := box.SubmitClipboardImage(cmd.Context(), encoded, submitOptions())
		return watchSubmitted(cmd.Context(), []models.Item{item})
	},
}

var submitURLCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Submit a link to fetch and analyze",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item := box.SubmitURL(cmd.Context(), args[0], submitOptions())
		return watchSubmitted(cmd.Context(), []models.Item{item})
	},
}

var submitTextCmd = &cobra.Command{
	Use:   "text <text|->",
	Short: "Submit pasted text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := args[0]
		if text == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(data)
		}
		item := box.SubmitText(cmd.Context(), text, submitTitle, submitOptions())
		return watchSubmitted(cmd.Context(), []models.Item{item})
	},
}

func init() {
	submitCmd.PersistentFlags().StringVarP(&submitTopic, "topic", "t", "", "topic hint for the analyzer")
	submitCmd.PersistentFlags().BoolVar(&submitStats, "stats", false, "print timings and counters when done")
	submitCmd.PersistentFlags().BoolVar(&noWait, "no-wait", false, "print the accepted items and exit")
	submitTextCmd.Flags().StringVar(&submitTitle, "title", "", "title for the text")

	submitCmd.AddCommand(submitFileCmd, submitImageCmd, submitURLCmd, submitTextCmd)
}

func submitOptions() inbox.SubmitOptions {
	return inbox.SubmitOptions{Topic: strings.TrimSpace(submitTopic)}
}

func readArg(arg string, stdin io.Reader) ([]byte, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", arg, err)
	}
	return data, nil
}

// watchSubmitted follows items until they are all terminal and reports how
// many failed.
func watchSubmitted(ctx context.Context, items []models.Item) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	var final []models.Item
	switch {
	case noWait:
		final = items
		if interactive {
			for _, item := range items {
				printUpdate(item)
			}
		}
	case interactive:
		var err error
		final, err = RunWatch(ctx, box, ids)
		if err != nil {
			return err
		}
	default:
		final = waitTerminal(ctx, box, ids)
	}

	if submitStats {
		printStats(box.Stats())
	}

	failed := 0
	for _, item := range final {
		if item.Status == models.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(final))
	}
	return nil
}
