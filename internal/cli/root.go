// Package cli provides the command-line interface for hydra-inbox.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/hydra-inbox/internal/client"
	"github.com/raphaelgruber/hydra-inbox/internal/config"
	"github.com/raphaelgruber/hydra-inbox/internal/history"
	"github.com/raphaelgruber/hydra-inbox/internal/inbox"
	"github.com/raphaelgruber/hydra-inbox/internal/metrics"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	ephemeral bool
	server    string

	// Set up by PersistentPreRunE
	cfg      config.Config
	logger   *slog.Logger
	box      *inbox.Inbox
	cleanups []func() error
	// historyLimit is the effective history cap after store defaults.
	historyLimit int

	interactive bool
	stdout      io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "hydra-inbox",
	Short: "Submit content to the Hydra ingestion pipeline",
	Long: `hydra-inbox sends files, clipboard images, links and text to the Hydra
Ingestion Service and follows each item until it is analyzed.

Completed results are kept in a local history (the most recent 50) so they
survive restarts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return setup(cmd.Context())
	},
}

func setup(ctx context.Context) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if server != "" {
		cfg.ServerURL = server
	}
	if ephemeral {
		cfg.HistoryBackend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	interactive = term.IsTerminal(int(os.Stdout.Fd()))

	// The watch view owns the terminal, so console logging is opt-in.
	var console io.Writer
	if verbose {
		console = os.Stderr
	}
	var closeLog func() error
	logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
	cleanups = append(cleanups, closeLog)

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeBackend)
	store := history.NewStore(backend, cfg.HistoryLimit, logger)
	historyLimit = store.Limit()

	c := client.New(cfg.ServerURL, cfg.ClientTimeout, client.WithLogger(logger))
	opts := inbox.Options{StallTimeout: cfg.StallTimeout}
	if !interactive {
		opts.OnUpdate = printUpdate
	}

	box = inbox.New(inbox.Deps{
		Ingestor: c,
		Progress: c,
		History:  store,
		Metrics:  metrics.NewCollector(),
		Logger:   logger,
	}, opts)
	box.Start(ctx)

	logger.Debug("inbox ready", "server", cfg.ServerURL, "history_backend", cfg.HistoryBackend)
	return nil
}

func teardown() {
	if box != nil {
		box.Close()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", err)
		}
	}
	cleanups = nil
}

// openBackend selects the history backend named in cfg.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (history.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.HistoryBackend {
	case config.BackendMemory:
		return history.NewMemoryBackend(), noop, nil

	case config.BackendFile:
		b, err := history.NewFileBackend(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file history: %w", err)
		}
		return b, noop, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		b, err := history.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "history.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite history: %w", err)
		}
		return b, b.Close, nil

	case config.BackendSurreal:
		b, err := history.OpenSurreal(ctx, history.SurrealConfig{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		return b, func() error { return b.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
}

// printUpdate is the non-interactive observer: one line per state change.
func printUpdate(item models.Item) {
	line := fmt.Sprintf("%s %-12s %3d%% %-10s %s", item.Status.Icon(), item.ID, item.Progress, item.Status.Label(), item.DisplayName())
	if item.Error != "" {
		line += " - " + item.Error
	}
	fmt.Fprintln(stdout, line)
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer teardown()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr as well as the log file")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep history in memory only")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "Ingestion Service GraphQL endpoint (overrides INBOX_SERVER_URL)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(clearCmd)
}
