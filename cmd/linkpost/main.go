package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abelbrown/linkpost/internal/app"
	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/config"
	"github.com/abelbrown/linkpost/internal/history"
	"github.com/abelbrown/linkpost/internal/logging"
	"github.com/abelbrown/linkpost/internal/otel"
)

var version = "dev"

// Exit codes: 1 for bad config or missing credentials and general
// failures, 2 when the history file could not be saved.
const (
	exitFailure = 1
	exitPersist = 2
)

func main() {
	root := runCmd()
	root.Use = "linkpost"
	root.Short = "Pick one fresh engineering article and post it to LinkedIn"
	root.Long = "linkpost reads a curated set of feeds, skips anything already handled,\n" +
		"extracts the article, optionally has a model judge it, drafts a post and\n" +
		"publishes it. History of handled links is kept in a JSON file."
	root.SilenceUsage = true
	root.PersistentFlags().String("config", "", "config file (default $XDG_CONFIG_HOME/linkpost/config.json)")

	run := runCmd()
	root.AddCommand(run, modelsCmd(), historyCmd(), sourcesCmd(), initCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		if errors.Is(err, app.ErrPersist) {
			os.Exit(exitPersist)
		}
		os.Exit(exitFailure)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one selection and publish pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				cfg.DryRun = true
			}
			if noJitter, _ := cmd.Flags().GetBool("no-jitter"); noJitter {
				cfg.Jitter.MinSeconds, cfg.Jitter.MaxSeconds = 0, 0
			}
			if p, _ := cmd.Flags().GetString("history"); p != "" {
				cfg.HistoryPath = p
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := logging.Init(cfg.DataDir, cfg.LogLevel); err != nil {
				return err
			}
			defer logging.Close()

			events, err := otel.OpenFile(filepath.Join(cfg.DataDir, "linkpost.events.jsonl"))
			if err != nil {
				logging.Warn("event log unavailable", "error", err)
				events = otel.NewNullLogger()
			}
			defer events.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			runner, err := app.Build(cfg, cmd.OutOrStdout(), events)
			if err != nil {
				return err
			}
			logging.Info("starting", "version", version, "run", events.RunID(), "dry_run", cfg.DryRun, "history", cfg.HistoryPath)
			return runner.Run(ctx)
		},
	}
	cmd.Flags().Bool("dry-run", false, "render the post to stdout instead of publishing")
	cmd.Flags().Bool("no-jitter", false, "skip the randomized wait before the run")
	cmd.Flags().String("history", "", "history file (overrides config and LINKPOST_HISTORY)")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured providers and the Gemini models available to the key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.InitWriter(cmd.ErrOrStderr(), cfg.LogLevel)

			oracle := app.NewOracle(cfg)
			out := cmd.OutOrStdout()
			names := oracle.ListAvailable()
			if len(names) == 0 {
				return fmt.Errorf("%w: no model provider has a key", config.ErrMissingCredential)
			}
			fmt.Fprintf(out, "providers (in order): %v\n", names)

			lister, ok := oracle.GetByName("gemini").(brain.ModelLister)
			if !ok {
				return nil
			}
			models, err := lister.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing gemini models: %w", err)
			}
			for _, m := range models {
				fmt.Fprintf(out, "  %s\n", m)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent history records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			store := history.Load(cfg.HistoryPath, cfg.Selection.HistoryCap)
			if store.LoadErr != nil {
				return store.LoadErr
			}
			recs := store.Records()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d of %d records\n", store.Path(), len(recs), store.Cap())
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}

			t := newTable("WHEN", "STATUS", "TITLE")
			for i := len(recs) - 1; i >= 0; i-- {
				r := recs[i]
				when := "-"
				if !r.Date.IsZero() {
					when = humanize.Time(r.Date)
				}
				title := r.Title
				if title == "" {
					title = r.Link
				}
				t.Row(when, string(r.Status), title)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of records to show (0 for all)")
	return cmd
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the feeds a run draws from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			srcs, err := app.Sources(cfg)
			if err != nil {
				return err
			}
			t := newTable("GROUP", "NAME", "URL")
			for _, s := range srcs {
				t.Row(string(s.Group), s.Name, s.URL)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			// keys stay in the environment, not on disk
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "linkpost", version)
		},
	}
}
