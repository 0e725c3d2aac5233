// File: cmd/walk.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/engine"
	"github.com/xkilldash9x/feedwalker/internal/fetch"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
	"github.com/xkilldash9x/feedwalker/internal/observability"
	"github.com/xkilldash9x/feedwalker/internal/signals"
	"github.com/xkilldash9x/feedwalker/internal/store"
	"github.com/xkilldash9x/feedwalker/internal/walker"
)

type walkOptions struct {
	profile     string
	startFrom   int
	maxItems    int
	maxDuration time.Duration
	sessions    int
	headless    bool
	output      string
}

// newWalkCmd creates and configures the `walk` command.
func newWalkCmd(storage storageProvider, pages pageFactoryProvider) *cobra.Command {
	var opts walkOptions

	walkCmd := &cobra.Command{
		Use:   "walk [targets...]",
		Short: "Walks the feeds of the given targets and archives every item",
		Long: `Opens one isolated browser session per target, walks its stories or posts,
stores every item and its media, and prints one report row per target.
Sessions that get stuck are restarted from where they stopped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyWalkFlagOverrides(cmd, cfg, opts); err != nil {
				return err
			}

			return runWalk(ctx, logger, cfg, args, opts, storage, pages, cmd.OutOrStdout())
		},
	}

	walkCmd.Flags().StringVarP(&opts.profile, "platform", "p", "instagram-stories", "Signal profile to walk with; list them with the profiles command.")
	walkCmd.Flags().IntVar(&opts.startFrom, "start-from", 1, "Sequence number of the first item, for resuming a walk.")
	walkCmd.Flags().IntVar(&opts.maxItems, "max-items", 0, "Maximum items per session. (Overrides config/env)")
	walkCmd.Flags().DurationVar(&opts.maxDuration, "max-duration", 0, "Maximum wall clock time per session. (Overrides config/env)")
	walkCmd.Flags().IntVarP(&opts.sessions, "sessions", "j", 0, "Number of concurrent sessions. (Overrides config/env)")
	walkCmd.Flags().BoolVar(&opts.headless, "headless", true, "Run the browser headless. (Overrides config/env)")
	walkCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Also write the reports as JSON to this file.")

	return walkCmd
}

// applyWalkFlagOverrides copies the flags the user actually set onto the config.
func applyWalkFlagOverrides(cmd *cobra.Command, cfg config.Interface, opts walkOptions) error {
	flags := cmd.Flags()
	if opts.startFrom < 1 {
		return fmt.Errorf("--start-from must be at least 1 (got %d)", opts.startFrom)
	}
	if flags.Changed("max-items") {
		if opts.maxItems <= 0 {
			return fmt.Errorf("--max-items must be a positive integer (got %d)", opts.maxItems)
		}
		cfg.SetWalkerMaxItems(opts.maxItems)
	}
	if flags.Changed("max-duration") {
		if opts.maxDuration <= 0 {
			return fmt.Errorf("--max-duration must be a positive duration (got %s)", opts.maxDuration)
		}
		cfg.SetWalkerMaxDuration(opts.maxDuration)
	}
	if flags.Changed("sessions") {
		if opts.sessions <= 0 {
			return fmt.Errorf("--sessions must be a positive integer (got %d)", opts.sessions)
		}
		cfg.SetEngineMaxSessions(opts.sessions)
	}
	if flags.Changed("headless") {
		cfg.SetBrowserHeadless(opts.headless)
	}
	return nil
}

// runWalk wires the collaborators, runs the engine and reports.
func runWalk(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	targets []string,
	opts walkOptions,
	storageP storageProvider,
	pagesP pageFactoryProvider,
	out io.Writer,
) error {
	registry, err := signals.Load(cfg.Signals().File)
	if err != nil {
		return err
	}
	profile, err := registry.Get(opts.profile)
	if err != nil {
		return err
	}

	storage, closeStorage, err := storageP.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStorage()

	var snaps schemas.Snapshotter
	if cfg.Walker().Diagnostics {
		dir, err := store.NewSnapshotDir(cfg.Storage().DiagnosticsDir)
		if err != nil {
			return err
		}
		snaps = dir
	}

	pages, closePages, err := pagesP.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer closePages()

	w := walker.New(profile, cfg.Walker(), fetch.PolicyFromConfig(cfg.Fetch()), walker.Collaborators{
		Storage:   storage,
		Fetcher:   fetch.New(cfg.Fetch(), logger),
		Humanoid:  humanoid.New(cfg.Browser().Humanoid, logger),
		Snapshots: snaps,
	}, logger)

	eng, err := engine.New(cfg, logger, pages, storage, w, profile)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	logger.Info("Starting walk",
		zap.String("profile", profile.Name),
		zap.Strings("targets", targets),
		zap.Int("start_from", opts.startFrom),
	)
	reports, err := eng.Run(ctx, targets, opts.startFrom)
	if err != nil {
		return err
	}

	renderReports(out, reports)
	if opts.output != "" {
		if err := writeReports(opts.output, reports); err != nil {
			return err
		}
		logger.Info("Reports written.", zap.String("path", opts.output))
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

// renderReports prints one row per target.
func renderReports(out io.Writer, reports []engine.TargetReport) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Target", "Profile", "Status", "Items", "Last Index", "Sessions", "Error"})
	total := 0
	for _, r := range reports {
		total += len(r.Items)
		t.AppendRow(table.Row{r.Target, r.Profile, r.Status, len(r.Items), r.LastIndex, len(r.Attempts), truncate(r.Err(), 60)})
	}
	t.AppendFooter(table.Row{"", "", "Total", total})
	t.Render()
}

func writeReports(path string, reports []engine.TargetReport) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode reports: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write reports to %s: %w", path, err)
	}
	return nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
