// Package watch provides the "watch" command for monitoring one or more
// paths in realtime and printing drift as it's detected.
package watch

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lucho00cuba/fimwatch/internal/engine"
	"github.com/lucho00cuba/fimwatch/internal/logger"
	"github.com/lucho00cuba/fimwatch/internal/watcher"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Watch one or more paths in realtime and print drift as it happens",
	Long: `Watch records a fresh baseline and then monitors the given
paths using the platform's filesystem notification API, printing each
detected change as soon as it's debounced and rate-limited through. Stop
with Ctrl-C.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.With("command", "watch")

		debounceMs, err := cmd.Flags().GetInt("debounce")
		if err != nil {
			return err
		}
		maxEventsPerSecond, err := cmd.Flags().GetInt("max-events-per-second")
		if err != nil {
			return err
		}

		cfg, err := buildWatchConfig(cmd, args, debounceMs, maxEventsPerSecond)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := engine.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		defer func() {
			if cerr := eng.Close(); cerr != nil {
				log.Warn("failed to close engine", "error", cerr)
			}
		}()

		log.Info("establishing baseline before watching")
		if _, err := eng.BaselineScan(ctx); err != nil {
			return fmt.Errorf("failed to establish baseline: %w", err)
		}

		out := cmd.OutOrStdout()
		eng.Subscribe(func(c engine.ChangeRecord) {
			line := fmt.Sprintf("[%s] %s %s\n", c.DetectedAt.Format(time.RFC3339), c.Kind, c.Path)
			switch c.Kind {
			case engine.Added:
				fmt.Fprint(out, color.GreenString(line))
			case engine.Deleted:
				fmt.Fprint(out, color.RedString(line))
			default:
				fmt.Fprint(out, color.YellowString(line))
			}
		})

		log.Info("watching for changes", "paths", args)
		if err := eng.RunRealtime(ctx); err != nil {
			log.Error("realtime watch failed", "error", err)
			return err
		}
		log.Info("watch stopped")
		return nil
	},
}

func buildWatchConfig(cmd *cobra.Command, roots []string, debounceMs, maxEventsPerSecond int) (engine.Config, error) {
	exclude, err := cmd.Flags().GetStringArray("exclude")
	if err != nil {
		return engine.Config{}, err
	}
	ignoreFile, err := cmd.Flags().GetString("ignore-file")
	if err != nil {
		return engine.Config{}, err
	}
	storePath, err := cmd.Flags().GetString("store")
	if err != nil {
		return engine.Config{}, err
	}
	if storePath == "" {
		storePath = "fimwatch.db"
	}

	return engine.Config{
		MonitorPaths:     roots,
		ExcludePatterns:  exclude,
		LoadIgnoreFiles:  true,
		CustomIgnoreFile: ignoreFile,
		WatchConfig: watcher.Config{
			Roots:              roots,
			Debounce:           time.Duration(debounceMs) * time.Millisecond,
			MaxEventsPerSecond: maxEventsPerSecond,
			IgnoreGlobs:        exclude,
			Recursive:          true,
		},
		StorePath: storePath,
	}, nil
}

func init() {
	watchCmd.Flags().StringArrayP("exclude", "e", []string{}, "Exclude patterns (e.g., 'node_modules', '.git'). Can be specified multiple times.")
	watchCmd.Flags().StringP("ignore-file", "i", "", "Path to a custom ignore file (its patterns are merged with the others). .fimignore and .gitignore are always loaded automatically.")
	watchCmd.Flags().String("store", "", "Path to the SQLite store file (default fimwatch.db)")
	watchCmd.Flags().Int("debounce", 200, "Milliseconds to debounce repeated events on the same path")
	watchCmd.Flags().Int("max-events-per-second", 0, "Cap on emitted events per second (0 = unlimited)")

	cmd.Register(watchCmd)
}
