// Package scan provides the "scan" command for running a baseline or
// incremental integrity scan over one or more monitored paths.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/lucho00cuba/fimwatch/internal/config"
	"github.com/lucho00cuba/fimwatch/internal/engine"
	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/logger"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path...]",
	Short: "Scan one or more paths and report drift against the stored baseline",
	Long: `Scan walks every given path, fingerprints each file, and compares the
result against what's already recorded in the store.

With --baseline, every file is recorded as a fresh entry and no deletion
sweep runs: use this to establish the first trusted snapshot of a tree.
Without it, an incremental scan runs: files missing from this pass that
were present in the last one are reported and purged as deleted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.With("command", "scan")

		cfg, err := buildConfig(cmd, args)
		if err != nil {
			return err
		}

		ctx := context.Background()
		eng, err := engine.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		defer func() {
			if cerr := eng.Close(); cerr != nil {
				log.Warn("failed to close engine", "error", cerr)
			}
		}()

		baseline, err := cmd.Flags().GetBool("baseline")
		if err != nil {
			return err
		}

		start := time.Now()
		var res engine.ScanResults
		if baseline {
			res, err = eng.BaselineScan(ctx)
		} else {
			res, err = eng.IncrementalScan(ctx)
		}
		if err != nil {
			log.Error("scan failed", "error", err, "duration", time.Since(start))
			return err
		}

		log.Info("scan completed",
			"mode", res.Mode, "run_id", res.RunID, "duration", res.ScanDuration,
			"files_scanned", res.FilesScanned, "added", res.Added, "modified", res.Modified,
			"deleted", res.Deleted, "errors", res.Errors,
		)

		out := cmd.OutOrStdout()
		for _, c := range res.Changes {
			line := fmt.Sprintf("%s %s\n", c.Kind, c.Path)
			switch c.Kind {
			case engine.Added:
				fmt.Fprint(out, color.GreenString(line))
			case engine.Deleted:
				fmt.Fprint(out, color.RedString(line))
			default:
				fmt.Fprint(out, color.YellowString(line))
			}
		}

		fmt.Fprintf(out, "scanned %d files: %d added, %d modified, %d deleted, %d errors (%s)\n",
			res.FilesScanned, res.Added, res.Modified, res.Deleted, res.Errors, res.ScanDuration)
		return nil
	},
}

// buildConfig merges an optional JWCC config file with CLI flags into an
// engine.Config. CLI flag values always win over the config file.
func buildConfig(cmd *cobra.Command, roots []string) (engine.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return engine.Config{}, err
	}
	file, err := config.Load(configPath)
	if err != nil {
		return engine.Config{}, err
	}

	exclude, _ := cmd.Flags().GetStringArray("exclude")
	if len(exclude) == 0 {
		exclude = file.Exclude
	}
	ignoreFile, _ := cmd.Flags().GetString("ignore-file")
	if ignoreFile == "" {
		ignoreFile = file.IgnoreFile
	}
	storePath, _ := cmd.Flags().GetString("store")
	if storePath == "" {
		storePath = file.StorePath
	}
	if storePath == "" {
		storePath = "fimwatch.db"
	}
	threads, _ := cmd.Flags().GetInt("threads")
	if threads == 0 {
		threads = file.Threads
	}
	maxSize, _ := cmd.Flags().GetUint64("max-size")
	if maxSize == 0 {
		maxSize = file.MaxFileSize
	}
	sha256, _ := cmd.Flags().GetBool("sha256")
	sha1, _ := cmd.Flags().GetBool("sha1")
	md5, _ := cmd.Flags().GetBool("md5")
	noBLAKE3, _ := cmd.Flags().GetBool("no-blake3")

	hashCfg := hasher.DefaultConfig()
	hashCfg.UseBLAKE3 = !noBLAKE3
	hashCfg.UseSHA256 = sha256 || file.SHA256
	hashCfg.UseSHA1 = sha1 || file.SHA1
	hashCfg.UseMD5 = md5 || file.MD5
	hashCfg.MaxFileSize = maxSize

	monitorPaths := roots
	if len(monitorPaths) == 0 {
		monitorPaths = file.Roots
	}

	return engine.Config{
		MonitorPaths:     monitorPaths,
		ExcludePatterns:  exclude,
		LoadIgnoreFiles:  !file.NoAutoIgnoreFiles,
		CustomIgnoreFile: ignoreFile,
		HashConfig:       hashCfg,
		StorePath:        storePath,
		ScanThreads:      threads,
		MaxFileSize:      maxSize,
	}, nil
}

func init() {
	scanCmd.Flags().Bool("baseline", false, "Establish a fresh baseline instead of running an incremental scan")
	scanCmd.Flags().StringArrayP("exclude", "e", []string{}, "Exclude patterns (e.g., 'node_modules', '.git'). Can be specified multiple times.")
	scanCmd.Flags().StringP("ignore-file", "i", "", "Path to a custom ignore file (its patterns are merged with the others). .fimignore and .gitignore are always loaded automatically.")
	scanCmd.Flags().String("store", "", "Path to the SQLite store file (default fimwatch.db)")
	scanCmd.Flags().String("config", "", "Path to a JWCC config file")
	scanCmd.Flags().Int("threads", 0, "Number of concurrent hashing workers (default: number of CPUs)")
	scanCmd.Flags().Uint64("max-size", 0, "Skip files larger than this many bytes (0 = no limit)")
	scanCmd.Flags().Bool("sha256", false, "Also compute a SHA-256 digest for each file")
	scanCmd.Flags().Bool("sha1", false, "Also compute a SHA-1 digest for each file")
	scanCmd.Flags().Bool("md5", false, "Also compute an MD5 digest for each file")
	scanCmd.Flags().Bool("no-blake3", false, "Disable the BLAKE3 primary digest (the scan engine rejects this: every fingerprint needs a primary digest)")

	cmd.Register(scanCmd)
}
