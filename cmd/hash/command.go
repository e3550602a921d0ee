// Package hash provides the "hash" command for printing the digest of a
// single file or every file under a directory.
package hash

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/ignore"
	"github.com/lucho00cuba/fimwatch/internal/logger"
	"github.com/lucho00cuba/fimwatch/internal/walker"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash [path]",
	Short: "Print the BLAKE3 digest of a file, or of every file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		log := logger.With("path", path, "command", "hash")

		excludePatterns, err := cmd.Flags().GetStringArray("exclude")
		if err != nil {
			log.Warn("failed to read exclude patterns", "error", err)
			excludePatterns = []string{}
		}
		customIgnoreFile, err := cmd.Flags().GetString("ignore-file")
		if err != nil {
			log.Warn("failed to read ignore-file flag", "error", err)
			customIgnoreFile = ""
		}

		info, err := os.Stat(path)
		if err != nil {
			log.Error("failed to stat path", "error", err)
			return fmt.Errorf("failed to stat path %q: %w", path, err)
		}

		h := hasher.New(hasher.DefaultConfig())
		ctx := context.Background()
		start := time.Now()

		if !info.IsDir() {
			d, err := h.Hash(ctx, path)
			if err != nil {
				log.Error("hash computation failed", "error", err, "duration", time.Since(start))
				return err
			}
			log.Info("hash computation completed", "duration", time.Since(start), "hash", d.Primary, "size", humanize.Bytes(uint64(info.Size())))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (f): %s (size: %s)\n", path, d.Primary, humanize.Bytes(uint64(info.Size())))
			return err
		}

		matcher, err := ignore.NewMatcher(excludePatterns, path, true, customIgnoreFile)
		if err != nil {
			log.Error("failed to build exclusion matcher", "error", err)
			return fmt.Errorf("failed to build exclusion matcher: %w", err)
		}

		w := walker.New([]string{path}, matcher, nil)
		paths, walkErrs := w.Walk()
		for _, werr := range walkErrs {
			log.Warn("walk error", "error", werr)
		}

		results := h.HashBatch(ctx, paths)
		var totalSize int64
		for _, r := range results {
			if r.Err != nil {
				log.Warn("hash failed", "path", r.Path, "error", r.Err)
				continue
			}
			if fi, err := os.Stat(r.Path); err == nil {
				totalSize += fi.Size()
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s (f): %s\n", r.Path, r.Digests.Primary); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}

		log.Info("hash computation completed", "duration", time.Since(start), "files", len(results), "size", humanize.Bytes(uint64(totalSize)))
		return nil
	},
}

func init() {
	hashCmd.Flags().StringArrayP("exclude", "e", []string{}, "Exclude patterns (e.g., 'node_modules', '.git'). Can be specified multiple times.")
	hashCmd.Flags().StringP("ignore-file", "i", "", "Path to a custom ignore file (its patterns are merged with the others). .fimignore and .gitignore are always loaded automatically from the working directory.")

	cmd.Register(hashCmd)
}
