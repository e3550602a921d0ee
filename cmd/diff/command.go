// Package diff provides the "diff" command for comparing two directory
// trees file by file and reporting additions, removals, and content changes.
package diff

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/ignore"
	"github.com/lucho00cuba/fimwatch/internal/logger"
	"github.com/lucho00cuba/fimwatch/internal/walker"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff [pathA] [pathB]",
	Short: "Compare two directory trees file by file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pathA := args[0]
		pathB := args[1]
		log := logger.With("pathA", pathA, "pathB", pathB, "command", "diff")

		patterns, err := cmd.Flags().GetStringArray("exclude")
		if err != nil {
			log.Warn("failed to read exclude patterns", "error", err)
			patterns = []string{}
		}
		customIgnoreFile, err := cmd.Flags().GetString("ignore-file")
		if err != nil {
			log.Warn("failed to read ignore-file flag", "error", err)
			customIgnoreFile = ""
		}

		log.Info("starting directory comparison")
		start := time.Now()
		ctx := context.Background()
		h := hasher.New(hasher.DefaultConfig())

		digestsA, err := digestTree(ctx, h, pathA, patterns, customIgnoreFile)
		if err != nil {
			log.Error("failed to hash pathA", "error", err)
			return err
		}
		digestsB, err := digestTree(ctx, h, pathB, patterns, customIgnoreFile)
		if err != nil {
			log.Error("failed to hash pathB", "error", err)
			return err
		}

		lines := compareDigests(digestsA, digestsB)
		log.Info("comparison completed", "duration", time.Since(start), "differences", len(lines))

		for _, l := range lines {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), l); err != nil {
				log.Error("failed to write output to stdout", "error", err, "line", l)
				return fmt.Errorf("failed to write output: %w", err)
			}
		}

		return nil
	},
}

// digestTree walks root and returns a map from path relative to root to its
// primary digest.
func digestTree(ctx context.Context, h *hasher.Hasher, root string, excludes []string, customIgnoreFile string) (map[string]string, error) {
	matcher, err := ignore.NewMatcher(excludes, root, true, customIgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build exclusion matcher for %q: %w", root, err)
	}

	w := walker.New([]string{root}, matcher, nil)
	paths, _ := w.Walk()

	results := h.HashBatch(ctx, paths)
	digests := make(map[string]string, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		rel, err := filepath.Rel(root, r.Path)
		if err != nil {
			rel = r.Path
		}
		digests[filepath.ToSlash(rel)] = r.Digests.Primary
	}
	return digests, nil
}

// compareDigests reports, one line per difference, files present only in
// a, present only in b, or present in both with differing digests.
func compareDigests(a, b map[string]string) []string {
	var lines []string
	for rel, da := range a {
		db, ok := b[rel]
		if !ok {
			lines = append(lines, fmt.Sprintf("- %s", rel))
			continue
		}
		if !strings.EqualFold(da, db) {
			lines = append(lines, fmt.Sprintf("~ %s", rel))
		}
	}
	for rel := range b {
		if _, ok := a[rel]; !ok {
			lines = append(lines, fmt.Sprintf("+ %s", rel))
		}
	}
	sort.Strings(lines)
	return lines
}

func init() {
	diffCmd.Flags().StringArrayP("exclude", "e", []string{}, "Exclude patterns (e.g., 'node_modules', '.git'). Can be specified multiple times.")
	diffCmd.Flags().StringP("ignore-file", "i", "", "Path to a custom ignore file (its patterns are merged with the others). .fimignore and .gitignore are always loaded automatically from the working directory.")

	cmd.Register(diffCmd)
}
