// Package verify provides the "verify" command for checking a single file
// against an expected digest using a constant-time comparison.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/logger"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path] [hash]",
	Short: "Verify that a file's digest matches the given hash",
	Long: `Verify that a file matches the given hash.
Computes the BLAKE3 digest of the specified file and compares it with the
provided hash using a constant-time comparison. Exits with code 0 if the
hashes match, non-zero otherwise.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		expectedHash := args[1]
		log := logger.With("path", path, "command", "verify", "expected_hash", expectedHash)

		log.Info("starting verification")
		start := time.Now()

		h := hasher.New(hasher.DefaultConfig())
		ok, err := h.Verify(context.Background(), path, expectedHash)
		if err != nil {
			log.Error("verification failed", "error", err, "duration", time.Since(start))
			return err
		}

		log.Info("verification completed", "duration", time.Since(start), "matched", ok)

		if ok {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Hash matches: %s\n", expectedHash); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		}

		if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "Hash mismatch!\nExpected: %s\n", expectedHash); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return fmt.Errorf("hash mismatch")
	},
}

func init() {
	cmd.Register(verifyCmd)
}
