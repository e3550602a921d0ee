// Package export provides the "export" command for dumping the store's
// current fingerprints as JSON, optionally gzip-compressed and written
// atomically.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"

	"github.com/lucho00cuba/fimwatch/internal/engine"
	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/logger"

	"github.com/lucho00cuba/fimwatch/cmd"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [path...]",
	Short: "Export the store's current fingerprints as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.With("command", "export")

		storePath, err := cmd.Flags().GetString("store")
		if err != nil {
			return err
		}
		if storePath == "" {
			storePath = "fimwatch.db"
		}
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		gzipOut, err := cmd.Flags().GetBool("gzip")
		if err != nil {
			return err
		}

		ctx := context.Background()
		eng, err := engine.New(ctx, engine.Config{
			MonitorPaths:    args,
			LoadIgnoreFiles: true,
			HashConfig:      hasher.DefaultConfig(),
			StorePath:       storePath,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		defer func() {
			if cerr := eng.Close(); cerr != nil {
				log.Warn("failed to close engine", "error", cerr)
			}
		}()

		var buf bytes.Buffer
		var writeErr error
		if gzipOut {
			gz := gzip.NewWriter(&buf)
			writeErr = eng.Export(ctx, gz)
			if cerr := gz.Close(); writeErr == nil {
				writeErr = cerr
			}
		} else {
			writeErr = eng.Export(ctx, &buf)
		}
		if writeErr != nil {
			log.Error("export failed", "error", writeErr)
			return writeErr
		}

		if output == "" || output == "-" {
			if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		}

		if !strings.HasSuffix(output, ".gz") && gzipOut {
			output += ".gz"
		}
		if err := atomic.WriteFile(output, &buf); err != nil {
			log.Error("failed to write export file", "error", err, "path", output)
			return fmt.Errorf("failed to write export file %s: %w", output, err)
		}

		log.Info("export written", "path", output, "bytes", buf.Len(), "generated_at", time.Now().UTC().Format(time.RFC3339))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, buf.Len()); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("store", "", "Path to the SQLite store file (default fimwatch.db)")
	exportCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().Bool("gzip", false, "Gzip-compress the exported JSON")

	cmd.Register(exportCmd)
}
