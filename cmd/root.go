// Package cmd provides the root command and command registration
// functionality for the fimwatch CLI. It handles global flags, logging
// configuration, and command initialization.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lucho00cuba/fimwatch/internal/logger"
	"github.com/lucho00cuba/fimwatch/version"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	logOutput string
	verbose   int
	quiet     bool
	logFile   *os.File
)

// rootCmd is the root command for the fimwatch CLI application.
var rootCmd = &cobra.Command{
	Use:   "fimwatch",
	Short: "fimwatch monitors a filesystem tree for unauthorized or unexpected change",
	Long: `fimwatch is a file integrity monitor. It fingerprints a directory tree,
stores the fingerprints in an indexed local database, and reports drift
between scans: content changes, permission changes, additions, and deletions.
It can also watch a tree in realtime and verify an individual file against a
known-good digest.`,
	Example: `  # Establish a baseline over a directory
  fimwatch scan /var/www --baseline

  # Re-scan and report drift against the stored baseline
  fimwatch scan /var/www

  # Watch a directory in realtime
  fimwatch watch /var/www

  # Verify a single file against an expected BLAKE3 digest
  fimwatch verify /etc/passwd 3a7bd3e2360a3d...

  # Compare two directory trees file by file
  fimwatch diff /srv/release-a /srv/release-b`,
	Version: version.VERSION,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if quiet {
			level = "error"
		} else if verbose > 0 {
			if verbose >= 2 {
				level = "debug"
			} else {
				level = "info"
			}
		} else if level == "" {
			level = "warn"
		}

		var output io.Writer
		if logOutput == "" || logOutput == "stdout" {
			output = os.Stdout
		} else {
			cleanPath := filepath.Clean(logOutput)
			absPath, err := filepath.Abs(cleanPath)
			if err != nil {
				return fmt.Errorf("error resolving log file path %s: %w", logOutput, err)
			}
			if filepath.Clean(absPath) != absPath {
				return fmt.Errorf("invalid log file path: %s", logOutput)
			}

			logFile, err = os.OpenFile(absPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("error opening log file %s: %w", logOutput, err)
			}
			output = logFile
		}

		logger.Init(level, logFormat, output)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			if err := logFile.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
			}
			logFile = nil
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Register adds a subcommand to the root command.
func Register(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// GetRootCmd returns the root command instance, primarily for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// Execute runs the root command and exits with code 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.SetVersionTemplate(fmt.Sprintf("fimwatch %s (%s) %s\n", version.VERSION, version.COMMIT, version.DATE))

	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}
{{end}}{{if or .Runnable .HasSubCommands}}{{if .Runnable}}
Usage:
{{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set the logging level (debug, info, warn, error). Default: warn")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Set the logging format (text, json). Default: text")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stdout", "Set the log output destination (stdout or a filename). Default: stdout")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Enable verbose output: -v for info level, -vv for debug level")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output (equivalent to --log-level=error)")
}
