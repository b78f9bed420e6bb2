// Package cli implements the cubescan command line: it runs a single cube
// scan against the cube REST API and prints the resulting record batches.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cube-sql/internal/config"
	"cube-sql/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{"error": err.Error()}
			var userErr *domain.UserError
			var internalErr *domain.InternalError
			switch {
			case errors.As(err, &userErr):
				errObj["kind"] = "user"
			case errors.As(err, &internalErr):
				errObj["kind"] = "internal"
			}
			_ = printJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// app carries what subcommands need once the root has resolved its flags.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		envFile string
		output  string
		apiURL  string
		token   string
	)
	a := &app{stdout: stdout}

	rootCmd := &cobra.Command{
		Use:           "cubescan",
		Short:         "Run cube scans against a cube REST API",
		Long:          "Command-line interface that plans and executes a cube scan and prints the Arrow result.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			// Apply precedence: flag > env > default
			if cmd.Flags().Changed("api-url") {
				cfg.API.URL = apiURL
			}
			if cmd.Flags().Changed("token") {
				cfg.API.Token = token
			}

			a.cfg = cfg
			a.logger = newLogger(stderr, cfg)
			for _, w := range cfg.Warnings {
				a.logger.Debug("config warning", "warning", w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Cube API base URL (overrides CUBE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Cube API token (overrides CUBE_API_TOKEN)")

	rootCmd.AddCommand(newLoadCmd(a))
	rootCmd.AddCommand(newExplainCmd(a))
	rootCmd.AddCommand(newMetaCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))

	return rootCmd
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.JSONLogs() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(a.stdout, map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(a.stdout, "cubescan version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
