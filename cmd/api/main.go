package main

import (
	"fmt"
	"os"

	_ "time/tzdata"

	"github.com/spf13/cobra"

	"confessional/api/internal/config"
	"confessional/api/internal/logging"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	LogLevel      string
	MigrationsDir string
}

func (o *rootOptions) load() (config.Config, logging.Logger) {
	cfg := config.Load()
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.MigrationsDir != "" {
		cfg.MigrationsDir = o.MigrationsDir
	}
	return cfg, logging.New("confessional-api", cfg.LogLevel)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "confessional-api",
		Short:         "Confession moderation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.MigrationsDir, "migrations-dir", "", "override MIGRATIONS_DIR")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newBackfillCommand(opts))
	cmd.AddCommand(newCreateAdminCommand(opts))

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
