package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"confessional/api/internal/authpw"
	"confessional/api/internal/store"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.load()
			ctx := cmd.Context()
			if status {
				db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig(), logger)
				if err != nil {
					return err
				}
				defer db.Close()
				states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				for _, state := range states {
					mark := "pending"
					if state.Applied {
						mark = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", mark, state.Version)
				}
				return nil
			}

			db, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list migrations without applying them")
	return cmd
}

func newBackfillCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Move approved items left in live storage into the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.load()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.engine.CleanupBackfill(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d items failed to migrate", report.Failed, report.Scanned)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "abort the run after this long")
	return cmd
}

func newCreateAdminCommand(opts *rootOptions) *cobra.Command {
	var username, password, role string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Register a moderator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.load()
			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			admin, err := authpw.NewService(store.NewPostgresStore(db)).CreateAdmin(ctx, username, password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", admin.Username, admin.Role, admin.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&password, "password", "", "password, at least 8 characters (required)")
	cmd.Flags().StringVar(&role, "role", "moderator", "moderator or admin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
