package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"venturemarket/internal/app"
	"venturemarket/pkg/config"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ConfigureLogger()
	return cfg, nil
}

// withServices opens the database and messaging and hands the wired services to fn
func withServices(fn func(ctx context.Context, cfg *config.Config, svc *app.Services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := config.InitDB(cfg.DB)
		if err != nil {
			return err
		}
		msg, closeMessaging, err := app.OpenMessaging(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		defer closeMessaging()
		return fn(cmd.Context(), cfg, app.NewServices(cfg, db, msg))
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the SQL schema"}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_PATH)")

	open := func() (*gorm.DB, string, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, "", err
		}
		db, err := config.OpenDB(cfg.DB)
		if err != nil {
			return nil, "", err
		}
		if dir == "" {
			dir = cfg.MigrationsPath
		}
		return db, dir, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dir, err := open()
			if err != nil {
				return err
			}
			return config.ExecuteMigrations(db, dir)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dir, err := open()
			if err != nil {
				return err
			}
			return config.RollbackMigration(db, dir)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dir, err := open()
			if err != nil {
				return err
			}
			version, dirty, err := config.MigrationVersion(db, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	})
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one arbiter scan and print the findings",
		RunE: withServices(func(ctx context.Context, _ *config.Config, svc *app.Services) error {
			report, err := svc.Arbiter.Scan(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}
}

func resolveDisputesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-disputes",
		Short: "Resolve every pending dispute",
		RunE: withServices(func(ctx context.Context, _ *config.Config, svc *app.Services) error {
			n, err := svc.Arbiter.ResolvePending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("resolved %d disputes\n", n)
			return nil
		}),
	}
}

func sweepCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep-jobs",
		Short: "Fail jobs stuck in progress longer than the timeout",
		RunE: withServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
			if timeout <= 0 {
				timeout = cfg.Jobs.StalledTimeout
			}
			n, err := svc.Jobs.SweepStalledJobs(ctx, timeout)
			if err != nil {
				return err
			}
			fmt.Printf("failed %d stalled jobs\n", n)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stall timeout (defaults to STALLED_JOB_TIMEOUT)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print platform counters",
		RunE: withServices(func(ctx context.Context, _ *config.Config, svc *app.Services) error {
			stats, err := svc.Equity.PlatformStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
}

func purgeQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-queue <name>",
		Short: "Drop every message waiting on a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.RabbitMQ.Enabled() {
				return fmt.Errorf("RABBITMQ_HOST is not set")
			}
			if err := config.InitRabbitMQ(cfg.RabbitMQ); err != nil {
				return err
			}
			defer config.CloseRabbitMQ()
			return config.PurgeQueue(args[0])
		},
	}
}
