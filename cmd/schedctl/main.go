package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/config"
	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/db"
	"github.com/hackgods/clinic-capacity-engine/internal/distribution"
	"github.com/hackgods/clinic-capacity-engine/internal/logging"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operator tooling for the clinic capacity engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(batchesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type env struct {
	cfg  config.Config
	pool *pgxpool.Pool
	repo *capacity.PgRepository
	log  zerolog.Logger
}

// connect loads config and opens Postgres. Callers must call close.
func connect(ctx context.Context) (*env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
	if err != nil {
		return nil, nil, err
	}

	e := &env{
		cfg:  cfg,
		pool: pool,
		repo: capacity.NewPgRepository(pool),
		log:  logging.NewWithWriter(os.Stderr, cfg.LogLevel, "dev", "schedctl"),
	}
	return e, pool.Close, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := db.Migrate(cmd.Context(), e.pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := db.Status(cmd.Context(), e.pool)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts and inspect resolutions",
	}

	var from, to, doctor string
	var autoFix bool
	detect := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := conflict.DetectRequest{AutoFix: autoFix}
			if from != "" {
				d, err := capacity.ParseDate(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				req.From = &d
			}
			if to != "" {
				d, err := capacity.ParseDate(to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				req.To = &d
			}
			if doctor != "" {
				id, err := uuid.Parse(doctor)
				if err != nil {
					return fmt.Errorf("--doctor: %w", err)
				}
				req.DoctorID = &id
			}

			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			// Resolutions applied from the CLI are audited but not broadcast.
			svc := conflict.NewService(e.repo, notify.Nop{}, e.cfg.Location(), e.log)
			report, err := svc.Detect(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	detect.Flags().StringVar(&from, "from", "", "first date to scan (YYYY-MM-DD, default today)")
	detect.Flags().StringVar(&to, "to", "", "last date to scan (YYYY-MM-DD, default one year out)")
	detect.Flags().StringVar(&doctor, "doctor", "", "only this doctor's slots")
	detect.Flags().BoolVar(&autoFix, "auto-fix", false, "raise capacity of overbooked slots")
	cmd.AddCommand(detect)

	var limit, offset int
	resolutions := &cobra.Command{
		Use:   "resolutions",
		Short: "List applied resolutions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			svc := conflict.NewService(e.repo, notify.Nop{}, e.cfg.Location(), e.log)
			page, err := svc.Resolutions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(page)
		},
	}
	resolutions.Flags().IntVar(&limit, "limit", 50, "page size")
	resolutions.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.AddCommand(resolutions)

	return cmd
}

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and delete capacity batches",
	}

	service := func(e *env) *distribution.Service {
		return distribution.NewService(e.repo, e.repo, redisclient.NewLocalLocker(), e.log)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch with its slots and utilization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("batch id: %w", err)
			}
			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			view, err := service(e).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Delete a batch, its slots and their appointments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("batch id: %w", err)
			}
			e, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := service(e).Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	return cmd
}
