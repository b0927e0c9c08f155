package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/authorization"
	"github.com/railzwaylabs/crmbilling/internal/bootstrap"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/migration"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	"github.com/railzwaylabs/crmbilling/internal/payment"
	"github.com/railzwaylabs/crmbilling/internal/plan"
	"github.com/railzwaylabs/crmbilling/internal/redis"
	"github.com/railzwaylabs/crmbilling/internal/refund"
	"github.com/railzwaylabs/crmbilling/internal/scheduler"
	"github.com/railzwaylabs/crmbilling/internal/server"
	"github.com/railzwaylabs/crmbilling/internal/subscription"
	"github.com/railzwaylabs/crmbilling/internal/tenant"
	"github.com/railzwaylabs/crmbilling/internal/upgrade"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "crmbilling",
		Short:   "Partner subscription and billing reconciliation",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations, seed the plan catalog and activate schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	var once bool
	var asOf string

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run background sweeps and retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runSchedulerOnce(asOf)
			}
			runScheduler()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run every job a single time and exit")
	cmd.Flags().StringVar(&asOf, "as-of", "", "with --once, evaluate due transitions at this RFC3339 instant")
	return cmd
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runMonolith()
			return nil
		},
	}
}

func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
	)
}

func services() fx.Option {
	return fx.Options(
		clock.Module,
		redis.Module,
		bootstrap.Module,
		plan.Module,
		tenant.Module,
		subscription.Module,
		payment.Module,
		upgrade.Module,
		refund.Module,
	)
}

func runMigrate() error {
	app := fx.New(
		infrastructure(),
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		infrastructure(),
		services(),
		authorization.Module,
		server.Module,
		fx.Invoke(server.Start),
	)
	app.Run()
}

func runScheduler() {
	app := fx.New(
		infrastructure(),
		services(),
		scheduler.Module,
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func runSchedulerOnce(asOf string) error {
	ctx := context.Background()
	if strings.TrimSpace(asOf) != "" {
		at, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		ctx = clock.WithSimulatedTime(ctx, at.UTC())
	}

	var s *scheduler.Scheduler
	app := fx.New(
		infrastructure(),
		services(),
		scheduler.Module,
		fx.Populate(&s),
	)

	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return s.RunOnce(ctx)
}

func runMonolith() {
	app := fx.New(
		infrastructure(),
		services(),
		authorization.Module,
		server.Module,
		scheduler.Module,
		fx.Invoke(server.Start),
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
