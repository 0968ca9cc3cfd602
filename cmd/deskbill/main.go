package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/deskbill/internal/billingcycle"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	billingcycleservice "github.com/railzwaylabs/deskbill/internal/billingcycle/service"
	"github.com/railzwaylabs/deskbill/internal/booking"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/railzwaylabs/deskbill/internal/customer"
	"github.com/railzwaylabs/deskbill/internal/migration"
	"github.com/railzwaylabs/deskbill/internal/observability"
	"github.com/railzwaylabs/deskbill/internal/payment"
	"github.com/railzwaylabs/deskbill/internal/redis"
	"github.com/railzwaylabs/deskbill/internal/scheduler"
	"github.com/railzwaylabs/deskbill/internal/server"
	"github.com/railzwaylabs/deskbill/internal/subscription"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"github.com/railzwaylabs/deskbill/pkg/db"
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
		Use:           "deskbill",
		Short:         "Recurring coworking booking billing",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newServeCmd(),
		newSchedulerCmd(),
		newAllCmd(),
		newResyncCmd(),
		newSweepCmd(),
		newQuoteCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and activate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the booking API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(false)
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the resync sweep and retention jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runServe(true)
			return nil
		},
	}
}

func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync <subscription-id>",
		Short: "Reprice one subscription for its next billing month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, sync subscriptiondomain.Synchronizer) (any, error) {
				return sync.ResyncPriceBeforeCycle(ctx, args[0])
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reprice every active dynamic subscription once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, sync subscriptiondomain.Synchronizer) (any, error) {
				return sync.SweepDynamicSubscriptions(ctx)
			})
		},
	}
}

func newQuoteCmd() *cobra.Command {
	var (
		days  string
		start string
		rate  int64
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the prorated charge and next month's amount for a booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekdays, err := calendar.ParseWeekdaySet(days)
			if err != nil {
				return fmt.Errorf("--days: %w", err)
			}
			startDate := time.Now().UTC()
			if strings.TrimSpace(start) != "" {
				startDate, err = time.ParseInLocation("2006-01-02", start, time.UTC)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			subscriptionMode, err := billingcycledomain.ParseSubscriptionMode(mode)
			if err != nil {
				return fmt.Errorf("--mode: %w", err)
			}

			quote, err := billingcycleservice.NewService().ComputeInitialBilling(billingcycledomain.RecurringBookingIntent{
				Weekdays:       weekdays,
				StartDate:      startDate,
				DailyRateMinor: rate,
				Mode:           subscriptionMode,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}
	cmd.Flags().StringVar(&days, "days", "", "booked weekdays, e.g. mon,wed,fri or 1,3,5")
	cmd.Flags().StringVar(&start, "start", "", "booking start date (YYYY-MM-DD), defaults to today")
	cmd.Flags().Int64Var(&rate, "rate", 0, "daily rate in minor currency units")
	cmd.Flags().StringVar(&mode, "mode", string(billingcycledomain.ModeFullDay), "full_day or half_day")
	_ = cmd.MarkFlagRequired("days")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
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

func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.GateModule,
		clock.Module,
		redis.Module,
		billingcycle.Module,
		customer.Module,
		payment.Module,
		subscription.Module,
	)
}

func runServe(withScheduler bool) {
	opts := []fx.Option{
		coreModules(),
		booking.Module,
		server.Module,
	}
	if withScheduler {
		opts = append(opts, scheduler.Module, fx.Invoke(startScheduler))
	}
	fx.New(opts...).Run()
}

func runScheduler() {
	app := fx.New(
		coreModules(),
		scheduler.Module,
		fx.Invoke(startScheduler),
	)
	app.Run()
}

func runOnce(fn func(ctx context.Context, sync subscriptiondomain.Synchronizer) (any, error)) error {
	var sync subscriptiondomain.Synchronizer
	app := fx.New(
		coreModules(),
		fx.NopLogger,
		fx.Populate(&sync),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	ctx, cancelRun := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancelRun()
	result, err := fn(ctx, sync)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
