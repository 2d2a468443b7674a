// Package cmd - CLI command: cloud-cost schedule
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloud-cost/core/runner"
	"cloud-cost/internal/config"
	"cloud-cost/internal/errors"
	"cloud-cost/internal/logging"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the report jobs on a schedule",
	Long: `Run as a long-lived process driving the daily report, weekly report
and instance snapshot jobs from the cron expressions in the schedule
section of the config. Reports go to each project's Slack channel.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	r, closer, err := buildRunner(true, false)
	if err != nil {
		return fail(err)
	}
	defer closer()
	defer logging.Sync()

	scheduler := cron.New()
	jobs := []struct {
		name string
		expr string
		run  func(context.Context) error
	}{
		{"daily", cfg.Schedule.Daily, func(ctx context.Context) error {
			return r.RunDaily(ctx, runner.SelectorAll, runner.Options{Date: r.DefaultDate()})
		}},
		{"weekly", cfg.Schedule.Weekly, func(ctx context.Context) error {
			return r.RunWeekly(ctx, runner.SelectorAll, runner.Options{
				Date:           r.DefaultDate(),
				CustomerFacing: true,
			})
		}},
		{"instances", cfg.Schedule.Instances, func(ctx context.Context) error {
			return r.RecordInstances(ctx, runner.SelectorAll, false)
		}},
	}

	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		job := job
		_, err := scheduler.AddFunc(job.expr, func() {
			logging.Info("scheduled job starting", zap.String("job", job.name))
			if err := job.run(context.Background()); err != nil {
				logging.Error("scheduled job failed",
					zap.String("job", job.name), zap.Error(err))
			}
		})
		if err != nil {
			return fail(errors.Config("invalid cron expression for "+job.name+" job", err))
		}
	}

	scheduler.Start()
	defer scheduler.Stop()
	logging.Info("scheduler started",
		zap.String("daily", cfg.Schedule.Daily),
		zap.String("weekly", cfg.Schedule.Weekly),
		zap.String("instances", cfg.Schedule.Instances))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logging.Info("scheduler stopping")
	return nil
}
