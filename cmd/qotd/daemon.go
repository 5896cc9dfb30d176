package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/qotd/internal/bot"
	"github.com/zulandar/qotd/internal/schedule"
	"github.com/zulandar/qotd/internal/status"
	"go.uber.org/zap"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run ask and collect on cron schedules",
		Long:  "Runs the ask and collect phases on the configured cron schedules (in the configured timezone) until interrupted, with an optional status HTTP server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, flags)
		},
	}
	return cmd
}

// buildScheduler registers the ask and collect phases on a scheduler.
func buildScheduler(e *env) (*schedule.Scheduler, error) {
	asker, err := bot.NewAsker(bot.AskerOpts{
		Client: e.client,
		Store:  e.store,
		Config: e.cfg,
		Logger: e.log.Named("ask"),
	})
	if err != nil {
		return nil, err
	}
	collector, err := bot.NewCollector(bot.CollectorOpts{
		Client: e.client,
		Store:  e.store,
		Config: e.cfg,
		Logger: e.log.Named("collect"),
	})
	if err != nil {
		return nil, err
	}

	sched := schedule.New(schedule.Opts{Location: e.cfg.Location(), Logger: e.log.Named("schedule")})
	err = sched.Add("ask", e.cfg.Schedule.Ask, func(ctx context.Context) error {
		res, err := asker.Run(ctx, false)
		if res != nil {
			e.log.Info("ask round done", zap.String("round", res.Round), zap.Int("asked", len(res.Asked)), zap.Int("picked", len(res.Picks)))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	err = sched.Add("collect", e.cfg.Schedule.Collect, func(ctx context.Context) error {
		report, err := collector.Run(ctx)
		if report != nil && report.Checked > 0 {
			e.log.Info("collect done",
				zap.Int("checked", report.Checked),
				zap.Int("published", report.Published),
				zap.Int("retained", report.Retained),
				zap.Int("expired", report.Expired),
				zap.Int("failed", report.Failed))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func runDaemon(cmd *cobra.Command, flags *globalFlags) (err error) {
	e, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer closeInto(&err, e)

	sched, err := buildScheduler(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	statusErr := make(chan error, 1)
	if e.cfg.Status.Port > 0 {
		go func() {
			statusErr <- status.Start(ctx, status.StartOpts{
				Store:  e.store,
				Jobs:   sched.Status,
				Port:   e.cfg.Status.Port,
				Logger: e.log.Named("status"),
			})
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "qotd daemon running (ask %q, collect %q, timezone %s)\n",
		e.cfg.Schedule.Ask, e.cfg.Schedule.Collect, e.cfg.Timezone)

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	select {
	case err := <-statusErr:
		cancel()
		<-schedDone
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		return nil
	case err := <-schedDone:
		return err
	}
}
