package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/resort-booking/internal/jobs"
)

// schedulers returns the sweeper plus both reminder horizons on their
// configured intervals.
func (a *app) schedulers() []*jobs.Scheduler {
	jc := a.cfg.Jobs
	sweeper := &jobs.Sweeper{Engine: a.engine, BatchSize: jc.BatchSize, Log: a.log}
	far := &jobs.Reminder{Engine: a.engine, Notifier: a.notifier, Horizon: jobs.FarHorizon, BatchSize: jc.BatchSize, Log: a.log}
	near := &jobs.Reminder{Engine: a.engine, Notifier: a.notifier, Horizon: jobs.NearHorizon, BatchSize: jc.BatchSize, Log: a.log}
	return []*jobs.Scheduler{
		{Job: sweeper, Interval: jc.SweepInterval, Log: a.log},
		{Job: far, Interval: jc.FarReminderInterval, Log: a.log},
		{Job: near, Interval: jc.NearReminderInterval, Log: a.log},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the expiration sweeper and reminder dispatchers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Info().Dur("sweep", a.cfg.Jobs.SweepInterval).
				Dur("far", a.cfg.Jobs.FarReminderInterval).
				Dur("near", a.cfg.Jobs.NearReminderInterval).Msg("worker started")
			jobs.RunAll(ctx, a.schedulers()...)
			a.log.Info().Msg("worker stopped")
			return nil
		},
	}
}

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Release expired pending bookings once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			s := &jobs.Sweeper{Engine: a.engine, BatchSize: a.cfg.Jobs.BatchSize, Log: a.log}
			res, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newRemindCmd() *cobra.Command {
	var horizon string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send one horizon's reminders once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			hz, err := jobs.ParseHorizon(horizon)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			r := &jobs.Reminder{Engine: a.engine, Notifier: a.notifier, Horizon: hz, BatchSize: a.cfg.Jobs.BatchSize, Log: a.log}
			res, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&horizon, "horizon", "far", "reminder horizon: far (24h) or near (1h)")
	return cmd
}
