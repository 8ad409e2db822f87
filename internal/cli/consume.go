package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/queue"
)

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Deliver queued booking notifications through the chat gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Notify.RabbitMQURL == "" {
				return errors.New("NOTIFY_RABBITMQ_URL is required")
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			templates, err := notify.NewTemplates(loc, nil)
			if err != nil {
				return err
			}

			c := &queue.Consumer{
				URL:      cfg.Notify.RabbitMQURL,
				Queue:    cfg.Notify.Queue,
				Notifier: notify.NewGatewayNotifier(buildGateways(cfg, log), templates, log),
				Log:      log.With().Str("component", "consumer").Logger(),
			}
			log.Info().Str("queue", cfg.Notify.Queue).Msg("consumer started")
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
