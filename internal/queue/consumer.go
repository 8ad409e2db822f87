package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/notify"
)

// Consumer reads notification messages and hands them to a Notifier,
// normally the gateway notifier.
type Consumer struct {
	URL      string
	Queue    string
	Notifier notify.Notifier
	Log      zerolog.Logger
}

// Run connects to RabbitMQ, declares the queue and consumes until ctx
// is cancelled.  Lost connections are re-dialled with a backoff capped
// at 30s.  A message that cannot be decoded or delivered is rejected
// without requeue so one bad message cannot spin the consumer.
func (c *Consumer) Run(ctx context.Context) error {
	queue := c.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if err := wait(ctx, backoff); err != nil {
				return err
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn, queue)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn().Err(err).Msg("consume loop ended, reconnecting")
		if err := wait(ctx, 2*time.Second); err != nil {
			return err
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := declare(ch, queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.Info().Str("queue", queue).Msg("consuming notifications")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.Log.Error().Err(err).Str("message_id", d.MessageId).Msg("handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	ev, err := decode(body)
	if err != nil {
		return err
	}
	if err := c.Notifier.Notify(ctx, ev); err != nil {
		return fmt.Errorf("deliver %s for booking %s: %w", ev.Kind, ev.BookingID, err)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
