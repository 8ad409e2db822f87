package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/messaging"
)

// GatewayNotifier renders events and sends them through the gateway of
// the booking's channel.
type GatewayNotifier struct {
	gateways  messaging.Set
	templates *Templates
	log       zerolog.Logger
}

// NewGatewayNotifier wires rendering and delivery.
func NewGatewayNotifier(gateways messaging.Set, templates *Templates, log zerolog.Logger) *GatewayNotifier {
	return &GatewayNotifier{gateways: gateways, templates: templates, log: log.With().Str("component", "notify").Logger()}
}

// Notify sends ev to its user.  Bookings made on a channel without a
// gateway (the web API) are skipped without error.
func (n *GatewayNotifier) Notify(ctx context.Context, ev Event) error {
	gw, ok := n.gateways.For(ev.Channel)
	if !ok {
		n.log.Debug().Str("booking_id", ev.BookingID).Str("channel", ev.Channel).Str("kind", string(ev.Kind)).
			Msg("no gateway for channel, notification skipped")
		return nil
	}
	text, err := n.templates.Render(ev)
	if err != nil {
		return fmt.Errorf("render %s: %w", ev.Kind, err)
	}
	if err := gw.Send(ctx, ev.UserID, text); err != nil {
		return fmt.Errorf("send %s via %s: %w", ev.Kind, gw.Name(), err)
	}
	n.log.Info().Str("booking_id", ev.BookingID).Str("channel", ev.Channel).Str("kind", string(ev.Kind)).Msg("notification sent")
	return nil
}
