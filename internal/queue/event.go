// Package queue carries booking notifications over RabbitMQ.  The
// engine publishes events instead of calling chat providers inline, and
// a consumer process renders and delivers them.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/resort-booking/internal/notify"
)

// DefaultQueue is the durable queue notifications travel through.
const DefaultQueue = "booking.notifications"

// envelopeVersion is bumped when Envelope changes incompatibly.
const envelopeVersion = 1

// Envelope is the JSON body of one message.  It carries enough of the
// booking for the consumer to render the text without querying the
// primary database.
type Envelope struct {
	Version int          `json:"version"`
	Event   notify.Event `json:"event"`
}

func encode(ev notify.Event) ([]byte, error) {
	return json.Marshal(Envelope{Version: envelopeVersion, Event: ev})
}

func decode(body []byte) (notify.Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return notify.Event{}, fmt.Errorf("unmarshal: %w", err)
	}
	if env.Version != envelopeVersion {
		return notify.Event{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Event.Kind == "" || env.Event.UserID == "" {
		return notify.Event{}, fmt.Errorf("envelope without kind or user")
	}
	return env.Event, nil
}
