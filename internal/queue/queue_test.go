package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/testkit"
)

func TestEnvelopeCarriesEvent(t *testing.T) {
	ev := notify.Event{
		Kind:            notify.KindConfirmed,
		BookingID:       "b1",
		UserID:          "tg:42",
		Channel:         "telegram",
		OfferingName:    "Sunset Cruise",
		StartsAt:        time.Date(2025, time.June, 3, 18, 0, 0, 0, time.UTC),
		Participants:    3,
		TotalPriceCents: 27000,
	}
	body, err := encode(ev)
	require.NoError(t, err)

	rec := &testkit.Recorder{}
	c := &Consumer{Notifier: rec, Log: zerolog.Nop()}
	require.NoError(t, c.handleMessage(context.Background(), body))

	got := rec.Events()
	require.Len(t, got, 1)
	assert.Equal(t, ev.BookingID, got[0].BookingID)
	assert.Equal(t, ev.Channel, got[0].Channel)
	assert.True(t, ev.StartsAt.Equal(got[0].StartsAt))
	assert.Equal(t, ev.TotalPriceCents, got[0].TotalPriceCents)
}

func TestHandleMessageRejectsBadBodies(t *testing.T) {
	c := &Consumer{Notifier: &testkit.Recorder{}, Log: zerolog.Nop()}
	for name, body := range map[string]string{
		"not json":      "{",
		"wrong version": `{"version":9,"event":{"kind":"booking.confirmed","user_id":"u"}}`,
		"no user":       `{"version":1,"event":{"kind":"booking.confirmed"}}`,
	} {
		assert.Error(t, c.handleMessage(context.Background(), []byte(body)), name)
	}
}

func TestHandleMessageReportsDeliveryFailure(t *testing.T) {
	body, err := encode(notify.Event{Kind: notify.KindReminder1, BookingID: "b2", UserID: "tg:1"})
	require.NoError(t, err)
	c := &Consumer{Notifier: &testkit.Recorder{Err: errors.New("blocked")}, Log: zerolog.Nop()}
	err = c.handleMessage(context.Background(), body)
	assert.ErrorContains(t, err, "booking b2")
}
