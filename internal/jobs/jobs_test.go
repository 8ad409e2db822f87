package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/repository/memstore"
	"github.com/iliyamo/resort-booking/internal/testkit"
)

type env struct {
	store  *memstore.Store
	clock  *testkit.Clock
	engine *booking.Engine
	slot   *model.TimeSlot
	offer  *model.Offering
}

func newEnv(t *testing.T, startIn time.Duration) *env {
	t.Helper()
	e := &env{store: memstore.New(), clock: testkit.NewClock()}
	e.engine = booking.NewEngine(e.store, nil, zerolog.Nop(), booking.Options{Now: e.clock.Now})
	e.offer = testkit.Offering(t, e.store, "Spa Ritual", 12000)
	e.slot = testkit.Slot(t, e.store, e.offer.ID, testkit.Epoch.Add(startIn), 10)
	return e
}

func (e *env) create(t *testing.T, user string, n int) *model.Booking {
	t.Helper()
	b, err := e.engine.Create(context.Background(), booking.CreateRequest{
		UserID: user, OfferingID: e.offer.ID, TimeSlotID: e.slot.ID, Participants: n,
	})
	require.NoError(t, err)
	return b
}

func (e *env) booked(t *testing.T) int {
	t.Helper()
	s, err := e.store.TimeSlot(context.Background(), e.slot.ID)
	require.NoError(t, err)
	return s.BookedCount
}

func TestSweeperExpiresEachBookingOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 48*time.Hour)
	e.create(t, "A", 2)
	e.create(t, "B", 3)
	kept := e.create(t, "C", 1)
	_, err := e.engine.Confirm(ctx, kept.ID, "C")
	require.NoError(t, err)

	e.clock.Advance(booking.DefaultPendingTimeout + time.Minute)
	s := &Sweeper{Engine: e.engine, Log: zerolog.Nop(), Now: e.clock.Now}

	first, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 1, e.booked(t))

	second, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Equal(t, 1, e.booked(t))
}

type flakyExpiry struct {
	ids     []string
	fail    map[string]bool
	skipped map[string]bool
	calls   int
}

func (f *flakyExpiry) ExpiredPending(context.Context, int) ([]string, error) { return f.ids, nil }

func (f *flakyExpiry) ExpireBooking(_ context.Context, id string) (bool, error) {
	f.calls++
	if f.fail[id] {
		return false, errors.New("lock wait timeout")
	}
	return !f.skipped[id], nil
}

func TestSweeperContinuesPastFailures(t *testing.T) {
	f := &flakyExpiry{
		ids:     []string{"a", "b", "c", "d"},
		fail:    map[string]bool{"b": true},
		skipped: map[string]bool{"d": true},
	}
	res, err := (&Sweeper{Engine: f, Log: zerolog.Nop()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, f.calls)
	assert.Equal(t, Result{Job: "expire-pending", Processed: 4, Succeeded: 2, Failed: 1, Skipped: 1,
		StartedAt: res.StartedAt, FinishedAt: res.FinishedAt}, res)
}

func TestSweeperReportsListFailure(t *testing.T) {
	s := &Sweeper{Engine: listFails{}, Log: zerolog.Nop()}
	_, err := s.Run(context.Background())
	assert.ErrorContains(t, err, "list expired bookings")
}

type listFails struct{}

func (listFails) ExpiredPending(context.Context, int) ([]string, error) {
	return nil, errors.New("db down")
}
func (listFails) ExpireBooking(context.Context, string) (bool, error) { return false, nil }

func TestFarReminderSentExactlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 24*time.Hour)
	b := e.create(t, "A", 2)
	_, err := e.engine.Confirm(ctx, b.ID, "A")
	require.NoError(t, err)
	e.create(t, "B", 1) // pending, never reminded

	rec := &testkit.Recorder{}
	r := &Reminder{Engine: e.engine, Notifier: rec, Horizon: FarHorizon, Log: zerolog.Nop(), Now: e.clock.Now}

	for i := 0; i < 2; i++ {
		_, err := r.Run(ctx)
		require.NoError(t, err)
	}
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindReminder24, events[0].Kind)
	assert.Equal(t, b.ID, events[0].BookingID)
	assert.Equal(t, "Spa Ritual", events[0].OfferingName)

	d, err := e.engine.GetBooking(ctx, b.ID, "A")
	require.NoError(t, err)
	assert.True(t, d.Metadata.Flag(model.MetaReminded24h))
	assert.Equal(t, e.clock.Now().UTC().Format(time.RFC3339), d.Metadata[model.MetaReminded24hAt])
	assert.False(t, d.Metadata.Flag(model.MetaReminded1h))
}

func TestReminderFailureLeavesFlagUnset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)
	b := e.create(t, "A", 1)
	_, err := e.engine.Confirm(ctx, b.ID, "A")
	require.NoError(t, err)

	var attempts atomic.Int32
	failing := notify.NotifierFunc(func(context.Context, notify.Event) error {
		attempts.Add(1)
		return errors.New("twilio 503")
	})
	r := &Reminder{Engine: e.engine, Notifier: failing, Horizon: NearHorizon, Log: zerolog.Nop(), Now: e.clock.Now}
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	d, err := e.engine.GetBooking(ctx, b.ID, "A")
	require.NoError(t, err)
	assert.False(t, d.Metadata.Flag(model.MetaReminded1h))

	rec := &testkit.Recorder{}
	r.Notifier = rec
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, []notify.Kind{notify.KindReminder1}, rec.Kinds())
}

func TestReminderIgnoresBookingsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 30*time.Hour)
	b := e.create(t, "A", 1)
	_, err := e.engine.Confirm(ctx, b.ID, "A")
	require.NoError(t, err)

	rec := &testkit.Recorder{}
	for _, h := range []Horizon{FarHorizon, NearHorizon} {
		_, err := (&Reminder{Engine: e.engine, Notifier: rec, Horizon: h, Log: zerolog.Nop(), Now: e.clock.Now}).Run(ctx)
		require.NoError(t, err)
	}
	assert.Empty(t, rec.Events())
}

func TestParseHorizon(t *testing.T) {
	for in, want := range map[string]string{"far": "remind-24h", "24h": "remind-24h", "near": "remind-1h", "remind-1h": "remind-1h"} {
		h, err := ParseHorizon(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, h.Name)
	}
	_, err := ParseHorizon("weekly")
	assert.Error(t, err)
}

type countingJob struct{ runs atomic.Int32 }

func (c *countingJob) Name() string { return "count" }
func (c *countingJob) Run(context.Context) (Result, error) {
	c.runs.Add(1)
	return Result{}, nil
}

func TestSchedulerKicksImmediatelyAndStops(t *testing.T) {
	job := &countingJob{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Scheduler{Job: job, Interval: time.Hour, Log: zerolog.Nop()}).Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
