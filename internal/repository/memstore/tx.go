package memstore

import (
	"context"
	"fmt"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

// memTx stages writes until WithTx decides to commit them.
type memTx struct {
	store    *Store
	slots    map[string]*model.TimeSlot
	bookings map[string]*model.Booking
	inserted []string
}

var _ repository.Tx = (*memTx)(nil)

func (t *memTx) Offering(ctx context.Context, id string) (*model.Offering, error) {
	return t.store.Offering(ctx, id)
}

func (t *memTx) TimeSlot(_ context.Context, id string) (*model.TimeSlot, error) {
	if slot, ok := t.slots[id]; ok {
		c := *slot
		return &c, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	slot, ok := t.store.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *slot
	return &c, nil
}

// LockTimeSlot is a plain read: the transaction mutex already excludes
// every other writer.
func (t *memTx) LockTimeSlot(ctx context.Context, id string) (*model.TimeSlot, error) {
	return t.TimeSlot(ctx, id)
}

func (t *memTx) LockBooking(_ context.Context, id string) (*model.Booking, error) {
	if b, ok := t.bookings[id]; ok {
		return b.Clone(), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	b, ok := t.store.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b.Clone(), nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, ok := t.bookings[b.ID]; ok {
		return fmt.Errorf("%w: booking %q", repository.ErrConflict, b.ID)
	}
	t.store.mu.RLock()
	_, exists := t.store.bookings[b.ID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: booking %q", repository.ErrConflict, b.ID)
	}
	t.bookings[b.ID] = b.Clone()
	t.inserted = append(t.inserted, b.ID)
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	if _, err := t.LockBooking(ctx, b.ID); err != nil {
		return err
	}
	t.bookings[b.ID] = b.Clone()
	return nil
}

// SaveBookedCount re-checks the ledger invariant the way the CHECK
// constraint does in MySQL.
func (t *memTx) SaveBookedCount(ctx context.Context, slot *model.TimeSlot) error {
	current, err := t.TimeSlot(ctx, slot.ID)
	if err != nil {
		return err
	}
	if slot.BookedCount < 0 || slot.BookedCount > current.Capacity {
		return fmt.Errorf("slot %s: booked_count %d outside [0, %d]", slot.ID, slot.BookedCount, current.Capacity)
	}
	current.BookedCount = slot.BookedCount
	t.slots[slot.ID] = current
	return nil
}
