// Package memstore is an in-process implementation of repository.Store.
// It backs unit tests and `server --memory` development runs.  Writers
// are serialised by a single transaction mutex, which gives the same
// observable guarantees as per-row locks for a single process: a create
// that waits behind another create re-reads the reduced capacity.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

// Store keeps offerings, slots and bookings in maps.  Every value handed
// out is a copy, so callers cannot mutate stored state behind the
// store's back.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	offerings map[string]*model.Offering
	slots     map[string]*model.TimeSlot
	bookings  map[string]*model.Booking
	order     map[string]int64
	seq       int64
}

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.CatalogWriter = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		offerings: map[string]*model.Offering{},
		slots:     map[string]*model.TimeSlot{},
		bookings:  map[string]*model.Booking{},
		order:     map[string]int64{},
	}
}

// WithTx runs fn with exclusive write access.  Writes are staged on the
// tx and applied only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:    s,
		slots:    map[string]*model.TimeSlot{},
		bookings: map[string]*model.Booking{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, slot := range tx.slots {
		c := *slot
		s.slots[id] = &c
	}
	for _, id := range tx.inserted {
		s.seq++
		s.order[id] = s.seq
	}
	for id, b := range tx.bookings {
		s.bookings[id] = b.Clone()
	}
	return nil
}

// InsertOffering adds an offering.  Duplicate ids or slugs conflict.
func (s *Store) InsertOffering(_ context.Context, o *model.Offering) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offerings[o.ID]; ok || o.ID == "" {
		return fmt.Errorf("%w: offering %q", repository.ErrConflict, o.ID)
	}
	for _, existing := range s.offerings {
		if existing.Slug == o.Slug && o.Slug != "" {
			return fmt.Errorf("%w: slug %q", repository.ErrConflict, o.Slug)
		}
	}
	c := *o
	s.offerings[o.ID] = &c
	return nil
}

// InsertTimeSlot adds a slot.  At most one slot may exist per offering
// and start time.
func (s *Store) InsertTimeSlot(_ context.Context, slot *model.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot.ID]; ok || slot.ID == "" {
		return fmt.Errorf("%w: slot %q", repository.ErrConflict, slot.ID)
	}
	for _, existing := range s.slots {
		if existing.OfferingID == slot.OfferingID && existing.StartsAt.Equal(slot.StartsAt) {
			return fmt.Errorf("%w: offering %s already has a slot at %s", repository.ErrConflict, slot.OfferingID, slot.StartsAt)
		}
	}
	c := *slot
	s.slots[slot.ID] = &c
	return nil
}

// Offering returns a copy of the offering.
func (s *Store) Offering(_ context.Context, id string) (*model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offerings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *o
	return &c, nil
}

// ActiveOfferings lists active offerings ordered by name.
func (s *Store) ActiveOfferings(_ context.Context, category string, limit int) ([]model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Offering, 0)
	for _, o := range s.offerings {
		if !o.IsActive {
			continue
		}
		if category != "" && !strings.EqualFold(o.Category, category) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return truncate(out, limit), nil
}

// PopularOfferings ranks active offerings by live or completed bookings
// created since the given time.
func (s *Store) PopularOfferings(_ context.Context, since time.Time, limit int) ([]model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, b := range s.bookings {
		if b.CreatedAt.Before(since) {
			continue
		}
		if b.Status.Live() || b.Status == model.StatusCompleted {
			counts[b.OfferingID]++
		}
	}
	out := make([]model.Offering, 0)
	for _, o := range s.offerings {
		if o.IsActive {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := counts[out[i].ID], counts[out[j].ID]
		if ci != cj {
			return ci > cj
		}
		return out[i].Name < out[j].Name
	})
	return truncate(out, limit), nil
}

// TimeSlot returns a copy of the slot.
func (s *Store) TimeSlot(_ context.Context, id string) (*model.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *slot
	return &c, nil
}

// UpcomingSlots lists available, not full slots of an offering in [from, to).
func (s *Store) UpcomingSlots(_ context.Context, offeringID string, from, to time.Time, limit int) ([]model.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TimeSlot, 0)
	for _, slot := range s.slots {
		if slot.OfferingID != offeringID || !slot.IsAvailable || slot.Full() {
			continue
		}
		if slot.StartsAt.Before(from) || !slot.StartsAt.Before(to) {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return truncate(out, limit), nil
}

// BookingDetail returns a booking joined with offering and slot fields.
func (s *Store) BookingDetail(_ context.Context, id string) (*model.BookingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d := s.detail(b)
	return &d, nil
}

// BookingsByUser lists a user's bookings newest first.
func (s *Store) BookingsByUser(_ context.Context, userID string, status model.BookingStatus) ([]model.BookingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BookingDetail, 0)
	for _, b := range s.bookings {
		if b.UserID != userID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, s.detail(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out, nil
}

// ExpiredPending returns ids of pending bookings whose deadline passed.
func (s *Store) ExpiredPending(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	due := make([]*model.Booking, 0)
	for _, b := range s.bookings {
		if b.Status == model.StatusPending && !b.ExpiresAt.After(now) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	ids := make([]string, 0, len(due))
	for _, b := range due {
		ids = append(ids, b.ID)
	}
	return truncate(ids, limit), nil
}

// DueReminders returns confirmed bookings starting in [from, to) that do
// not carry the given flag yet.
func (s *Store) DueReminders(_ context.Context, from, to time.Time, flag string, limit int) ([]model.BookingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BookingDetail, 0)
	for _, b := range s.bookings {
		if b.Status != model.StatusConfirmed || b.Metadata.Flag(flag) {
			continue
		}
		d := s.detail(b)
		if d.StartsAt.Before(from) || !d.StartsAt.Before(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return truncate(out, limit), nil
}

// detail must be called with mu held.
func (s *Store) detail(b *model.Booking) model.BookingDetail {
	d := model.BookingDetail{Booking: *b.Clone()}
	if o, ok := s.offerings[b.OfferingID]; ok {
		d.OfferingName = o.Name
		d.Location = o.Location
	}
	if slot, ok := s.slots[b.TimeSlotID]; ok {
		d.StartsAt = slot.StartsAt
		d.EndsAt = slot.EndsAt
	}
	return d
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
