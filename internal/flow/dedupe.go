package flow

import (
	"context"
	"sync"
	"time"
)

// Deduper drops webhook deliveries that were already processed.
type Deduper interface {
	// FirstSeen records id and reports whether this is its first delivery.
	FirstSeen(ctx context.Context, id string) (bool, error)
}

// MemoryDeduper is an in-process Deduper.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

// NewMemoryDeduper remembers ids for ttl.  A nil now uses time.Now.
func NewMemoryDeduper(ttl time.Duration, now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{ttl: ttl, now: now, seen: map[string]time.Time{}}
}

// FirstSeen implements Deduper.  Expired ids are dropped at most once per
// ttl so the map stays bounded by the ids seen within one window.
func (d *MemoryDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !now.Before(d.nextSweep) {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
		d.nextSweep = now.Add(d.ttl)
	}
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}
