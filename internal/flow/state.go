package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Step is the position of a user inside a multi-turn flow.
type Step string

const (
	StepAwaitOffering     Step = "await_offering"
	StepAwaitSlot         Step = "await_slot"
	StepAwaitParticipants Step = "await_participants"
	StepAwaitCancel       Step = "await_cancel_choice"
	StepAwaitConfirm      Step = "await_confirm_choice"
)

// State is the persisted conversation of one user.  Choices holds the
// ids listed in the last numbered prompt, so a numeric reply binds to
// exactly what the user saw.
type State struct {
	Intent     string    `json:"intent"`
	Step       Step      `json:"step"`
	OfferingID string    `json:"offering_id,omitempty"`
	TimeSlotID string    `json:"time_slot_id,omitempty"`
	Choices    []string  `json:"choices,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrBusy is returned by Lock when another message of the same user is
// still being processed.
var ErrBusy = errors.New("conversation is busy")

// StateStore persists State per user with an inactivity TTL.  A missing
// or expired entry means no active flow.
type StateStore interface {
	Load(ctx context.Context, userID string) (*State, error)
	Save(ctx context.Context, userID string, st *State) error
	Clear(ctx context.Context, userID string) error
	// Lock serialises message handling per user.  The returned func
	// releases the lock.
	Lock(ctx context.Context, userID string) (func(), error)
}

// MemoryStateStore keeps state in process memory.  It suits tests and
// single-process development runs only.
type MemoryStateStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	states map[string]memEntry
	locks  map[string]*sync.Mutex
}

type memEntry struct {
	st      State
	expires time.Time
}

// NewMemoryStateStore returns a store whose entries expire after ttl of
// inactivity.  A nil now uses time.Now.
func NewMemoryStateStore(ttl time.Duration, now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{ttl: ttl, now: now, states: map[string]memEntry{}, locks: map[string]*sync.Mutex{}}
}

// Load returns the user's state, or nil when none is stored or it expired.
func (m *MemoryStateStore) Load(_ context.Context, userID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.states, userID)
		return nil, nil
	}
	st := e.st
	st.Choices = append([]string(nil), e.st.Choices...)
	return &st, nil
}

// Save stores a copy of st and restarts its TTL.
func (m *MemoryStateStore) Save(_ context.Context, userID string, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *st
	c.Choices = append([]string(nil), st.Choices...)
	m.states[userID] = memEntry{st: c, expires: m.now().Add(m.ttl)}
	return nil
}

// Clear deletes the user's state.
func (m *MemoryStateStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// Lock blocks until no other message for userID is being handled.
func (m *MemoryStateStore) Lock(_ context.Context, userID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}
