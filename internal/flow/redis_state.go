package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "booking_flow:"
	lockKeyPrefix  = "booking_flow:lock:"
	seenKeyPrefix  = "booking_flow:seen:"
)

// unlockScript deletes the lock only when it still holds our token, so
// a lock that expired and was taken by another worker is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock TTL only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStateStore keeps conversation state in Redis so any worker can
// continue a user's flow.
type RedisStateStore struct {
	rdb      *redis.Client
	ttl      time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewRedisStateStore returns a store with the given state TTL.  Locks
// expire after lockTTL unless renewed; a held lock is renewed every third
// of lockTTL until released, so a slow engine call never lets a second
// message in.  Lock waits up to lockTTL for a busy user.
func NewRedisStateStore(rdb *redis.Client, ttl, lockTTL time.Duration) *RedisStateStore {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &RedisStateStore{rdb: rdb, ttl: ttl, lockTTL: lockTTL, lockWait: lockTTL}
}

// Load returns the user's state, or nil when none is stored.
func (r *RedisStateStore) Load(ctx context.Context, userID string) (*State, error) {
	raw, err := r.rdb.Get(ctx, stateKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode flow state: %w", err)
	}
	return &st, nil
}

// Save stores st and restarts its TTL.
func (r *RedisStateStore) Save(ctx context.Context, userID string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	if err := r.rdb.Set(ctx, stateKeyPrefix+userID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

// Clear deletes the user's state.
func (r *RedisStateStore) Clear(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, stateKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("clear flow state: %w", err)
	}
	return nil
}

// Lock takes booking_flow:lock:<user> with SET NX PX, polling until
// lockWait elapses.  The returned func stops renewal and releases the lock.
func (r *RedisStateStore) Lock(ctx context.Context, userID string) (func(), error) {
	key := lockKeyPrefix + userID
	token := uuid.NewString()
	deadline := time.Now().Add(r.lockWait)
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire flow lock: %w", err)
		}
		if ok {
			stop := keepAlive(r.lockTTL/3, func(ctx context.Context) bool {
				n, err := renewScript.Run(ctx, r.rdb, []string{key}, token, r.lockTTL.Milliseconds()).Int()
				return err == nil && n == 1
			})
			return func() {
				stop()
				// a fresh context: the request context may already be done
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = unlockScript.Run(ctx, r.rdb, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// keepAlive calls renew every interval until the returned stop func runs
// or renew reports the lock lost.  stop waits for the loop to exit.
func keepAlive(every time.Duration, renew func(ctx context.Context) bool) (stop func()) {
	if every <= 0 {
		every = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rctx, rcancel := context.WithTimeout(ctx, every)
				ok := renew(rctx)
				rcancel()
				if !ok {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// RedisDeduper remembers message ids with SETNX for ttl.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDeduper returns a Deduper keyed booking_flow:seen:<id>.
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// FirstSeen implements Deduper with one SETNX.
func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, seenKeyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe %s: %w", id, err)
	}
	return ok, nil
}
