// Package messaging sends plain-text messages to guests over chat
// providers.  The reservation engine and the flow controller never talk
// to a provider directly; they go through a Gateway.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Gateway is one outbound chat provider.
type Gateway interface {
	// Name is the channel the gateway serves ("whatsapp", "telegram").
	Name() string
	// Send delivers text to recipient, a channel-specific address.
	Send(ctx context.Context, recipient, text string) error
	// ValidateCredentials checks the configured credentials against the
	// provider without sending anything.
	ValidateCredentials(ctx context.Context) error
}

// ErrNoGateway is returned by Set.Send for channels without a gateway.
var ErrNoGateway = errors.New("no gateway for channel")

// Set maps channel names to gateways.
type Set map[string]Gateway

// NewSet indexes gateways by Name.  Nil entries are ignored.
func NewSet(gws ...Gateway) Set {
	s := Set{}
	for _, g := range gws {
		if g != nil {
			s[g.Name()] = g
		}
	}
	return s
}

// For returns the gateway serving channel.
func (s Set) For(channel string) (Gateway, bool) {
	g, ok := s[channel]
	return g, ok
}

// Names lists configured channels in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Send delivers text through the gateway of channel.
func (s Set) Send(ctx context.Context, channel, recipient, text string) error {
	g, ok := s.For(channel)
	if !ok {
		return fmt.Errorf("%w %q", ErrNoGateway, channel)
	}
	return g.Send(ctx, recipient, text)
}

// Validate runs ValidateCredentials on every gateway and returns the
// failures keyed by channel.
func (s Set) Validate(ctx context.Context) map[string]error {
	out := map[string]error{}
	for _, name := range s.Names() {
		out[name] = s[name].ValidateCredentials(ctx)
	}
	return out
}

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// retrier retries a send up to attempts times, sleeping base*2^i between
// attempts.
type retrier struct {
	attempts int
	base     time.Duration
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func (r retrier) do(ctx context.Context, fn func() error) error {
	attempts := r.attempts
	if attempts <= 0 {
		attempts = 3
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := sleep(ctx, r.base*time.Duration(math.Pow(2, float64(i-1)))); serr != nil {
				return serr
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		r.log.Warn().Err(err).Int("retry", i+1).Msg("send failed, retrying")
	}
	r.log.Error().Err(err).Msg("send permanently failed")
	return fmt.Errorf("send failed after %d attempts: %w", attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
