package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Booking.PendingTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Booking.CancellationDeadline)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.SweepInterval)
	assert.Equal(t, time.Hour, cfg.Jobs.FarReminderInterval)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.NearReminderInterval)
	assert.Equal(t, 10*time.Minute, cfg.Flow.StateTTL)
	assert.Equal(t, "direct", cfg.Notify.Mode)
	assert.Equal(t, "booking.notifications", cfg.Notify.Queue)
	assert.True(t, cfg.Twilio.ValidateSignature)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.Equal(t, map[string]bool{"GET": true}, cfg.Cache.MethodSet())
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.True(t, cfg.IsDev())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("APP_TIMEZONE", "America/New_York")
	t.Setenv("BOOKING_PENDING_TIMEOUT", "15m")
	t.Setenv("FLOW_STATE_TTL", "20m")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("CACHE_METHODS", "get, head")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, 15*time.Minute, cfg.Booking.PendingTimeout)
	assert.Equal(t, 20*time.Minute, cfg.Flow.StateTTL)
	assert.Equal(t, "cache:6380", cfg.Redis.Address())
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Cache.MethodSet())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"unknown env":             {"APP_ENV", "staging"},
		"bad timezone":            {"APP_TIMEZONE", "Mars/Olympus"},
		"bad notify mode":         {"NOTIFY_MODE", "carrier-pigeon"},
		"bad key strategy":        {"RATE_LIMIT_KEY_STRATEGY", "cookie"},
		"zero batch":              {"JOBS_BATCH_SIZE", "0"},
		"bad duration":            {"JOBS_SWEEP_INTERVAL", "soon"},
		"queue without url":       {"NOTIFY_MODE", "queue"},
		"telegram without secret": {"TELEGRAM_TOKEN", "123:abc"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestRateLimitShorthands(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 1, cfg.RateLimit.RefillTokens)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 50*time.Second, cfg.RateLimit.TTL)
}

func TestRequireDBAndJWT(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireDB())
	assert.Error(t, cfg.RequireJWT())

	cfg.DB = DBConfig{User: "app", Host: "localhost", Port: "3306", Name: "resort"}
	cfg.JWTSecret = "0123456789abcdef"
	assert.NoError(t, cfg.RequireDB())
	assert.NoError(t, cfg.RequireJWT())
}

func TestTwilioEnabled(t *testing.T) {
	assert.False(t, TwilioConfig{AccountSID: "AC1"}.Enabled())
	assert.True(t, TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+1555"}.Enabled())
}

func TestTelegramSecretWithToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "hook-secret")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "hook-secret", cfg.Telegram.WebhookSecret)
}
