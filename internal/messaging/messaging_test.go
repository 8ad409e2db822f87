package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twilioServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32, chan url.Values) {
	t.Helper()
	var calls atomic.Int32
	forms := make(chan url.Values, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		forms <- r.PostForm
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = fmt.Fprintf(w, `{"code":21211,"message":"bad number","status":%d}`, status)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, forms
}

func newTestTwilio(base string) *Twilio {
	return NewTwilio(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+14155238886",
		BaseURL:    base,
		Backoff:    time.Millisecond,
	}, nil, zerolog.Nop())
}

func TestTwilioSend(t *testing.T) {
	srv, calls, forms := twilioServer(t, http.StatusCreated)
	err := newTestTwilio(srv.URL).Send(context.Background(), "whatsapp:+15550001111", "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	form := <-forms
	assert.Equal(t, "whatsapp:+15550001111", form.Get("To"))
	assert.Equal(t, "whatsapp:+14155238886", form.Get("From"))
	assert.Equal(t, "hello", form.Get("Body"))
}

func TestTwilioRetriesServerErrors(t *testing.T) {
	srv, calls, _ := twilioServer(t, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusCreated)
	err := newTestTwilio(srv.URL).Send(context.Background(), "+15550001111", "hi")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTwilioGivesUpAfterThreeAttempts(t *testing.T) {
	srv, calls, _ := twilioServer(t, http.StatusInternalServerError)
	err := newTestTwilio(srv.URL).Send(context.Background(), "+15550001111", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestTwilioClientErrorIsPermanent(t *testing.T) {
	srv, calls, _ := twilioServer(t, http.StatusBadRequest)
	err := newTestTwilio(srv.URL).Send(context.Background(), "+15550001111", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad number")
	assert.Equal(t, int32(1), calls.Load())
}

// sign reproduces the signature Twilio attaches to a webhook POST.
func sign(token, fullURL string, params url.Values) string {
	pairs := make([]string, 0, len(params))
	for k := range params {
		pairs = append(pairs, k+params.Get(k))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(fullURL + strings.Join(pairs, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioSignature(t *testing.T) {
	params := url.Values{"From": {"whatsapp:+15550001111"}, "Body": {"book"}, "MessageSid": {"SM1"}}
	const hook = "https://resort.example.com/webhooks/twilio"
	sig := sign("secret", hook, params)

	assert.True(t, ValidateTwilioSignature("secret", hook, params, sig))
	assert.True(t, newTestTwilio("").ValidateSignature(hook, params, sig))
	assert.False(t, ValidateTwilioSignature("other", hook, params, sig))
	assert.False(t, ValidateTwilioSignature("secret", hook+"?x=1", params, sig))
	tampered := url.Values{"From": {"whatsapp:+15550001111"}, "Body": {"cancel"}, "MessageSid": {"SM1"}}
	assert.False(t, ValidateTwilioSignature("secret", hook, tampered, sig))
	assert.False(t, ValidateTwilioSignature("secret", hook, params, ""))
	assert.False(t, ValidateTwilioSignature("", hook, params, sign("", hook, params)))
}

func TestTwilioValidateCredentials(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		user, _, _ := r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		if user != "AC123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate","status":401}`))
			return
		}
		_, _ = w.Write([]byte(`{"sid":"AC123","status":"active"}`))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, newTestTwilio(srv.URL).ValidateCredentials(context.Background()))
	assert.Equal(t, "/2010-04-01/Accounts/AC123.json", path.Load())

	bad := NewTwilio(TwilioConfig{AccountSID: "ACbad", AuthToken: "x", BaseURL: srv.URL}, nil, zerolog.Nop())
	err := bad.ValidateCredentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authenticate")

	assert.Error(t, NewTwilio(TwilioConfig{}, nil, zerolog.Nop()).ValidateCredentials(context.Background()))
}

func TestTwilioStopsWhenContextDone(t *testing.T) {
	srv, calls, _ := twilioServer(t, http.StatusCreated)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestTwilio(srv.URL).Send(ctx, "+15550001111", "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWhatsAppAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+1555", WhatsAppAddress("+1555"))
	assert.Equal(t, "whatsapp:+1555", WhatsAppAddress(" whatsapp:+1555 "))
}

type fakeBot struct {
	errs []error
	sent []tgbotapi.MessageConfig
	me   error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) GetMe() (tgbotapi.User, error) { return tgbotapi.User{UserName: "resort_bot"}, f.me }

func TestTelegramSend(t *testing.T) {
	bot := &fakeBot{errs: []error{errors.New("connection reset")}}
	tg := NewTelegram(bot, time.Millisecond, zerolog.Nop())

	require.NoError(t, tg.Send(context.Background(), TelegramUserID(42), "*hi*"))
	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(42), bot.sent[1].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[1].ParseMode)
}

func TestTelegramForbiddenIsPermanent(t *testing.T) {
	bot := &fakeBot{errs: []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}}}
	tg := NewTelegram(bot, time.Millisecond, zerolog.Nop())
	err := tg.Send(context.Background(), "tg:42", "hi")
	require.Error(t, err)
	assert.Len(t, bot.sent, 1)
}

func TestTelegramRejectsForeignRecipient(t *testing.T) {
	tg := NewTelegram(&fakeBot{}, time.Millisecond, zerolog.Nop())
	assert.Error(t, tg.Send(context.Background(), "whatsapp:+1555", "hi"))
	_, err := TelegramChatID("tg:abc")
	assert.Error(t, err)
}

func TestSetRoutesByChannel(t *testing.T) {
	bot := &fakeBot{me: errors.New("unauthorized")}
	set := NewSet(NewTelegram(bot, time.Millisecond, zerolog.Nop()), nil)
	assert.Equal(t, []string{"telegram"}, set.Names())

	err := set.Send(context.Background(), "whatsapp", "whatsapp:+1", "hi")
	assert.ErrorIs(t, err, ErrNoGateway)
	require.NoError(t, set.Send(context.Background(), "telegram", "tg:7", "hi"))

	results := set.Validate(context.Background())
	assert.Error(t, results["telegram"])
}
