package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DefaultTwilioAPI is the public Twilio REST endpoint.
const DefaultTwilioAPI = "https://api.twilio.com"

const whatsappPrefix = "whatsapp:"

// TwilioConfig holds the WhatsApp sender settings.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the WhatsApp sender number, with or without the
	// "whatsapp:" prefix.
	From string
	// BaseURL redirects API calls, e.g. to a local mock.  Empty means
	// DefaultTwilioAPI.
	BaseURL string
	Backoff time.Duration
}

// Twilio sends WhatsApp messages through the Twilio Messages API.
type Twilio struct {
	cfg   TwilioConfig
	api   *twilioapi.ApiService
	retry retrier
}

// NewTwilio builds a gateway on the twilio-go REST client.  A nil client
// uses a client with a 10s timeout.
func NewTwilio(cfg TwilioConfig, client *http.Client, log zerolog.Logger) *Twilio {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	client = rebaseClient(client, cfg.BaseURL)

	tc := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  client,
	}
	tc.SetAccountSid(cfg.AccountSID)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.AccountSID,
		Password:   cfg.AuthToken,
		AccountSid: cfg.AccountSID,
		Client:     tc,
	})

	return &Twilio{
		cfg:   cfg,
		api:   rest.Api,
		retry: retrier{attempts: 3, base: cfg.Backoff, log: log.With().Str("gateway", "whatsapp").Logger()},
	}
}

// Name implements Gateway.
func (t *Twilio) Name() string { return "whatsapp" }

// Send creates one message.  Transport errors, 429 and 5xx responses are
// retried; other API errors fail immediately.  The SDK call takes no
// context, so ctx bounds the retries only.
func (t *Twilio) Send(ctx context.Context, recipient, text string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(recipient))
	params.SetFrom(WhatsAppAddress(t.cfg.From))
	params.SetBody(text)

	return t.retry.do(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return permanent{err}
		}
		_, err := t.api.CreateMessage(params)
		return classifyTwilio(err)
	})
}

// ValidateCredentials fetches the account resource.
func (t *Twilio) ValidateCredentials(ctx context.Context) error {
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
		return fmt.Errorf("twilio: account sid and auth token are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.FetchAccount(t.cfg.AccountSID); err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}

// classifyTwilio wraps an SDK error, marking API errors that retrying
// cannot fix as permanent.
func classifyTwilio(err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("twilio: %w", err)
	var te *twilioclient.TwilioRestError
	if errors.As(err, &te) && te.Status > 0 && te.Status < 500 && te.Status != http.StatusTooManyRequests {
		return permanent{wrapped}
	}
	return wrapped
}

// rebaseClient returns a copy of client whose requests go to base instead
// of the Twilio API host.
func rebaseClient(client *http.Client, base string) *http.Client {
	base = strings.TrimRight(base, "/")
	if base == "" || base == DefaultTwilioAPI {
		return client
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return client
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c := *client
	c.Transport = rebaseTransport{base: u, next: next}
	return &c
}

type rebaseTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (r rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = r.base.Scheme
	out.URL.Host = r.base.Host
	out.Host = r.base.Host
	return r.next.RoundTrip(out)
}

// WhatsAppAddress adds the "whatsapp:" prefix when it is missing.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// ValidateSignature checks an X-Twilio-Signature header against this
// gateway's auth token.
func (t *Twilio) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	return ValidateTwilioSignature(t.cfg.AuthToken, fullURL, params, signature)
}

// ValidateTwilioSignature checks an X-Twilio-Signature header with the
// SDK request validator.  An empty token or signature never validates.
func ValidateTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	form := make(map[string]string, len(params))
	for k := range params {
		form[k] = params.Get(k)
	}
	v := twilioclient.NewRequestValidator(authToken)
	return v.Validate(fullURL, form, signature)
}
