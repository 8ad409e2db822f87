package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/config"
	"github.com/iliyamo/resort-booking/internal/flow"
	"github.com/iliyamo/resort-booking/internal/messaging"
	"github.com/iliyamo/resort-booking/internal/middleware"
	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository/memstore"
	"github.com/iliyamo/resort-booking/internal/testkit"
	"github.com/iliyamo/resort-booking/internal/utils"
)

const secret = "handler-test-secret-0123"

type api struct {
	e      *echo.Echo
	store  *memstore.Store
	clock  *testkit.Clock
	rec    *testkit.Recorder
	engine *booking.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{
		e:     echo.New(),
		store: memstore.New(),
		clock: testkit.NewClock(),
		rec:   &testkit.Recorder{},
	}
	a.engine = booking.NewEngine(a.store, a.rec, zerolog.Nop(), booking.Options{Now: a.clock.Now})

	bh := NewBookingHandler(a.engine, zerolog.Nop())
	g := a.e.Group("/v1/bookings", middleware.JWTAuth(secret), middleware.RequireRole(utils.RoleCustomer))
	g.POST("", bh.Create)
	g.GET("", bh.List)
	g.GET("/:id", bh.Get)
	g.POST("/:id/confirm", bh.Confirm)
	g.POST("/:id/cancel", bh.Cancel)

	ch := NewCatalogHandler(a.store, a.engine, zerolog.Nop())
	a.e.GET("/v1/offerings", ch.ListOfferings)
	a.e.GET("/v1/offerings/:id/slots", ch.ListSlots)
	a.e.GET("/v1/slots/:id/availability", ch.Availability)

	ah := NewAdminHandler(a.engine, a.rec, messaging.NewSet(&fakeGateway{name: "telegram"}), 50, zerolog.Nop())
	a.e.POST("/v1/admin/bookings/:id/complete", ah.Complete)
	a.e.POST("/v1/admin/bookings/:id/no-show", ah.NoShow)
	a.e.POST("/v1/admin/jobs/expire", ah.RunExpire)
	a.e.POST("/v1/admin/jobs/remind", ah.RunRemind)
	a.e.GET("/v1/admin/gateways", ah.ListGateways)
	return a
}

func (a *api) do(t *testing.T, method, target, user, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		tok, err := utils.NewAccessToken(secret, user, utils.RoleCustomer, time.Hour, time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (a *api) seed(t *testing.T, capacity int, startIn time.Duration) (*model.Offering, *model.TimeSlot) {
	t.Helper()
	o := testkit.Offering(t, a.store, "Kayak Tour", 4500)
	return o, testkit.Slot(t, a.store, o.ID, testkit.Epoch.Add(startIn), capacity)
}

func createBody(o *model.Offering, s *model.TimeSlot, n int) string {
	b, _ := json.Marshal(map[string]any{"offering_id": o.ID, "time_slot_id": s.ID, "participants": n})
	return string(b)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 4, 48*time.Hour)

	rec, body := a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "web", body["source"])
	assert.EqualValues(t, 9000, body["total_price_cents"])
	id := body["id"].(string)

	rec, body = a.do(t, http.MethodGet, "/v1/bookings", "web:alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = a.do(t, http.MethodGet, "/v1/bookings/"+id, "web:alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kayak Tour", body["offering_name"])

	rec, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", "web:alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", body["status"])

	rec, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/cancel", "web:alice", `{"reason":"plans changed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "plans changed", meta[model.MetaCancellationReason])

	rec, body = a.do(t, http.MethodGet, "/v1/bookings?status=confirmed", "web:alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 0)
}

func TestCreateErrorsMapToStatus(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 2, 48*time.Hour)

	rec, _ := a.do(t, http.MethodPost, "/v1/bookings", "", createBody(o, s, 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/v1/bookings", "web:alice", `{"offering_id":"nope","time_slot_id":"nope","participants":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 3))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 2, body["available"])

	rec, _ = a.do(t, http.MethodPost, "/v1/bookings", "web:alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/v1/bookings?status=lost", "web:alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForeignBookingIsNotFound(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 4, 48*time.Hour)
	_, body := a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 1))
	id := body["id"].(string)

	for _, path := range []string{"/v1/bookings/" + id + "/confirm", "/v1/bookings/" + id + "/cancel"} {
		rec, body := a.do(t, http.MethodPost, path, "web:mallory", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "booking not found", body["error"])
	}
	rec, _ := a.do(t, http.MethodGet, "/v1/bookings/"+id, "web:mallory", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPastDeadlineIsConflict(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 4, 30*time.Hour)
	_, body := a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 1))
	id := body["id"].(string)
	rec, _ := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/confirm", "web:alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	a.clock.Advance(7 * time.Hour)
	rec, body = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/cancel", "web:alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, s.StartsAt.Add(-24*time.Hour).Format(time.RFC3339), body["deadline"])
	assert.Contains(t, body["error"], "24 hours before the start time")
}

func TestCatalogEndpoints(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 4, 48*time.Hour)
	testkit.Slot(t, a.store, o.ID, testkit.Epoch.Add(-time.Hour), 4)
	testkit.Slot(t, a.store, o.ID, testkit.Epoch.Add(10*24*time.Hour), 4)

	rec, body := a.do(t, http.MethodGet, "/v1/offerings", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = a.do(t, http.MethodGet, "/v1/offerings?category=spa", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 0)

	rec, body = a.do(t, http.MethodGet, "/v1/offerings/"+o.ID+"/slots", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, s.ID, items[0].(map[string]any)["id"])
	assert.EqualValues(t, 4, items[0].(map[string]any)["available"])

	rec, body = a.do(t, http.MethodGet, "/v1/offerings/"+o.ID+"/slots?days=14", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 2)

	rec, _ = a.do(t, http.MethodGet, "/v1/offerings/"+o.ID+"/slots?days=0", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = a.do(t, http.MethodGet, "/v1/offerings/missing/slots", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = a.do(t, http.MethodGet, "/v1/slots/"+s.ID+"/availability?participants=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["available"])
	assert.EqualValues(t, 4, body["spots_left"])

	rec, body = a.do(t, http.MethodGet, "/v1/slots/"+s.ID+"/availability?participants=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["available"])

	rec, _ = a.do(t, http.MethodGet, "/v1/slots/"+s.ID+"/availability?participants=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	a := newAPI(t)
	o, s := a.seed(t, 4, 2*time.Hour)

	_, body := a.do(t, http.MethodPost, "/v1/bookings", "web:alice", createBody(o, s, 2))
	done := body["id"].(string)
	a.do(t, http.MethodPost, "/v1/bookings/"+done+"/confirm", "web:alice", "")
	_, body = a.do(t, http.MethodPost, "/v1/bookings", "web:bob", createBody(o, s, 1))
	stale := body["id"].(string)

	rec, _ := a.do(t, http.MethodPost, "/v1/admin/bookings/"+done+"/complete", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "slot has not started")

	a.clock.Advance(31 * time.Minute)
	rec, body = a.do(t, http.MethodPost, "/v1/admin/jobs/expire", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expire-pending", body["job"])
	assert.EqualValues(t, 1, body["succeeded"])

	rec, body = a.do(t, http.MethodGet, "/v1/bookings/"+stale, "web:bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	// slot now starts in an hour
	a.clock.Advance(29 * time.Minute)
	rec, body = a.do(t, http.MethodPost, "/v1/admin/jobs/remind?horizon=near", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "remind-1h", body["job"])
	assert.EqualValues(t, 1, body["succeeded"])

	rec, _ = a.do(t, http.MethodPost, "/v1/admin/jobs/remind?horizon=soon", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.clock.Advance(2 * time.Hour)
	rec, body = a.do(t, http.MethodPost, "/v1/admin/bookings/"+done+"/complete", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, _ = a.do(t, http.MethodPost, "/v1/admin/bookings/"+done+"/no-show", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = a.do(t, http.MethodPost, "/v1/admin/bookings/missing/no-show", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = a.do(t, http.MethodGet, "/v1/admin/gateways", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"telegram": "ok"}, body["gateways"])
}

func TestHealthWithoutStores(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", (&HealthHandler{}).Health)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

type sent struct{ to, text string }

type fakeGateway struct {
	name string
	mu   sync.Mutex
	sent []sent
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Send(_ context.Context, to, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sent{to, text})
	return nil
}

func (g *fakeGateway) ValidateCredentials(context.Context) error { return nil }

func (g *fakeGateway) messages() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

type convFunc func(ctx context.Context, in flow.Inbound) flow.Reply

func (f convFunc) Handle(ctx context.Context, in flow.Inbound) flow.Reply { return f(ctx, in) }

func echoConv(got *[]flow.Inbound) Conversation {
	return convFunc(func(_ context.Context, in flow.Inbound) flow.Reply {
		*got = append(*got, in)
		if in.Text == "book" {
			return flow.Reply{Text: "*Choose an activity to book:*", Handled: true}
		}
		return flow.Reply{}
	})
}

func TestTwilioWebhook(t *testing.T) {
	const token = "twilio-auth-token"
	const hookURL = "https://resort.example.com/webhooks/twilio"
	wa := &fakeGateway{name: "whatsapp"}
	var got []flow.Inbound
	h := NewWebhookHandler(echoConv(&got), messaging.NewSet(wa),
		config.TwilioConfig{AuthToken: token, WebhookURL: hookURL, ValidateSignature: true},
		config.TelegramConfig{}, zerolog.Nop())
	e := echo.New()
	e.POST("/webhooks/twilio", h.HandleTwilio)

	post := func(form url.Values, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		if sig != "" {
			req.Header.Set(TwilioSignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	form := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"book"}, "MessageSid": {"SM1"}}
	rec := post(form, testkit.TwilioSignature(token, hookURL, form))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, flow.Inbound{UserID: "whatsapp:+15550001", Channel: "whatsapp", Text: "book", MessageID: "SM1"}, got[0])
	require.Len(t, wa.messages(), 1)
	assert.Equal(t, "whatsapp:+15550001", wa.messages()[0].to)
	assert.Contains(t, wa.messages()[0].text, "Choose an activity")

	rec = post(form, "bogus")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, got, 1)

	hello := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hello"}, "MessageSid": {"SM2"}}
	rec = post(hello, testkit.TwilioSignature(token, hookURL, hello))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, wa.messages(), 2)
	assert.Equal(t, HelpText, wa.messages()[1].text)

	empty := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"  "}}
	rec = post(empty, testkit.TwilioSignature(token, hookURL, empty))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelegramWebhook(t *testing.T) {
	tg := &fakeGateway{name: "telegram"}
	var got []flow.Inbound
	h := NewWebhookHandler(echoConv(&got), messaging.NewSet(tg), config.TwilioConfig{},
		config.TelegramConfig{WebhookSecret: "hook-secret"}, zerolog.Nop())
	e := echo.New()
	e.POST("/webhooks/telegram", h.HandleTelegram)

	post := func(body, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(TelegramSecretHeader, secret)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}
	update := `{"update_id":7,"message":{"message_id":3,"date":1,"chat":{"id":42,"type":"private"},"text":"book"}}`

	rec := post(update, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, got)

	rec = post(update, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, "tg:42", got[0].UserID)
	assert.Equal(t, "telegram", got[0].Channel)
	assert.Equal(t, "tg-7", got[0].MessageID)
	require.Len(t, tg.messages(), 1)
	assert.Equal(t, "tg:42", tg.messages()[0].to)

	rec = post(`{"update_id":8,"edited_message":{"message_id":3,"date":1,"chat":{"id":42,"type":"private"},"text":"x"}}`, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Len(t, got, 1)
}

func TestTelegramWebhookRequiresSecret(t *testing.T) {
	var got []flow.Inbound
	h := NewWebhookHandler(echoConv(&got), messaging.NewSet(&fakeGateway{name: "telegram"}),
		config.TwilioConfig{}, config.TelegramConfig{}, zerolog.Nop())
	e := echo.New()
	e.POST("/webhooks/telegram", h.HandleTelegram)

	for _, secret := range []string{"", "anything"} {
		body := `{"update_id":1,"message":{"message_id":1,"date":1,"chat":{"id":424242,"type":"private"},"text":"cancel my booking"}}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if secret != "" {
			req.Header.Set(TelegramSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	assert.Empty(t, got)
}
