package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	botrelay "github.com/goliatone/go-botrelay"
	"github.com/goliatone/go-botrelay/core"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestServer_Healthz(t *testing.T) {
	server := newTestServer(t, &stubRelay{})
	rec := doRequest(server, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	failing := newTestServer(t, &stubRelay{}, WithHealthCheck(func(context.Context) error {
		return errors.New("database is closed")
	}))
	rec = doRequest(failing, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServer_TriggerEvent(t *testing.T) {
	relay := &stubRelay{fanOut: core.FanOutResult{
		ConversationID: "conv-1",
		SourceEventID:  "msg-1",
		EventIDs:       map[string]string{"bot-1": "evt-1", "bot-2": "evt-2"},
	}}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodPost, "/api/conversations/conv-1/events", map[string]any{
		"event_type":      "new_message",
		"source_event_id": "msg-1",
		"payload":         map[string]any{"content": "hi"},
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if relay.lastFanOut.ConversationID != "conv-1" || relay.lastFanOut.Payload["content"] != "hi" {
		t.Fatalf("expected request to reach the producer, got %+v", relay.lastFanOut)
	}
	var body fanOutResponse
	decode(t, rec, &body)
	if body.EventIDs["bot-2"] != "evt-2" {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestServer_TriggerEventPartialFailure(t *testing.T) {
	relay := &stubRelay{
		fanOut: core.FanOutResult{
			ConversationID: "conv-1",
			EventIDs:       map[string]string{"bot-1": "evt-1"},
			Failures:       []core.FanOutFailure{{BotID: "bot-2", Err: errors.New("disk full")}},
		},
		fanOutErr: core.WrapStorage("insert", errors.New("disk full")),
	}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodPost, "/api/conversations/conv-1/events", map[string]any{"event_type": "new_message"}, nil)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}
	var body fanOutResponse
	decode(t, rec, &body)
	if len(body.Failures) != 1 || body.Failures[0].BotID != "bot-2" {
		t.Fatalf("expected failure entry, got %+v", body.Failures)
	}
}

func TestServer_TriggerEventValidation(t *testing.T) {
	server := newTestServer(t, &stubRelay{})

	rec := doRequest(server, http.MethodPost, "/api/conversations/conv-1/events", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event type, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error.TextCode == "" || body.Error.Code != http.StatusBadRequest {
		t.Fatalf("expected error envelope, got %+v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/events", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	server.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", raw.Code)
	}
}

func TestServer_GetBotEvent(t *testing.T) {
	relay := &stubRelay{events: []core.BotEvent{{
		ID:        "evt-1",
		BotID:     "bot-1",
		Status:    core.BotEventStatusDelivered,
		Attempts:  1,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodGet, "/api/bot-events/evt-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body botEventResponse
	decode(t, rec, &body)
	if body.Status != "delivered" || body.Attempts != 1 {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = doRequest(server, http.MethodGet, "/api/bot-events/evt-404", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var errBody errorResponse
	decode(t, rec, &errBody)
	if errBody.Error.TextCode != core.ErrorBotEventNotFound {
		t.Fatalf("expected %s, got %q", core.ErrorBotEventNotFound, errBody.Error.TextCode)
	}
}

func TestServer_ListBotEvents(t *testing.T) {
	relay := &stubRelay{events: []core.BotEvent{{ID: "evt-1", BotID: "bot-1", Status: core.BotEventStatusFailed}}}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodGet, "/api/bot-events?bot_id=bot-1&status=failed&limit=20&offset=5", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := core.BotEventFilter{BotID: "bot-1", Status: core.BotEventStatusFailed, Limit: 20, Offset: 5}
	if relay.lastFilter != want {
		t.Fatalf("expected filter %+v, got %+v", want, relay.lastFilter)
	}

	for _, path := range []string{
		"/api/bot-events?status=queued",
		"/api/bot-events?limit=ten",
		"/api/bot-events?limit=501",
	} {
		if rec := doRequest(server, http.MethodGet, path, nil, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestServer_RequeueBotEvent(t *testing.T) {
	relay := &stubRelay{events: []core.BotEvent{{ID: "evt-1", BotID: "bot-1", Status: core.BotEventStatusFailed, Attempts: 3}}}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodPost, "/api/bot-events/evt-1/requeue", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body botEventResponse
	decode(t, rec, &body)
	if body.Status != "pending" || body.Attempts != 0 {
		t.Fatalf("expected pending/0, got %s/%d", body.Status, body.Attempts)
	}

	relay.requeueErr = core.ErrNotRequeueable
	rec = doRequest(server, http.MethodPost, "/api/bot-events/evt-1/requeue", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-failed event, got %d", rec.Code)
	}
}

func TestServer_RunTick(t *testing.T) {
	relay := &stubRelay{stats: core.TickStats{Claimed: 3, Delivered: 2, Retried: 1}}
	server := newTestServer(t, relay)

	rec := doRequest(server, http.MethodPost, "/api/delivery/tick", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body tickResponse
	decode(t, rec, &body)
	if body.Claimed != 3 || body.Delivered != 2 || body.Retried != 1 {
		t.Fatalf("unexpected stats %+v", body)
	}

	relay.tickErr = core.ErrTickInFlight
	rec = doRequest(server, http.MethodPost, "/api/delivery/tick", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a tick is running, got %d", rec.Code)
	}
}

func TestServer_BotFeed(t *testing.T) {
	relay := &stubRelay{events: []core.BotEvent{{ID: "evt-1", BotID: "bot-1", Status: core.BotEventStatusPending}}}
	auth := stubAuthenticator{bots: map[string]core.Bot{"key-1": {ID: "bot-1", Name: "Tanke", Status: core.BotStatusActive}}}
	server := newTestServer(t, relay, WithBotAuthenticator(auth))

	rec := doRequest(server, http.MethodGet, "/api/bot/events?bot_id=bot-2", nil, map[string]string{HeaderAPIKey: "key-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if relay.lastFilter.BotID != "bot-1" || relay.lastFilter.Limit != defaultFeedLimit {
		t.Fatalf("expected feed scoped to the caller, got %+v", relay.lastFilter)
	}
	var body botFeedResponse
	decode(t, rec, &body)
	if body.Bot.Name != "Tanke" || len(body.Events) != 1 {
		t.Fatalf("unexpected feed %+v", body)
	}

	rec = doRequest(server, http.MethodGet, "/api/bot/events", nil, map[string]string{HeaderAPIKey: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	withoutAuth := newTestServer(t, relay)
	if rec := doRequest(withoutAuth, http.MethodGet, "/api/bot/events", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected feed to be disabled without an authenticator, got %d", rec.Code)
	}
}

func TestServer_BotFeedSince(t *testing.T) {
	relay := &stubRelay{events: []core.BotEvent{{ID: "evt-2", BotID: "bot-1", Status: core.BotEventStatusDelivered}}}
	auth := stubAuthenticator{bots: map[string]core.Bot{"key-1": {ID: "bot-1", Name: "Tanke", Status: core.BotStatusActive}}}
	server := newTestServer(t, relay, WithBotAuthenticator(auth))
	headers := map[string]string{HeaderAPIKey: "key-1"}

	rec := doRequest(server, http.MethodGet, "/api/bot/events?since=2026-03-01T14:00:00%2B02:00&limit=5", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if relay.lastFilter.Since == nil || !relay.lastFilter.Since.Equal(want) {
		t.Fatalf("expected since %s, got %+v", want, relay.lastFilter.Since)
	}
	if relay.lastFilter.Since.Location() != time.UTC {
		t.Fatalf("expected since normalized to UTC, got %s", relay.lastFilter.Since.Location())
	}
	if relay.lastFilter.Limit != 5 || relay.lastFilter.BotID != "bot-1" {
		t.Fatalf("unexpected feed filter %+v", relay.lastFilter)
	}

	rec = doRequest(server, http.MethodGet, "/api/bot/events?since=yesterday", nil, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed since, got %d", rec.Code)
	}
}

func TestNewServer_RequiresFacade(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Fatalf("expected facade required")
	}
}

func newTestServer(t *testing.T, relay *stubRelay, opts ...Option) *Server {
	t.Helper()
	facade, err := botrelay.NewFacade(relay)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	server, err := NewServer(facade, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func doRequest(server *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

type stubRelay struct {
	fanOut     core.FanOutResult
	fanOutErr  error
	lastFanOut core.FanOutRequest
	events     []core.BotEvent
	lastFilter core.BotEventFilter
	requeueErr error
	stats      core.TickStats
	tickErr    error
}

func (s *stubRelay) FanOut(_ context.Context, req core.FanOutRequest) (core.FanOutResult, error) {
	s.lastFanOut = req
	return s.fanOut, s.fanOutErr
}

func (s *stubRelay) RequeueBotEvent(ctx context.Context, id string) (core.BotEvent, error) {
	if s.requeueErr != nil {
		return core.BotEvent{}, s.requeueErr
	}
	event, err := s.GetBotEvent(ctx, id)
	if err != nil {
		return core.BotEvent{}, err
	}
	event.Status = core.BotEventStatusPending
	event.Attempts = 0
	return event, nil
}

func (s *stubRelay) GetBotEvent(_ context.Context, id string) (core.BotEvent, error) {
	for _, event := range s.events {
		if event.ID == id {
			return event, nil
		}
	}
	return core.BotEvent{}, core.BotEventNotFound(id)
}

func (s *stubRelay) ListBotEvents(_ context.Context, filter core.BotEventFilter) ([]core.BotEvent, error) {
	s.lastFilter = filter
	return s.events, nil
}

func (s *stubRelay) Tick(context.Context) (core.TickStats, error) {
	return s.stats, s.tickErr
}

type stubAuthenticator struct {
	bots map[string]core.Bot
}

func (a stubAuthenticator) AuthenticateAPIKey(_ context.Context, apiKey string) (core.Bot, error) {
	bot, ok := a.bots[apiKey]
	if !ok {
		return core.Bot{}, core.ErrInvalidAPIKey
	}
	return bot, nil
}
