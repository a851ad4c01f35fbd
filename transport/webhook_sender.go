package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-botrelay/core"
	"github.com/goliatone/go-botrelay/webhooks"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultWebhookTimeout          = 10 * time.Second
	defaultResponseBodyLimit int64 = 64 << 10 // 64 KiB
	rejectionExcerptLimit          = 512
	userAgent                      = "botrelay-webhook/1"
)

// envelopeKeys are owned by the relay; payload entries with the same name are dropped.
var envelopeKeys = []string{"id", "event_type", "conversation_id", "bot_id", "created_at", "attempt"}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookSender POSTs signed bot event envelopes to bot webhooks.
type WebhookSender struct {
	Client               HTTPDoer
	DefaultTimeout       time.Duration
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewWebhookSender(client HTTPDoer) *WebhookSender {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookSender{
		Client:               client,
		DefaultTimeout:       defaultWebhookTimeout,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// BuildEnvelope composes the JSON body for a delivery attempt.
func BuildEnvelope(event core.BotEvent, attempt int) map[string]any {
	envelope := make(map[string]any, len(event.Payload)+len(envelopeKeys))
	for key, value := range event.Payload {
		envelope[key] = value
	}
	envelope["id"] = event.ID
	envelope["event_type"] = event.EventType
	envelope["conversation_id"] = event.ConversationID
	envelope["bot_id"] = event.BotID
	envelope["created_at"] = event.CreatedAt.UTC().Format(time.RFC3339Nano)
	envelope["attempt"] = attempt
	return envelope
}

// Send performs one delivery attempt. Any 2xx is success; other responses
// return a RemoteRejected error and network failures a TransportError.
func (s *WebhookSender) Send(ctx context.Context, delivery core.WebhookDelivery) (core.WebhookResult, error) {
	if s == nil || s.Client == nil {
		return core.WebhookResult{}, deliveryError(delivery, nil,
			goerrors.CategoryInternal,
			"transport: webhook sender requires an http client",
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := strings.TrimSpace(delivery.Target.WebhookURL)
	parsedURL, err := url.Parse(target)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return core.WebhookResult{}, deliveryError(delivery, err,
			goerrors.CategoryBadInput,
			"transport: invalid webhook url",
			http.StatusBadRequest,
			map[string]any{"url": target},
		)
	}

	body, err := json.Marshal(BuildEnvelope(delivery.Event, delivery.Attempt))
	if err != nil {
		return core.WebhookResult{}, deliveryError(delivery, err,
			goerrors.CategoryBadInput,
			"transport: encode webhook envelope",
			http.StatusBadRequest,
			nil,
		)
	}

	timeout := delivery.Timeout
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, parsedURL.String(), bytes.NewReader(body))
	if err != nil {
		return core.WebhookResult{}, deliveryError(delivery, err,
			goerrors.CategoryBadInput,
			"transport: create webhook request",
			http.StatusBadRequest,
			nil,
		)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(webhooks.HeaderEventID, delivery.Event.ID)
	httpReq.Header.Set(webhooks.HeaderEventType, delivery.Event.EventType)
	timestamp := webhooks.FormatTimestamp(now)
	httpReq.Header.Set(webhooks.HeaderTimestamp, timestamp)
	if secret := delivery.Target.WebhookSecret; secret != "" {
		httpReq.Header.Set(webhooks.HeaderSignature, webhooks.Sign(secret, timestamp, body))
	}

	startedAt := time.Now()
	httpRes, err := s.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return core.WebhookResult{Duration: time.Since(startedAt)}, ctx.Err()
		}
		return core.WebhookResult{Duration: time.Since(startedAt)}, deliveryError(delivery, err,
			goerrors.CategoryExternal,
			"transport: execute webhook request",
			http.StatusBadGateway,
			map[string]any{"timeout": timeout.String()},
		)
	}
	defer httpRes.Body.Close()

	limit := s.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	excerpt, _ := io.ReadAll(io.LimitReader(httpRes.Body, limit))
	_, _ = io.Copy(io.Discard, io.LimitReader(httpRes.Body, limit))

	result := core.WebhookResult{StatusCode: httpRes.StatusCode, Duration: time.Since(startedAt)}
	if httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
		return result, nil
	}
	return result, core.RemoteRejected(httpRes.StatusCode, rejectionMessage(httpRes.StatusCode, excerpt))
}

func rejectionMessage(status int, body []byte) string {
	message := fmt.Sprintf("webhook responded %d %s", status, http.StatusText(status))
	excerpt := strings.TrimSpace(string(body))
	if excerpt == "" {
		return message
	}
	if len(excerpt) > rejectionExcerptLimit {
		excerpt = excerpt[:rejectionExcerptLimit]
	}
	return message + ": " + excerpt
}

var _ core.WebhookSender = (*WebhookSender)(nil)
