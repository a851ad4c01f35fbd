package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventProducer fans a conversation event out into one BotEvent per bot member.
type EventProducer struct {
	store      BotEventStore
	membership MembershipResolver
	telemetry  telemetry
	now        func() time.Time
}

func NewEventProducer(store BotEventStore, membership MembershipResolver, logger Logger, metrics MetricsRecorder) (*EventProducer, error) {
	if store == nil {
		return nil, fmt.Errorf("core: bot event store is required")
	}
	if membership == nil {
		return nil, fmt.Errorf("core: membership resolver is required")
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &EventProducer{
		store:      store,
		membership: membership,
		telemetry:  telemetry{logger: logger, metrics: metrics},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// FanOut inserts one event per bot member. A failed insert for one bot never
// prevents the others; the returned error joins the per-bot failures.
func (p *EventProducer) FanOut(ctx context.Context, req FanOutRequest) (FanOutResult, error) {
	if p == nil || p.store == nil || p.membership == nil {
		return FanOutResult{}, fmt.Errorf("core: event producer is not configured")
	}
	startedAt := time.Now()
	if err := req.Validate(); err != nil {
		return FanOutResult{}, err
	}

	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.EventType = strings.TrimSpace(req.EventType)
	req.SourceEventID = strings.TrimSpace(req.SourceEventID)
	if req.SourceEventID == "" {
		req.SourceEventID = uuid.NewString()
	}

	result := FanOutResult{
		ConversationID: req.ConversationID,
		SourceEventID:  req.SourceEventID,
		EventIDs:       map[string]string{},
	}

	botIDs, err := p.membership.BotMembers(ctx, req.ConversationID)
	if err != nil {
		err = fmt.Errorf("core: resolve bot members of conversation %q: %w", req.ConversationID, err)
		p.telemetry.observeOperation(ctx, startedAt, "fanout", err, map[string]any{
			"conversation_id": req.ConversationID,
			"event_type":      req.EventType,
		})
		return result, err
	}

	createdAt := p.now()
	var joined error
	for _, botID := range dedupeIDs(botIDs) {
		id, insertErr := p.store.Insert(ctx, NewBotEvent{
			BotID:          botID,
			ConversationID: req.ConversationID,
			SourceEventID:  req.SourceEventID,
			EventType:      req.EventType,
			Payload:        copyAnyMap(req.Payload),
			CreatedAt:      createdAt,
		})
		if insertErr != nil {
			insertErr = WrapStorage("insert", insertErr)
			result.Failures = append(result.Failures, FanOutFailure{BotID: botID, Err: insertErr})
			joined = errors.Join(joined, fmt.Errorf("bot %q: %w", botID, insertErr))
			p.telemetry.logError(ctx, "bot event insert failed", map[string]any{
				"bot_id":          botID,
				"conversation_id": req.ConversationID,
				"source_event_id": req.SourceEventID,
				"error":           insertErr.Error(),
			})
			continue
		}
		result.EventIDs[botID] = id
	}

	p.telemetry.observeOperation(ctx, startedAt, "fanout", joined, map[string]any{
		"conversation_id": req.ConversationID,
		"event_type":      req.EventType,
		"bots":            len(result.EventIDs) + len(result.Failures),
		"created":         len(result.EventIDs),
		"failed":          len(result.Failures),
	})
	return result, joined
}

// Notify is the fire-and-forget entry point for the message-send path: it
// never returns an error, failures are only logged.
func (p *EventProducer) Notify(ctx context.Context, req FanOutRequest) FanOutResult {
	result, err := p.FanOut(ctx, req)
	if err != nil && p != nil {
		p.telemetry.logWarn(ctx, "bot event fan-out incomplete", map[string]any{
			"conversation_id": strings.TrimSpace(req.ConversationID),
			"event_type":      strings.TrimSpace(req.EventType),
			"error":           err.Error(),
		})
	}
	return result
}

func dedupeIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
