package core

import (
	"context"
	"errors"
	"testing"
)

func newTestProducer(t *testing.T, store BotEventStore, membership MembershipResolver, logger Logger) *EventProducer {
	t.Helper()
	producer, err := NewEventProducer(store, membership, logger, nil)
	if err != nil {
		t.Fatalf("new event producer: %v", err)
	}
	producer.now = newFixedClock().Now
	return producer
}

func TestEventProducer_FanOutCreatesOneEventPerBotMember(t *testing.T) {
	store := newMemoryEventStore()
	membership := stubMembership{members: map[string][]string{
		"conv-1": {"bot-a", "bot-b", " bot-a ", ""},
	}}
	producer := newTestProducer(t, store, membership, nil)

	result, err := producer.FanOut(context.Background(), FanOutRequest{
		ConversationID: "conv-1",
		EventType:      EventTypeNewMessage,
		SourceEventID:  "msg-1",
		Payload:        map[string]any{"content": "hi", "sender_id": "usr-1"},
	})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if len(result.EventIDs) != 2 {
		t.Fatalf("expected one event per distinct bot, got %v", result.EventIDs)
	}
	for _, botID := range []string{"bot-a", "bot-b"} {
		event := store.event(result.EventIDs[botID])
		if event.BotID != botID || event.ConversationID != "conv-1" || event.SourceEventID != "msg-1" {
			t.Fatalf("unexpected event for %s: %+v", botID, event)
		}
		if event.Status != BotEventStatusPending || event.Attempts != 0 {
			t.Fatalf("expected new events to be pending/0, got %s/%d", event.Status, event.Attempts)
		}
		if event.Payload["content"] != "hi" {
			t.Fatalf("expected payload to be copied, got %v", event.Payload)
		}
	}
}

func TestEventProducer_FanOutIsIdempotentPerSourceEvent(t *testing.T) {
	store := newMemoryEventStore()
	membership := stubMembership{members: map[string][]string{"conv-1": {"bot-a"}}}
	producer := newTestProducer(t, store, membership, nil)
	req := FanOutRequest{ConversationID: "conv-1", EventType: EventTypeNewMessage, SourceEventID: "msg-1"}

	first, err := producer.FanOut(context.Background(), req)
	if err != nil {
		t.Fatalf("first fan out: %v", err)
	}
	second, err := producer.FanOut(context.Background(), req)
	if err != nil {
		t.Fatalf("second fan out: %v", err)
	}
	if first.EventIDs["bot-a"] != second.EventIDs["bot-a"] {
		t.Fatalf("expected the same event id, got %q and %q", first.EventIDs["bot-a"], second.EventIDs["bot-a"])
	}
	if len(store.events) != 1 {
		t.Fatalf("expected a single stored event, got %d", len(store.events))
	}
}

func TestEventProducer_GeneratesSourceEventID(t *testing.T) {
	store := newMemoryEventStore()
	membership := stubMembership{members: map[string][]string{"conv-1": {"bot-a"}}}
	producer := newTestProducer(t, store, membership, nil)

	result, err := producer.FanOut(context.Background(), FanOutRequest{ConversationID: "conv-1", EventType: EventTypeNewMessage})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if result.SourceEventID == "" {
		t.Fatalf("expected generated source event id")
	}
	if store.event(result.EventIDs["bot-a"]).SourceEventID != result.SourceEventID {
		t.Fatalf("expected stored event to carry the generated source id")
	}
}

func TestEventProducer_InsertFailureDoesNotBlockOtherBots(t *testing.T) {
	store := newMemoryEventStore()
	store.insertErrs["bot-b"] = errors.New("unique index corrupted")
	membership := stubMembership{members: map[string][]string{"conv-1": {"bot-a", "bot-b", "bot-c"}}}
	logger := newCaptureLogger()
	producer := newTestProducer(t, store, membership, logger)

	result, err := producer.FanOut(context.Background(), FanOutRequest{
		ConversationID: "conv-1",
		EventType:      EventTypeNewMessage,
		SourceEventID:  "msg-1",
	})
	if err == nil {
		t.Fatalf("expected joined insert error")
	}
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(result.EventIDs) != 2 || result.EventIDs["bot-a"] == "" || result.EventIDs["bot-c"] == "" {
		t.Fatalf("expected bot-a and bot-c events, got %v", result.EventIDs)
	}
	if len(result.Failures) != 1 || result.Failures[0].BotID != "bot-b" {
		t.Fatalf("expected bot-b failure, got %+v", result.Failures)
	}
	if !hasLog(logger.snapshot(), "error", "bot event insert failed", "") {
		t.Fatalf("expected insert failure log")
	}
}

func TestEventProducer_NotifyNeverFails(t *testing.T) {
	store := newMemoryEventStore()
	logger := newCaptureLogger()
	producer := newTestProducer(t, store, stubMembership{err: errors.New("membership offline")}, logger)

	result := producer.Notify(context.Background(), FanOutRequest{ConversationID: "conv-1", EventType: EventTypeNewMessage})
	if len(result.EventIDs) != 0 {
		t.Fatalf("expected no events, got %v", result.EventIDs)
	}
	if !hasLog(logger.snapshot(), "warn", "bot event fan-out incomplete", "") {
		t.Fatalf("expected fan-out warning log")
	}
}

func TestEventProducer_ValidatesRequest(t *testing.T) {
	producer := newTestProducer(t, newMemoryEventStore(), stubMembership{}, nil)
	if _, err := producer.FanOut(context.Background(), FanOutRequest{EventType: EventTypeNewMessage}); err == nil {
		t.Fatalf("expected conversation id required error")
	}
	if _, err := producer.FanOut(context.Background(), FanOutRequest{ConversationID: "conv-1"}); err == nil {
		t.Fatalf("expected event type required error")
	}
	if _, err := NewEventProducer(nil, stubMembership{}, nil, nil); err == nil {
		t.Fatalf("expected store required error")
	}
	if _, err := NewEventProducer(newMemoryEventStore(), nil, nil, nil); err == nil {
		t.Fatalf("expected membership required error")
	}
}

func TestEventProducer_NoBotMembersIsNotAnError(t *testing.T) {
	producer := newTestProducer(t, newMemoryEventStore(), stubMembership{}, nil)
	result, err := producer.FanOut(context.Background(), FanOutRequest{ConversationID: "conv-humans", EventType: EventTypeNewMessage})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if len(result.EventIDs) != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
