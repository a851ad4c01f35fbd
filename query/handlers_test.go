package query

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-botrelay/core"
)

type stubBotEventReader struct {
	getFn  func(context.Context, string) (core.BotEvent, error)
	listFn func(context.Context, core.BotEventFilter) ([]core.BotEvent, error)
}

func (s stubBotEventReader) GetBotEvent(ctx context.Context, id string) (core.BotEvent, error) {
	if s.getFn == nil {
		return core.BotEvent{}, nil
	}
	return s.getFn(ctx, id)
}

func (s stubBotEventReader) ListBotEvents(ctx context.Context, filter core.BotEventFilter) ([]core.BotEvent, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func TestGetBotEventQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubBotEventReader{
		getFn: func(_ context.Context, id string) (core.BotEvent, error) {
			called = true
			if id != "evt-1" {
				t.Fatalf("unexpected id %q", id)
			}
			return core.BotEvent{ID: id, Status: core.BotEventStatusDelivered, Attempts: 1}, nil
		},
	}
	event, err := NewGetBotEventQuery(reader).Query(context.Background(), GetBotEventMessage{BotEventID: "evt-1"})
	if err != nil {
		t.Fatalf("query bot event: %v", err)
	}
	if !called {
		t.Fatalf("expected reader invocation")
	}
	if event.Status != core.BotEventStatusDelivered || event.Attempts != 1 {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestGetBotEventQuery_PropagatesNotFound(t *testing.T) {
	reader := stubBotEventReader{
		getFn: func(_ context.Context, id string) (core.BotEvent, error) {
			return core.BotEvent{}, core.BotEventNotFound(id)
		},
	}
	_, err := NewGetBotEventQuery(reader).Query(context.Background(), GetBotEventMessage{BotEventID: "evt-404"})
	if !errors.Is(err, core.ErrBotEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListBotEventsQuery_QueryDelegates(t *testing.T) {
	reader := stubBotEventReader{
		listFn: func(_ context.Context, filter core.BotEventFilter) ([]core.BotEvent, error) {
			if filter.BotID != "bot-1" || filter.Status != core.BotEventStatusFailed || filter.Limit != 20 {
				t.Fatalf("unexpected filter %#v", filter)
			}
			return []core.BotEvent{{ID: "evt-1"}, {ID: "evt-2"}}, nil
		},
	}
	events, err := NewListBotEventsQuery(reader).Query(context.Background(), ListBotEventsMessage{Filter: core.BotEventFilter{
		BotID:  "bot-1",
		Status: core.BotEventStatusFailed,
		Limit:  20,
	}})
	if err != nil {
		t.Fatalf("list bot events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestListBotEventsMessage_Validate(t *testing.T) {
	cases := []struct {
		name    string
		filter  core.BotEventFilter
		wantErr bool
	}{
		{name: "empty", filter: core.BotEventFilter{}},
		{name: "status", filter: core.BotEventFilter{Status: "pending"}},
		{name: "bad status", filter: core.BotEventFilter{Status: "queued"}, wantErr: true},
		{name: "negative limit", filter: core.BotEventFilter{Limit: -1}, wantErr: true},
		{name: "huge limit", filter: core.BotEventFilter{Limit: 10_000}, wantErr: true},
		{name: "negative offset", filter: core.BotEventFilter{Offset: -1}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := (ListBotEventsMessage{Filter: tc.filter}).Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestQueries_NilReaderReturnsDependencyError(t *testing.T) {
	if _, err := NewGetBotEventQuery(nil).Query(context.Background(), GetBotEventMessage{BotEventID: "evt-1"}); err == nil {
		t.Fatalf("expected get dependency error")
	}
	if _, err := NewListBotEventsQuery(nil).Query(context.Background(), ListBotEventsMessage{}); err == nil {
		t.Fatalf("expected list dependency error")
	}
}
