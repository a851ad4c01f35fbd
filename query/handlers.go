package query

import (
	"context"

	"github.com/goliatone/go-botrelay/core"
)

type BotEventReader interface {
	GetBotEvent(ctx context.Context, id string) (core.BotEvent, error)
	ListBotEvents(ctx context.Context, filter core.BotEventFilter) ([]core.BotEvent, error)
}

type GetBotEventQuery struct {
	reader BotEventReader
}

func NewGetBotEventQuery(reader BotEventReader) *GetBotEventQuery {
	return &GetBotEventQuery{reader: reader}
}

func (q *GetBotEventQuery) Query(ctx context.Context, msg GetBotEventMessage) (core.BotEvent, error) {
	if q == nil || q.reader == nil {
		return core.BotEvent{}, queryDependencyError("query: bot event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.BotEvent{}, err
	}
	return q.reader.GetBotEvent(ctx, msg.BotEventID)
}

type ListBotEventsQuery struct {
	reader BotEventReader
}

func NewListBotEventsQuery(reader BotEventReader) *ListBotEventsQuery {
	return &ListBotEventsQuery{reader: reader}
}

func (q *ListBotEventsQuery) Query(ctx context.Context, msg ListBotEventsMessage) ([]core.BotEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: bot event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListBotEvents(ctx, msg.Filter)
}
