package query

import (
	"strings"

	"github.com/goliatone/go-botrelay/core"
)

const (
	TypeGetBotEvent   = "botrelay.query.bot_event.get"
	TypeListBotEvents = "botrelay.query.bot_event.list"

	maxListLimit = 500
)

type GetBotEventMessage struct {
	BotEventID string
}

func (GetBotEventMessage) Type() string { return TypeGetBotEvent }

func (m GetBotEventMessage) Validate() error {
	if strings.TrimSpace(m.BotEventID) == "" {
		return queryValidationError("bot_event_id", "bot event id is required")
	}
	return nil
}

type ListBotEventsMessage struct {
	Filter core.BotEventFilter
}

func (ListBotEventsMessage) Type() string { return TypeListBotEvents }

func (m ListBotEventsMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > maxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	if m.Filter.Status != "" {
		if _, err := core.ParseBotEventStatus(string(m.Filter.Status)); err != nil {
			return queryWrapValidation(err, "query: invalid status filter")
		}
	}
	return nil
}
