package command

import (
	"strings"

	"github.com/goliatone/go-botrelay/core"
)

const (
	TypeFanOut          = "botrelay.command.fanout"
	TypeRequeueBotEvent = "botrelay.command.bot_event.requeue"
	TypeRunDeliveryTick = "botrelay.command.delivery.tick"
)

type FanOutMessage struct {
	Request core.FanOutRequest
}

func (FanOutMessage) Type() string { return TypeFanOut }

func (m FanOutMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConversationID) == "" {
		return commandValidationError("conversation_id", "conversation id is required")
	}
	if strings.TrimSpace(m.Request.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	return nil
}

type RequeueBotEventMessage struct {
	BotEventID string
}

func (RequeueBotEventMessage) Type() string { return TypeRequeueBotEvent }

func (m RequeueBotEventMessage) Validate() error {
	if strings.TrimSpace(m.BotEventID) == "" {
		return commandValidationError("bot_event_id", "bot event id is required")
	}
	return nil
}

// RunDeliveryTickMessage triggers one delivery pass outside the runner schedule.
type RunDeliveryTickMessage struct{}

func (RunDeliveryTickMessage) Type() string { return TypeRunDeliveryTick }

func (RunDeliveryTickMessage) Validate() error { return nil }
