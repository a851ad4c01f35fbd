package httpapi

import (
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-botrelay/core"
)

type triggerRequest struct {
	EventType     string         `json:"event_type"`
	SourceEventID string         `json:"source_event_id"`
	Payload       map[string]any `json:"payload"`
}

type fanOutFailure struct {
	BotID string `json:"bot_id"`
	Error string `json:"error"`
}

type fanOutResponse struct {
	ConversationID string            `json:"conversation_id"`
	SourceEventID  string            `json:"source_event_id"`
	EventIDs       map[string]string `json:"event_ids"`
	Failures       []fanOutFailure   `json:"failures,omitempty"`
}

func newFanOutResponse(result core.FanOutResult) fanOutResponse {
	out := fanOutResponse{
		ConversationID: result.ConversationID,
		SourceEventID:  result.SourceEventID,
		EventIDs:       result.EventIDs,
	}
	if out.EventIDs == nil {
		out.EventIDs = map[string]string{}
	}
	for _, failure := range result.Failures {
		msg := ""
		if failure.Err != nil {
			msg = failure.Err.Error()
		}
		out.Failures = append(out.Failures, fanOutFailure{BotID: failure.BotID, Error: msg})
	}
	return out
}

type botEventResponse struct {
	ID             string         `json:"id"`
	BotID          string         `json:"bot_id"`
	ConversationID string         `json:"conversation_id"`
	SourceEventID  string         `json:"source_event_id,omitempty"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	NextEligibleAt *time.Time     `json:"next_eligible_at,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	LastStatusCode *int           `json:"last_status_code,omitempty"`
}

func newBotEventResponse(event core.BotEvent) botEventResponse {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return botEventResponse{
		ID:             event.ID,
		BotID:          event.BotID,
		ConversationID: event.ConversationID,
		SourceEventID:  event.SourceEventID,
		EventType:      event.EventType,
		Payload:        payload,
		Status:         string(event.Status),
		Attempts:       event.Attempts,
		CreatedAt:      event.CreatedAt,
		LastAttemptAt:  event.LastAttemptAt,
		DeliveredAt:    event.DeliveredAt,
		NextEligibleAt: event.NextEligibleAt,
		ErrorMessage:   event.ErrorMessage,
		LastStatusCode: event.LastStatusCode,
	}
}

func newBotEventList(events []core.BotEvent) []botEventResponse {
	out := make([]botEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, newBotEventResponse(event))
	}
	return out
}

type botIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type botFeedResponse struct {
	Bot    botIdentity        `json:"bot"`
	Events []botEventResponse `json:"events"`
}

type tickResponse struct {
	Claimed     int `json:"claimed"`
	Delivered   int `json:"delivered"`
	Retried     int `json:"retried"`
	Failed      int `json:"failed"`
	Deferred    int `json:"deferred"`
	Released    int `json:"released"`
	WriteErrors int `json:"write_errors"`
}

func newTickResponse(stats core.TickStats) tickResponse {
	return tickResponse(stats)
}

type errorBody struct {
	Code     int    `json:"code"`
	TextCode string `json:"text_code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func newErrorResponse(mapped *goerrors.Error) errorResponse {
	return errorResponse{Error: errorBody{
		Code:     mapped.Code,
		TextCode: mapped.TextCode,
		Category: fmt.Sprint(mapped.Category),
		Message:  mapped.Message,
	}}
}
