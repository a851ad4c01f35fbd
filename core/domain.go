package core

import (
	"fmt"
	"strings"
	"time"
)

type BotEventStatus string

const (
	BotEventStatusPending   BotEventStatus = "pending"
	BotEventStatusDelivered BotEventStatus = "delivered"
	BotEventStatusFailed    BotEventStatus = "failed"
)

func (s BotEventStatus) Terminal() bool {
	return s == BotEventStatusDelivered || s == BotEventStatusFailed
}

func ParseBotEventStatus(raw string) (BotEventStatus, error) {
	switch status := BotEventStatus(strings.TrimSpace(strings.ToLower(raw))); status {
	case BotEventStatusPending, BotEventStatusDelivered, BotEventStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("core: invalid bot event status %q", raw)
	}
}

const (
	EventTypeNewMessage = "new_message"
)

// BotEvent is one unit of delivery work addressed to a single bot.
type BotEvent struct {
	ID             string
	BotID          string
	ConversationID string
	SourceEventID  string
	EventType      string
	Payload        map[string]any
	Status         BotEventStatus
	Attempts       int
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	DeliveredAt    *time.Time
	NextEligibleAt *time.Time
	ErrorMessage   *string
	LastStatusCode *int
	ClaimID        string
	ClaimedUntil   *time.Time
	UpdatedAt      time.Time
}

func (e BotEvent) Terminal() bool {
	return e.Status.Terminal()
}

type NewBotEvent struct {
	BotID          string
	ConversationID string
	SourceEventID  string
	EventType      string
	Payload        map[string]any
	CreatedAt      time.Time
}

func (e NewBotEvent) Validate() error {
	if strings.TrimSpace(e.BotID) == "" {
		return fmt.Errorf("core: bot id is required")
	}
	if strings.TrimSpace(e.ConversationID) == "" {
		return fmt.Errorf("core: conversation id is required")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

type ClaimRequest struct {
	Limit       int
	MaxAttempts int
	Lease       time.Duration
	Now         time.Time
}

type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeRetry     OutcomeKind = "retry"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the state transition the worker writes back for a claimed event.
// Attempts is the absolute attempt count after the transition.
type Outcome struct {
	Kind           OutcomeKind
	Attempts       int
	AttemptedAt    time.Time
	NextEligibleAt *time.Time
	ErrorMessage   string
	StatusCode     int
}

func (o Outcome) Status() BotEventStatus {
	switch o.Kind {
	case OutcomeDelivered:
		return BotEventStatusDelivered
	case OutcomeFailed:
		return BotEventStatusFailed
	default:
		return BotEventStatusPending
	}
}

func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeDelivered:
		if o.Attempts < 1 {
			return fmt.Errorf("core: delivered outcome requires attempts >= 1")
		}
	case OutcomeRetry, OutcomeFailed:
		if strings.TrimSpace(o.ErrorMessage) == "" {
			return fmt.Errorf("core: %s outcome requires an error message", o.Kind)
		}
	default:
		return fmt.Errorf("core: invalid outcome kind %q", o.Kind)
	}
	if o.Attempts < 0 {
		return fmt.Errorf("core: outcome attempts must be non-negative")
	}
	if o.AttemptedAt.IsZero() {
		return fmt.Errorf("core: outcome attempted_at is required")
	}
	return nil
}

type BotEventFilter struct {
	BotID          string
	ConversationID string
	Status         BotEventStatus
	// Since keeps only events created strictly after it.
	Since  *time.Time
	Limit  int
	Offset int
}

type BotStatus string

const (
	BotStatusActive   BotStatus = "active"
	BotStatusDisabled BotStatus = "disabled"
)

type Bot struct {
	ID            string
	Name          string
	WebhookURL    string
	WebhookSecret string
	Status        BotStatus
}

// BotTarget is the delivery endpoint resolved for a bot.
type BotTarget struct {
	BotID         string
	WebhookURL    string
	WebhookSecret string
}

type FanOutRequest struct {
	ConversationID string
	EventType      string
	SourceEventID  string
	Payload        map[string]any
}

func (r FanOutRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return fmt.Errorf("core: conversation id is required")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

type FanOutFailure struct {
	BotID string
	Err   error
}

type FanOutResult struct {
	ConversationID string
	SourceEventID  string
	EventIDs       map[string]string
	Failures       []FanOutFailure
}

type TickStats struct {
	Claimed     int
	Delivered   int
	Retried     int
	Failed      int
	Deferred    int
	Released    int
	WriteErrors int
}

func (s TickStats) Add(other TickStats) TickStats {
	s.Claimed += other.Claimed
	s.Delivered += other.Delivered
	s.Retried += other.Retried
	s.Failed += other.Failed
	s.Deferred += other.Deferred
	s.Released += other.Released
	s.WriteErrors += other.WriteErrors
	return s
}

type WebhookDelivery struct {
	Event   BotEvent
	Target  BotTarget
	Attempt int
	Timeout time.Duration
}

type WebhookResult struct {
	StatusCode int
	Duration   time.Duration
}
