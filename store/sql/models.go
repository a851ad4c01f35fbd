package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type botEventRecord struct {
	bun.BaseModel `bun:"table:bot_events,alias:be"`

	ID             string         `bun:"id,pk"`
	BotID          string         `bun:"bot_id,notnull"`
	ConversationID string         `bun:"conversation_id,notnull"`
	SourceEventID  string         `bun:"source_event_id,notnull"`
	EventType      string         `bun:"event_type,notnull"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	Status         string         `bun:"status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	LastAttemptAt  *time.Time     `bun:"last_attempt_at,nullzero"`
	DeliveredAt    *time.Time     `bun:"delivered_at,nullzero"`
	NextEligibleAt *time.Time     `bun:"next_eligible_at,nullzero"`
	ErrorMessage   *string        `bun:"error_message"`
	LastStatusCode *int           `bun:"last_status_code"`
	ClaimID        *string        `bun:"claim_id"`
	ClaimedUntil   *time.Time     `bun:"claimed_until,nullzero"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type botRecord struct {
	bun.BaseModel `bun:"table:bots,alias:b"`

	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name,notnull"`
	WebhookURL    string    `bun:"webhook_url,notnull"`
	WebhookSecret string    `bun:"webhook_secret,notnull"`
	APIKeyHash    string    `bun:"api_key_hash,notnull"`
	Status        string    `bun:"status,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type conversationMemberRecord struct {
	bun.BaseModel `bun:"table:conversation_members,alias:cm"`

	ConversationID string    `bun:"conversation_id,pk"`
	MemberID       string    `bun:"member_id,pk"`
	MemberKind     string    `bun:"member_kind,notnull"`
	JoinedAt       time.Time `bun:"joined_at,nullzero,notnull,default:current_timestamp"`
}
