package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	MemberKindUser = "user"
	MemberKindBot  = "bot"
)

// MembershipStore answers which bots belong to a conversation.
type MembershipStore struct {
	db *bun.DB
}

func NewMembershipStore(db *bun.DB) (*MembershipStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MembershipStore{db: db}, nil
}

func (s *MembershipStore) BotMembers(ctx context.Context, conversationID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: membership store is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("sqlstore: conversation id is required")
	}
	var botIDs []string
	err := s.db.NewSelect().
		Model((*conversationMemberRecord)(nil)).
		Column("member_id").
		Where("?TableAlias.conversation_id = ?", conversationID).
		Where("?TableAlias.member_kind = ?", MemberKindBot).
		OrderExpr("?TableAlias.joined_at ASC").
		Scan(ctx, &botIDs)
	if err != nil {
		return nil, err
	}
	return botIDs, nil
}

// AddMember is an idempotent join used by seeding and tests.
func (s *MembershipStore) AddMember(ctx context.Context, conversationID, memberID, kind string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: membership store is not configured")
	}
	kind = strings.TrimSpace(kind)
	if kind != MemberKindUser && kind != MemberKindBot {
		return fmt.Errorf("sqlstore: invalid member kind %q", kind)
	}
	record := &conversationMemberRecord{
		ConversationID: strings.TrimSpace(conversationID),
		MemberID:       strings.TrimSpace(memberID),
		MemberKind:     kind,
		JoinedAt:       time.Now().UTC(),
	}
	if record.ConversationID == "" || record.MemberID == "" {
		return fmt.Errorf("sqlstore: conversation id and member id are required")
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (conversation_id, member_id) DO NOTHING").
		Exec(ctx)
	return err
}
