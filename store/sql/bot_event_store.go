package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-botrelay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const botEventColumns = `
	id,
	bot_id,
	conversation_id,
	source_event_id,
	event_type,
	payload,
	status,
	attempts,
	last_attempt_at,
	delivered_at,
	next_eligible_at,
	error_message,
	last_status_code,
	claim_id,
	claimed_until,
	created_at,
	updated_at`

type BotEventStore struct {
	db   *bun.DB
	repo repository.Repository[*botEventRecord]
	now  func() time.Time
}

func NewBotEventStore(db *bun.DB) (*BotEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*botEventRecord](db, botEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid bot event repository wiring: %w", err)
		}
	}
	return &BotEventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Insert creates a pending event. A repeated (source_event_id, bot_id) pair
// returns the id of the row that already exists.
func (s *BotEventStore) Insert(ctx context.Context, event core.NewBotEvent) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: bot event store is not configured")
	}
	if err := event.Validate(); err != nil {
		return "", err
	}

	now := s.now()
	createdAt := event.CreatedAt.UTC()
	if event.CreatedAt.IsZero() {
		createdAt = now
	}
	sourceEventID := strings.TrimSpace(event.SourceEventID)
	if sourceEventID == "" {
		sourceEventID = uuid.NewString()
	}
	record := &botEventRecord{
		ID:             uuid.NewString(),
		BotID:          strings.TrimSpace(event.BotID),
		ConversationID: strings.TrimSpace(event.ConversationID),
		SourceEventID:  sourceEventID,
		EventType:      strings.TrimSpace(event.EventType),
		Payload:        copyPayload(event.Payload),
		Status:         string(core.BotEventStatusPending),
		Attempts:       0,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing := &botEventRecord{}
			getErr := s.db.NewSelect().
				Model(existing).
				Column("id").
				Where("?TableAlias.source_event_id = ?", record.SourceEventID).
				Where("?TableAlias.bot_id = ?", record.BotID).
				Limit(1).
				Scan(ctx)
			if getErr != nil {
				return "", core.WrapStorage("insert", getErr)
			}
			return existing.ID, nil
		}
		return "", core.WrapStorage("insert", err)
	}
	return record.ID, nil
}

// ClaimDue marks up to req.Limit due pending events with a fresh claim id and
// lease in a single statement, so two concurrent callers never share an event.
func (s *BotEventStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.BotEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: bot event store is not configured")
	}
	if req.Limit <= 0 {
		req.Limit = 1
	}
	if req.MaxAttempts <= 0 {
		return nil, fmt.Errorf("sqlstore: max attempts must be positive")
	}
	if req.Lease <= 0 {
		return nil, fmt.Errorf("sqlstore: claim lease must be positive")
	}
	now := req.Now.UTC()
	if req.Now.IsZero() {
		now = s.now()
	}
	claimID := uuid.NewString()
	claimedUntil := now.Add(req.Lease)

	var records []botEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimable AS (
	SELECT id
	FROM bot_events
	WHERE status = ?
	  AND attempts < ?
	  AND (next_eligible_at IS NULL OR next_eligible_at <= ?)
	  AND (claimed_until IS NULL OR claimed_until <= ?)
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
UPDATE bot_events
SET claim_id = ?, claimed_until = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimable)
  AND status = ?
  AND (claimed_until IS NULL OR claimed_until <= ?)
RETURNING` + botEventColumns + "\n"
		return tx.NewRaw(
			query,
			string(core.BotEventStatusPending),
			req.MaxAttempts,
			now,
			now,
			req.Limit,
			claimID,
			claimedUntil,
			now,
			string(core.BotEventStatusPending),
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, core.WrapStorage("claim_due", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	events := make([]core.BotEvent, 0, len(records))
	for i := range records {
		events = append(events, records[i].toDomain())
	}
	return events, nil
}

// RecordOutcome applies a worker outcome to a claimed event. The write only
// lands while the event is still pending under the same claim, so replays and
// writes from a worker whose lease expired are no-ops.
func (s *BotEventStore) RecordOutcome(ctx context.Context, id string, claimID string, outcome core.Outcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bot event store is not configured")
	}
	id = strings.TrimSpace(id)
	claimID = strings.TrimSpace(claimID)
	if id == "" {
		return fmt.Errorf("sqlstore: bot event id is required")
	}
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	attemptedAt := outcome.AttemptedAt.UTC()
	query := s.db.NewUpdate().
		Model((*botEventRecord)(nil)).
		Set("status = ?", string(outcome.Status())).
		Set("last_attempt_at = CASE WHEN ? > attempts THEN ? ELSE last_attempt_at END", outcome.Attempts, attemptedAt).
		Set("attempts = ?", outcome.Attempts).
		Set("claim_id = NULL").
		Set("claimed_until = NULL").
		Set("updated_at = ?", s.now())

	switch outcome.Kind {
	case core.OutcomeDelivered:
		query = query.
			Set("delivered_at = ?", attemptedAt).
			Set("next_eligible_at = NULL")
	default:
		query = query.
			Set("error_message = ?", strings.TrimSpace(outcome.ErrorMessage)).
			Set("next_eligible_at = ?", utcPointer(outcome.NextEligibleAt))
	}
	if outcome.StatusCode > 0 {
		query = query.Set("last_status_code = ?", outcome.StatusCode)
	}

	_, err := query.
		Where("id = ?", id).
		Where("status = ?", string(core.BotEventStatusPending)).
		Where("claim_id = ?", claimID).
		Exec(ctx)
	if err != nil {
		return core.WrapStorage("record_outcome", err)
	}
	return nil
}

func (s *BotEventStore) ReleaseClaim(ctx context.Context, id string, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bot event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: bot event id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*botEventRecord)(nil)).
		Set("claim_id = NULL").
		Set("claimed_until = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("status = ?", string(core.BotEventStatusPending)).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	if err != nil {
		return core.WrapStorage("release_claim", err)
	}
	return nil
}

func (s *BotEventStore) Get(ctx context.Context, id string) (core.BotEvent, error) {
	if s == nil || s.db == nil {
		return core.BotEvent{}, fmt.Errorf("sqlstore: bot event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BotEvent{}, fmt.Errorf("sqlstore: bot event id is required")
	}
	record := &botEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.BotEvent{}, core.BotEventNotFound(id)
		}
		return core.BotEvent{}, core.WrapStorage("get", err)
	}
	return record.toDomain(), nil
}

func (s *BotEventStore) List(ctx context.Context, filter core.BotEventFilter) ([]core.BotEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: bot event store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
		repository.SelectPaginate(limit, offset),
	}
	if botID := strings.TrimSpace(filter.BotID); botID != "" {
		selectors = append(selectors, repository.SelectBy("bot_id", "=", botID))
	}
	if conversationID := strings.TrimSpace(filter.ConversationID); conversationID != "" {
		selectors = append(selectors, repository.SelectBy("conversation_id", "=", conversationID))
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if filter.Since != nil && !filter.Since.IsZero() {
		since := filter.Since.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.created_at > ?", since)
		}))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, core.WrapStorage("list", err)
	}
	events := make([]core.BotEvent, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		events = append(events, record.toDomain())
	}
	return events, nil
}

// Requeue moves a failed event back to pending with a fresh attempt budget.
func (s *BotEventStore) Requeue(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bot event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: bot event id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*botEventRecord)(nil)).
		Set("status = ?", string(core.BotEventStatusPending)).
		Set("attempts = 0").
		Set("error_message = NULL").
		Set("next_eligible_at = NULL").
		Set("claim_id = NULL").
		Set("claimed_until = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("status = ?", string(core.BotEventStatusFailed)).
		Exec(ctx)
	if err != nil {
		return core.WrapStorage("requeue", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %q is %s", core.ErrNotRequeueable, current.ID, current.Status)
}

func (r *botEventRecord) toDomain() core.BotEvent {
	event := core.BotEvent{
		ID:             r.ID,
		BotID:          r.BotID,
		ConversationID: r.ConversationID,
		SourceEventID:  r.SourceEventID,
		EventType:      r.EventType,
		Payload:        copyPayload(r.Payload),
		Status:         core.BotEventStatus(r.Status),
		Attempts:       r.Attempts,
		CreatedAt:      r.CreatedAt.UTC(),
		LastAttemptAt:  utcPointer(r.LastAttemptAt),
		DeliveredAt:    utcPointer(r.DeliveredAt),
		NextEligibleAt: utcPointer(r.NextEligibleAt),
		ClaimedUntil:   utcPointer(r.ClaimedUntil),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.ErrorMessage != nil {
		message := *r.ErrorMessage
		event.ErrorMessage = &message
	}
	if r.LastStatusCode != nil {
		code := *r.LastStatusCode
		event.LastStatusCode = &code
	}
	if r.ClaimID != nil {
		event.ClaimID = *r.ClaimID
	}
	return event
}

func copyPayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
