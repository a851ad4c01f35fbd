package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botrelay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BotDirectoryStore reads bot registrations owned by the bot registration
// flow. It never writes outside of RegisterBot, which exists for seeding.
type BotDirectoryStore struct {
	db     *bun.DB
	repo   repository.Repository[*botRecord]
	cipher SecretCipher
}

// SecretCipher seals webhook secrets at rest. Open must return values that
// were never sealed unchanged.
type SecretCipher interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, stored string) (string, error)
}

type BotDirectoryOption func(*BotDirectoryStore)

func WithSecretCipher(cipher SecretCipher) BotDirectoryOption {
	return func(s *BotDirectoryStore) {
		s.cipher = cipher
	}
}

type RegisterBotInput struct {
	ID            string
	Name          string
	WebhookURL    string
	WebhookSecret string
	APIKey        string
	Status        core.BotStatus
}

func NewBotDirectoryStore(db *bun.DB, opts ...BotDirectoryOption) (*BotDirectoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*botRecord](db, botHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid bot repository wiring: %w", err)
		}
	}
	store := &BotDirectoryStore{db: db, repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *BotDirectoryStore) Resolve(ctx context.Context, botID string) (core.BotTarget, error) {
	bot, err := s.getBot(ctx, botID)
	if err != nil {
		return core.BotTarget{}, err
	}
	if bot.Status != core.BotStatusActive {
		return core.BotTarget{}, core.BotDisabled(bot.ID)
	}
	if strings.TrimSpace(bot.WebhookURL) == "" {
		return core.BotTarget{}, core.BotNotFound(bot.ID, fmt.Errorf("webhook url is not configured"))
	}
	return core.BotTarget{
		BotID:         bot.ID,
		WebhookURL:    bot.WebhookURL,
		WebhookSecret: bot.WebhookSecret,
	}, nil
}

// AuthenticateAPIKey returns the active bot whose key hash matches apiKey.
func (s *BotDirectoryStore) AuthenticateAPIKey(ctx context.Context, apiKey string) (core.Bot, error) {
	if s == nil || s.repo == nil {
		return core.Bot{}, fmt.Errorf("sqlstore: bot directory store is not configured")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return core.Bot{}, core.ErrInvalidAPIKey
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("api_key_hash", "=", HashAPIKey(apiKey)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Bot{}, core.WrapStorage("authenticate_api_key", err)
	}
	if len(records) == 0 || records[0] == nil {
		return core.Bot{}, core.ErrInvalidAPIKey
	}
	bot, err := s.toDomain(ctx, records[0])
	if err != nil {
		return core.Bot{}, err
	}
	if bot.Status != core.BotStatusActive {
		return core.Bot{}, core.BotDisabled(bot.ID)
	}
	return bot, nil
}

func (s *BotDirectoryStore) RegisterBot(ctx context.Context, in RegisterBotInput) (core.Bot, error) {
	if s == nil || s.db == nil {
		return core.Bot{}, fmt.Errorf("sqlstore: bot directory store is not configured")
	}
	if strings.TrimSpace(in.Name) == "" {
		return core.Bot{}, fmt.Errorf("sqlstore: bot name is required")
	}
	if strings.TrimSpace(in.WebhookURL) == "" {
		return core.Bot{}, fmt.Errorf("sqlstore: bot webhook url is required")
	}
	status := in.Status
	if status == "" {
		status = core.BotStatusActive
	}
	now := time.Now().UTC()
	record := &botRecord{
		ID:         strings.TrimSpace(in.ID),
		Name:       strings.TrimSpace(in.Name),
		WebhookURL: strings.TrimSpace(in.WebhookURL),
		Status:     string(status),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := s.sealSecret(ctx, record, in.WebhookSecret); err != nil {
		return core.Bot{}, err
	}
	if key := strings.TrimSpace(in.APIKey); key != "" {
		record.APIKeyHash = HashAPIKey(key)
	} else {
		record.APIKeyHash = HashAPIKey(uuid.NewString())
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Bot{}, core.WrapStorage("register_bot", err)
	}
	return withSecret(record.toDomain(), in.WebhookSecret), nil
}

// EnsureBot registers the bot or updates it in place when the id exists.
func (s *BotDirectoryStore) EnsureBot(ctx context.Context, in RegisterBotInput) (core.Bot, error) {
	if s == nil || s.db == nil {
		return core.Bot{}, fmt.Errorf("sqlstore: bot directory store is not configured")
	}
	if strings.TrimSpace(in.ID) == "" {
		return core.Bot{}, fmt.Errorf("sqlstore: bot id is required")
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.WebhookURL) == "" {
		return core.Bot{}, fmt.Errorf("sqlstore: bot name and webhook url are required")
	}
	status := in.Status
	if status == "" {
		status = core.BotStatusActive
	}
	now := time.Now().UTC()
	record := &botRecord{
		ID:         strings.TrimSpace(in.ID),
		Name:       strings.TrimSpace(in.Name),
		WebhookURL: strings.TrimSpace(in.WebhookURL),
		Status:     string(status),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	key := strings.TrimSpace(in.APIKey)
	if key != "" {
		record.APIKeyHash = HashAPIKey(key)
	} else {
		// Unguessable placeholder for new bots; existing rows keep their key.
		record.APIKeyHash = HashAPIKey(uuid.NewString())
	}
	if err := s.sealSecret(ctx, record, in.WebhookSecret); err != nil {
		return core.Bot{}, err
	}
	query := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("webhook_url = EXCLUDED.webhook_url").
		Set("webhook_secret = EXCLUDED.webhook_secret").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at")
	if key != "" {
		query = query.Set("api_key_hash = EXCLUDED.api_key_hash")
	}
	_, err := query.Exec(ctx)
	if err != nil {
		return core.Bot{}, core.WrapStorage("ensure_bot", err)
	}
	return withSecret(record.toDomain(), in.WebhookSecret), nil
}

// SetStatus toggles a bot between active and disabled.
func (s *BotDirectoryStore) SetStatus(ctx context.Context, botID string, status core.BotStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bot directory store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*botRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(botID)).
		Exec(ctx)
	if err != nil {
		return core.WrapStorage("set_bot_status", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.BotNotFound(botID, nil)
	}
	return nil
}

func (s *BotDirectoryStore) getBot(ctx context.Context, botID string) (core.Bot, error) {
	if s == nil || s.db == nil {
		return core.Bot{}, fmt.Errorf("sqlstore: bot directory store is not configured")
	}
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return core.Bot{}, core.BotNotFound(botID, fmt.Errorf("bot id is empty"))
	}
	record := &botRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", botID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Bot{}, core.BotNotFound(botID, nil)
		}
		return core.Bot{}, core.WrapStorage("resolve_bot", err)
	}
	return s.toDomain(ctx, record)
}

func (s *BotDirectoryStore) sealSecret(ctx context.Context, record *botRecord, secret string) error {
	if s.cipher == nil {
		record.WebhookSecret = secret
		return nil
	}
	sealed, err := s.cipher.Seal(ctx, secret)
	if err != nil {
		return fmt.Errorf("sqlstore: seal webhook secret for bot %q: %w", record.ID, err)
	}
	record.WebhookSecret = sealed
	return nil
}

func (s *BotDirectoryStore) toDomain(ctx context.Context, record *botRecord) (core.Bot, error) {
	bot := record.toDomain()
	if s.cipher == nil || bot.WebhookSecret == "" {
		return bot, nil
	}
	secret, err := s.cipher.Open(ctx, bot.WebhookSecret)
	if err != nil {
		return core.Bot{}, fmt.Errorf("sqlstore: open webhook secret for bot %q: %w", bot.ID, err)
	}
	return withSecret(bot, secret), nil
}

func withSecret(bot core.Bot, secret string) core.Bot {
	bot.WebhookSecret = secret
	return bot
}

// HashAPIKey is the at-rest form of a bot API key.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(apiKey)))
	return hex.EncodeToString(sum[:])
}

func (r *botRecord) toDomain() core.Bot {
	return core.Bot{
		ID:            r.ID,
		Name:          r.Name,
		WebhookURL:    r.WebhookURL,
		WebhookSecret: r.WebhookSecret,
		Status:        core.BotStatus(r.Status),
	}
}
