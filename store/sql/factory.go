package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-botrelay/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	botEventStore   *BotEventStore
	directoryStore  *BotDirectoryStore
	membershipStore *MembershipStore

	secretCipher SecretCipher
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.botEventStore != nil && f.directoryStore != nil && f.membershipStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) BotEventStore() *BotEventStore {
	if f == nil {
		return nil
	}
	return f.botEventStore
}

func (f *RepositoryFactory) BotDirectoryStore() *BotDirectoryStore {
	if f == nil {
		return nil
	}
	return f.directoryStore
}

func (f *RepositoryFactory) MembershipStore() *MembershipStore {
	if f == nil {
		return nil
	}
	return f.membershipStore
}

// WithSecretCipher seals webhook secrets written through the directory
// store. Call it before BuildStores or on an already built factory.
func (f *RepositoryFactory) WithSecretCipher(cipher SecretCipher) *RepositoryFactory {
	if f == nil {
		return nil
	}
	f.secretCipher = cipher
	if f.directoryStore != nil {
		f.directoryStore.cipher = cipher
	}
	return f
}

// CachedBotDirectory wraps the SQL directory with a TTL cache sized by cfg.
func (f *RepositoryFactory) CachedBotDirectory(cfg core.DirectoryConfig) (*CachedBotDirectory, error) {
	if f == nil || f.directoryStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is not built")
	}
	cacheService, err := NewBotDirectoryCacheService(cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: bot directory cache: %w", err)
	}
	return NewCachedBotDirectory(f.directoryStore, cacheService)
}

func (f *RepositoryFactory) initStores() error {
	botEventStore, err := NewBotEventStore(f.db)
	if err != nil {
		return err
	}
	f.botEventStore = botEventStore

	directoryStore, err := NewBotDirectoryStore(f.db, WithSecretCipher(f.secretCipher))
	if err != nil {
		return err
	}
	f.directoryStore = directoryStore

	membershipStore, err := NewMembershipStore(f.db)
	if err != nil {
		return err
	}
	f.membershipStore = membershipStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
