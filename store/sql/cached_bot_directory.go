package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-botrelay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const botTargetCacheKeyPrefix = "botrelay::bot_target::v1"

// CachedBotDirectory puts a TTL cache in front of a BotDirectory. Lookup
// errors are returned to the caller and never stored, so a deleted or
// disabled bot is observed once its cached target expires.
type CachedBotDirectory struct {
	base  core.BotDirectory
	cache repositorycache.CacheService
}

func NewCachedBotDirectory(base core.BotDirectory, cacheService repositorycache.CacheService) (*CachedBotDirectory, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base bot directory is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: bot directory cache service is required")
	}
	return &CachedBotDirectory{base: base, cache: cacheService}, nil
}

// BotTargetCacheKey returns botrelay::bot_target::v1::<bot_id> with the id
// URL-path escaped.
func BotTargetCacheKey(botID string) (string, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return "", fmt.Errorf("sqlstore: bot id is required")
	}
	return botTargetCacheKeyPrefix + "::" + url.PathEscape(botID), nil
}

func (d *CachedBotDirectory) Resolve(ctx context.Context, botID string) (core.BotTarget, error) {
	if d == nil || d.base == nil || d.cache == nil {
		return core.BotTarget{}, fmt.Errorf("sqlstore: cached bot directory is not configured")
	}
	cacheKey, err := BotTargetCacheKey(botID)
	if err != nil {
		return core.BotTarget{}, core.BotNotFound(botID, err)
	}
	return repositorycache.GetOrFetch(ctx, d.cache, cacheKey, func(ctx context.Context) (core.BotTarget, error) {
		return d.base.Resolve(ctx, strings.TrimSpace(botID))
	})
}

// Invalidate drops the cached target for botID.
func (d *CachedBotDirectory) Invalidate(ctx context.Context, botID string) error {
	if d == nil || d.cache == nil {
		return fmt.Errorf("sqlstore: cached bot directory is not configured")
	}
	cacheKey, err := BotTargetCacheKey(botID)
	if err != nil {
		return err
	}
	return d.cache.Delete(ctx, cacheKey)
}

// NewBotDirectoryCacheService builds the cache service backing CachedBotDirectory.
func NewBotDirectoryCacheService(cfg core.DirectoryConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if cfg.CacheTTL > 0 {
		config.TTL = cfg.CacheTTL
	}
	return repositorycache.NewCacheService(config)
}
