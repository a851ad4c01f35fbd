package sqlstore

import "github.com/goliatone/go-botrelay/core"

var (
	_ core.BotEventStore      = (*BotEventStore)(nil)
	_ core.BotEventReader     = (*BotEventStore)(nil)
	_ core.BotEventRequeuer   = (*BotEventStore)(nil)
	_ core.BotDirectory       = (*BotDirectoryStore)(nil)
	_ core.BotAuthenticator   = (*BotDirectoryStore)(nil)
	_ core.BotDirectory       = (*CachedBotDirectory)(nil)
	_ core.MembershipResolver = (*MembershipStore)(nil)
)
