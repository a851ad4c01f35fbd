package query

import (
	"github.com/goliatone/go-botrelay/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetBotEventMessage, core.BotEvent]     = (*GetBotEventQuery)(nil)
	_ gocmd.Querier[ListBotEventsMessage, []core.BotEvent] = (*ListBotEventsQuery)(nil)

	_ BotEventReader = (*core.Service)(nil)
)
