package command

import (
	"github.com/goliatone/go-botrelay/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[FanOutMessage]          = (*FanOutCommand)(nil)
	_ gocmd.Commander[RequeueBotEventMessage] = (*RequeueBotEventCommand)(nil)
	_ gocmd.Commander[RunDeliveryTickMessage] = (*RunDeliveryTickCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
	_ DeliveryService = (*core.Service)(nil)
)
