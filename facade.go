package botrelay

import (
	"fmt"

	botcommand "github.com/goliatone/go-botrelay/command"
	botquery "github.com/goliatone/go-botrelay/query"
)

type CommandQueryService interface {
	botcommand.MutatingService
	botquery.BotEventReader
}

type Commands struct {
	FanOut          *botcommand.FanOutCommand
	RequeueBotEvent *botcommand.RequeueBotEventCommand
	RunDeliveryTick *botcommand.RunDeliveryTickCommand
}

type Queries struct {
	GetBotEvent   *botquery.GetBotEventQuery
	ListBotEvents *botquery.ListBotEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	delivery botcommand.DeliveryService
}

// WithDeliveryService routes RunDeliveryTick to a ticker other than the service.
func WithDeliveryService(delivery botcommand.DeliveryService) FacadeOption {
	return func(options *facadeOptions) {
		options.delivery = delivery
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("botrelay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	delivery := cfg.delivery
	if delivery == nil {
		if ticker, ok := service.(botcommand.DeliveryService); ok {
			delivery = ticker
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		FanOut:          botcommand.NewFanOutCommand(service),
		RequeueBotEvent: botcommand.NewRequeueBotEventCommand(service),
		RunDeliveryTick: botcommand.NewRunDeliveryTickCommand(delivery),
	}
	facade.queries = Queries{
		GetBotEvent:   botquery.NewGetBotEventQuery(service),
		ListBotEvents: botquery.NewListBotEventsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
