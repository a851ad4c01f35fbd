package command

import (
	"context"

	"github.com/goliatone/go-botrelay/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	FanOut(ctx context.Context, req core.FanOutRequest) (core.FanOutResult, error)
	RequeueBotEvent(ctx context.Context, id string) (core.BotEvent, error)
}

type DeliveryService interface {
	Tick(ctx context.Context) (core.TickStats, error)
}

type FanOutCommand struct {
	service MutatingService
}

func NewFanOutCommand(service MutatingService) *FanOutCommand {
	return &FanOutCommand{service: service}
}

// Execute stores the partial result even when some inserts failed.
func (c *FanOutCommand) Execute(ctx context.Context, msg FanOutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fan-out service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.FanOut(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type RequeueBotEventCommand struct {
	service MutatingService
}

func NewRequeueBotEventCommand(service MutatingService) *RequeueBotEventCommand {
	return &RequeueBotEventCommand{service: service}
}

func (c *RequeueBotEventCommand) Execute(ctx context.Context, msg RequeueBotEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: requeue service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RequeueBotEvent(ctx, msg.BotEventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunDeliveryTickCommand struct {
	service DeliveryService
}

func NewRunDeliveryTickCommand(service DeliveryService) *RunDeliveryTickCommand {
	return &RunDeliveryTickCommand{service: service}
}

func (c *RunDeliveryTickCommand) Execute(ctx context.Context, _ RunDeliveryTickMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delivery service is required")
	}
	stats, err := c.service.Tick(ctx)
	storeResult(ctx, stats)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
