package transport

import (
	"github.com/goliatone/go-botrelay/core"
	goerrors "github.com/goliatone/go-errors"
)

// deliveryError builds the transport failure for one attempt. Every error
// carries the bot, event and attempt so the stored error message can be
// traced back to its delivery.
func deliveryError(
	delivery core.WebhookDelivery,
	source error,
	category goerrors.Category,
	message string,
	code int,
	extra map[string]any,
) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	metadata := map[string]any{
		"bot_id":       delivery.Target.BotID,
		"bot_event_id": delivery.Event.ID,
		"attempt":      delivery.Attempt,
	}
	for key, value := range extra {
		metadata[key] = value
	}
	err = err.WithCode(code).WithTextCode(deliveryTextCode(category))
	err.WithMetadata(metadata)
	return core.TransportError(err)
}

func deliveryTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryExternal:
		return core.ErrorTransport
	default:
		return core.ErrorInternal
	}
}
