package services

import (
	"context"

	"aidledger/internal/amqp"
	applog "aidledger/internal/log"
)

// EventPublisher receives domain events after a state change has been
// persisted. *amqp.Client implements it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *amqp.Event) error
}

// emit publishes ev when a publisher is configured. Publishing failures are
// logged and never undo the change that produced the event.
func emit(ctx context.Context, pub EventPublisher, logger *applog.Logger, ev *amqp.Event) {
	if pub == nil {
		return
	}
	if err := pub.PublishEvent(ctx, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish event",
			"type", string(ev.Type),
			applog.FieldSponsorID, ev.SponsorID,
			applog.FieldError, err)
	}
}
