package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/obs"
)

// LogNotifier logs every emitted event and counts it per topic.
type LogNotifier struct {
	Logger *zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, event Event) error {
	obs.IncDomainEvent(event.Topic)
	logger := n.Logger
	if logger == nil {
		logger = zerolog.Ctx(ctx)
	}
	logger.Debug().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		Msg("domain event emitted")
	return nil
}
