package hooks

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// AuditPublisherQueue fans audit events out to all registered publishers.
type AuditPublisherQueue struct {
	EventChan  <-chan model.AuditEvent
	publishers []AuditPublisher
}

// NewAuditPublisherQueue creates a fan-out queue over the given channel.
func NewAuditPublisherQueue(eventChan <-chan model.AuditEvent, publishers []AuditPublisher) *AuditPublisherQueue {
	return &AuditPublisherQueue{
		EventChan:  eventChan,
		publishers: publishers,
	}
}

// Loop consumes events until the channel closes. Publisher failures are
// logged, never fatal: audit delivery must not block the pipeline.
func (q *AuditPublisherQueue) Loop() {
	ctx := context.Background()
	logger := log.FromContext(ctx)

	logger.Info("Audit publisher queue started", "publishers", len(q.publishers))

	for event := range q.EventChan {
		logger.Info("Received audit event",
			"eventID", event.EventID,
			"kind", event.Kind,
			"application", event.Application,
			"environment", event.Environment,
			"decision", event.Decision,
		)

		for _, publisher := range q.publishers {
			if err := publisher.Publish(ctx, event); err != nil {
				logger.Error(err, "failed to publish audit event",
					"eventID", event.EventID,
					"kind", event.Kind,
				)
			}
		}
	}
}
