package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// PubSubPublisher sends audit events to Google Cloud Pub/Sub
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicPath string
	clusterID string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPubSubPublisher creates a new Google Cloud Pub/Sub publisher
//
// Authentication is handled via Application Default Credentials (ADC):
//   - Workload Identity (GKE): Auto-detected from metadata server (recommended)
//   - Service Account JSON key: Set GOOGLE_APPLICATION_CREDENTIALS env var
//   - Default credentials: gcloud auth application-default login
//
// Parameters:
//   - topicPath: Full Pub/Sub topic path (projects/<project>/topics/<topic>)
//   - clusterID: Unique identifier for the target cluster
func NewPubSubPublisher(ctx context.Context, topicPath, clusterID string) (*PubSubPublisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Enable message ordering to guarantee audit events for the same
	// (application, environment) pair are delivered in the order they were
	// published. The subscription must also have message ordering enabled.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topicPath: topicPath,
		clusterID: clusterID,
	}, nil
}

// Publish sends an audit event to Google Cloud Pub/Sub
func (p *PubSubPublisher) Publish(ctx context.Context, event model.AuditEvent) error {
	logger := log.FromContext(ctx)

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error(err, "Failed to marshal audit event", "eventID", event.EventID)
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	// Ordering key ensures events for the same application and environment
	// are delivered in order. Format: cluster/application/environment
	orderingKey := fmt.Sprintf("%s/%s/%s", p.clusterID, event.Application, event.Environment)

	logger.Info("Publishing audit event to Google Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.EventID,
		"orderingKey", orderingKey,
		"kind", event.Kind,
		"decision", event.Decision,
	)

	attributes := map[string]string{
		"cluster_name": p.clusterID,
		"application":  event.Application,
		"environment":  event.Environment,
		"event_kind":   string(event.Kind),
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: orderingKey,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		logger.Error(err, "Failed to publish audit event to Pub/Sub",
			"topic", p.topicPath,
			"eventID", event.EventID,
		)
		return fmt.Errorf("failed to publish audit event to pubsub: %w", err)
	}

	logger.Info("Audit event successfully published to Google Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.EventID,
		"messageID", msgID,
	)

	return nil
}

// Stop stops the publisher and closes the client
func (p *PubSubPublisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
