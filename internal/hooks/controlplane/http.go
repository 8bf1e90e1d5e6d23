package controlplane

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// HTTPPublisher sends audit events to the platform control plane via HTTP.
// It implements both the single-event and batch publisher interfaces.
type HTTPPublisher struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPPublisher creates a new HTTP publisher for the control plane
func NewHTTPPublisher(endpoint string) *HTTPPublisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &HTTPPublisher{
		client:   client,
		endpoint: endpoint,
	}
}

// Publish sends a single audit event to the control plane
func (p *HTTPPublisher) Publish(ctx context.Context, event model.AuditEvent) error {
	return p.send(ctx, event, 1)
}

// PublishBatch sends a batch of audit events to the control plane
func (p *HTTPPublisher) PublishBatch(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	return p.send(ctx, events, len(events))
}

// PublishHeartbeat sends a run-progress heartbeat to the control plane.
// The control plane tells heartbeats apart from audit events by messageType.
func (p *HTTPPublisher) PublishHeartbeat(ctx context.Context, payload model.RunHeartbeatPayload) error {
	return p.send(ctx, payload, 1)
}

func (p *HTTPPublisher) send(ctx context.Context, body any, count int) error {
	logger := log.FromContext(ctx)

	var errorResponse map[string]interface{}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&errorResponse).
		Post(p.endpoint)

	if err != nil {
		logger.Error(err, "Failed to send audit events to control plane",
			"endpoint", p.endpoint,
			"eventCount", count,
		)
		return fmt.Errorf("failed to send audit events to control plane: %w", err)
	}

	if !resp.IsSuccess() {
		logger.Error(nil, "Control plane returned error",
			"statusCode", resp.StatusCode(),
			"status", resp.Status(),
			"error", errorResponse,
			"endpoint", p.endpoint,
			"eventCount", count,
		)
		return fmt.Errorf("control plane returned error status %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}
