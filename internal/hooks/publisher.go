package hooks

import (
	"context"

	"github.com/slipway-sh/deployer/internal/model"
)

// AuditPublisher delivers one audit event to an external collaborator.
type AuditPublisher interface {
	Publish(ctx context.Context, event model.AuditEvent) error
}

// BatchAuditPublisher delivers audit events in batches.
type BatchAuditPublisher interface {
	PublishBatch(ctx context.Context, events []model.AuditEvent) error
}

// ApprovalNotifier surfaces a pending approval record for human action.
type ApprovalNotifier interface {
	NotifyApproval(ctx context.Context, record *model.ApprovalRecord, req model.DeploymentRequest) error
}

// HeartbeatPublisher delivers liveness signals for an in-flight pipeline run.
type HeartbeatPublisher interface {
	PublishHeartbeat(ctx context.Context, payload model.RunHeartbeatPayload) error
}
