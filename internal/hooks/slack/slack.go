package slack

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// Notifier posts approval requests and audit events to a Slack-compatible
// incoming webhook.
type Notifier struct {
	client     *resty.Client
	webhookURL string
}

// NewNotifier creates a webhook notifier.
func NewNotifier(webhookURL string) *Notifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Notifier{
		client:     client,
		webhookURL: webhookURL,
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// NotifyApproval surfaces a pending approval record for human action.
func (n *Notifier) NotifyApproval(ctx context.Context, record *model.ApprovalRecord, req model.DeploymentRequest) error {
	text := fmt.Sprintf(
		":lock: Deployment of *%s* (`%s`) to protected environment *%s* requested by %s, %d approval(s) required.",
		req.Application, req.Ref, record.Environment, req.Actor, record.RequiredApprovals,
	)
	return n.post(ctx, text)
}

// Publish posts a short audit summary for slot and canary transitions.
func (n *Notifier) Publish(ctx context.Context, event model.AuditEvent) error {
	text := fmt.Sprintf("[%s] %s/%s: %s (%s)",
		event.Kind, event.Application, event.Environment, event.Decision, event.Ref)
	if event.Detail != "" {
		text += ": " + event.Detail
	}
	return n.post(ctx, text)
}

func (n *Notifier) post(ctx context.Context, text string) error {
	logger := log.FromContext(ctx)

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{Text: text}).
		Post(n.webhookURL)

	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	if !resp.IsSuccess() {
		logger.Error(nil, "Webhook returned error", "statusCode", resp.StatusCode())
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
