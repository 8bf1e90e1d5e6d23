package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventKind classifies audit events emitted by the pipeline.
type AuditEventKind string

const (
	AuditKindResolution       AuditEventKind = "RESOLUTION"
	AuditKindGateVerdict      AuditEventKind = "GATE_VERDICT"
	AuditKindApproval         AuditEventKind = "APPROVAL"
	AuditKindSlotDeployed     AuditEventKind = "SLOT_DEPLOYED"
	AuditKindCanaryTransition AuditEventKind = "CANARY_TRANSITION"
	AuditKindPromotion        AuditEventKind = "PROMOTION"
	AuditKindRollback         AuditEventKind = "ROLLBACK"
)

// SourceMetadata identifies the deployer instance that emitted an event.
type SourceMetadata struct {
	ClusterID       string `json:"clusterId"`
	DeployerVersion string `json:"deployerVersion"`
}

// AuditEvent is the structured record published for every resolver decision
// and every slot/canary transition.
type AuditEvent struct {
	EventID     string         `json:"eventId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Source      SourceMetadata `json:"source"`
	Application string         `json:"application"`
	Environment string         `json:"environment"`
	Ref         string         `json:"ref"`
	Actor       string         `json:"actor"`
	Kind        AuditEventKind `json:"kind"`
	Decision    string         `json:"decision"`
	Detail      string         `json:"detail,omitempty"`
}

// NewAuditEvent stamps an event with a fresh ID and the current time.
func NewAuditEvent(kind AuditEventKind, req DeploymentRequest, environment, decision, detail string, source SourceMetadata) AuditEvent {
	return AuditEvent{
		EventID:     uuid.New().String(),
		OccurredAt:  time.Now().UTC(),
		Source:      source,
		Application: req.Application,
		Environment: environment,
		Ref:         req.Ref,
		Actor:       req.Actor,
		Kind:        kind,
		Decision:    decision,
		Detail:      detail,
	}
}
