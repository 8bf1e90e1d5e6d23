package model

import (
	"time"

	"github.com/google/uuid"
)

// RunPhase is the current stage of an in-flight pipeline run.
type RunPhase string

const (
	PhaseResolving        RunPhase = "RESOLVING"
	PhaseAwaitingApproval RunPhase = "AWAITING_APPROVAL"
	PhaseDeploying        RunPhase = "DEPLOYING"
	PhaseRamping          RunPhase = "RAMPING"
	PhasePromoting        RunPhase = "PROMOTING"
	PhaseIdle             RunPhase = "IDLE"
)

// RunHeartbeatPayload tells the control plane a long-running deployment is
// still alive and which stage it is in.
type RunHeartbeatPayload struct {
	EventID     string         `json:"eventId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Source      SourceMetadata `json:"source"`
	MessageType string         `json:"messageType"`
	Application string         `json:"application"`
	Environment string         `json:"environment,omitempty"`
	Phase       RunPhase       `json:"phase"`
}

// NewRunHeartbeatPayload stamps a heartbeat with a fresh ID and the current
// time.
func NewRunHeartbeatPayload(source SourceMetadata, application, environment string, phase RunPhase) RunHeartbeatPayload {
	return RunHeartbeatPayload{
		EventID:     uuid.New().String(),
		OccurredAt:  time.Now().UTC(),
		Source:      source,
		MessageType: "HEARTBEAT",
		Application: application,
		Environment: environment,
		Phase:       phase,
	}
}
