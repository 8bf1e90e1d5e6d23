// Package heartbeat reports liveness for in-flight deployment runs so the
// control plane can distinguish a slow canary ramp from a dead pipeline.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/hooks"
	"github.com/slipway-sh/deployer/internal/model"
)

// Config holds configuration for the heartbeat sender
type Config struct {
	Interval    time.Duration
	Source      model.SourceMetadata
	Application string
}

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 30 * time.Second

// Sender periodically publishes the run's current phase. The pipeline updates
// the phase at each stage boundary; the sender only reads it.
type Sender struct {
	config     Config
	publishers []hooks.HeartbeatPublisher
	stopCh     chan struct{}

	mu          sync.Mutex
	phase       model.RunPhase
	environment string
}

// NewSender creates a new heartbeat sender
func NewSender(config Config, publishers []hooks.HeartbeatPublisher) *Sender {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Sender{
		config:     config,
		publishers: publishers,
		stopCh:     make(chan struct{}),
		phase:      model.PhaseIdle,
	}
}

// Set records the run's current stage.
func (s *Sender) Set(environment string, phase model.RunPhase) {
	s.mu.Lock()
	s.phase = phase
	s.environment = environment
	s.mu.Unlock()
}

// Start runs the heartbeat loop until Stop or context cancellation.
func (s *Sender) Start(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("heartbeat-sender")

	logger.Info("Starting heartbeat sender",
		"interval", s.config.Interval,
		"application", s.config.Application,
		"publishers", len(s.publishers),
	)

	// Send initial heartbeat immediately
	s.send(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.send(ctx)
		case <-s.stopCh:
			logger.Info("Heartbeat sender stopped")
			return
		case <-ctx.Done():
			logger.Info("Heartbeat sender context cancelled")
			return
		}
	}
}

// Stop stops the heartbeat sender
func (s *Sender) Stop() {
	close(s.stopCh)
}

func (s *Sender) send(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("heartbeat-sender")

	s.mu.Lock()
	phase := s.phase
	environment := s.environment
	s.mu.Unlock()

	payload := model.NewRunHeartbeatPayload(s.config.Source, s.config.Application, environment, phase)

	for _, publisher := range s.publishers {
		if err := publisher.PublishHeartbeat(ctx, payload); err != nil {
			logger.Error(err, "Failed to publish heartbeat", "phase", phase)
		}
	}
}
