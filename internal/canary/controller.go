// Package canary ramps traffic weight toward a newly deployed slot while
// monitoring its health.
package canary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

// ErrRampTakenOver is returned when another deployment request took the
// environment lock mid-ramp under the abort-and-restart policy.
var ErrRampTakenOver = errors.New("canary ramp aborted: environment lock taken over")

// HealthCheckFailure reports a ramp aborted after the configured number of
// consecutive unhealthy ticks. It triggers the rollback coordinator.
type HealthCheckFailure struct {
	Environment         string
	ConsecutiveFailures int
	Reason              string
}

func (e *HealthCheckFailure) Error() string {
	return fmt.Sprintf("canary health check failed %d consecutive times in %s: %s",
		e.ConsecutiveFailures, e.Environment, e.Reason)
}

// TrafficRouter mutates the canary traffic weight on the primary routing
// rule. The slot manager implements it.
type TrafficRouter interface {
	RouteCanary(ctx context.Context, env config.Environment, target model.Color, weight int) error
}

// Controller drives one traffic ramp per promotion attempt. Only one ramp may
// run per environment at a time; the environment lock enforces this.
type Controller struct {
	router TrafficRouter
	health Evaluator

	// aborted is the cooperative cancellation flag, checked at the start of
	// each tick and never mid-health-evaluation.
	aborted func(ctx context.Context) bool
}

// NewController creates a canary controller. aborted may be nil when no
// external abort source exists.
func NewController(router TrafficRouter, health Evaluator, aborted func(ctx context.Context) bool) *Controller {
	if aborted == nil {
		aborted = func(context.Context) bool { return false }
	}
	return &Controller{
		router: router,
		health: health,
		aborted: aborted,
	}
}

// Run executes the ramp for an environment's standby slot. It returns the
// final canary state together with the error that ended the ramp, if any.
// On success the state is COMPLETED and the caller may promote.
//
// The weight is monotonically non-decreasing while the state is RAMPING and
// is exactly 0 after any ABORTED transition.
func (c *Controller) Run(ctx context.Context, env config.Environment, target model.Color) (*model.CanaryState, error) {
	logger := log.FromContext(ctx).WithName("canary-controller")
	params := env.Canary

	state := &model.CanaryState{
		Environment:   env.Name,
		CurrentWeight: params.InitialWeight,
		StepSize:      params.StepSize,
		StepInterval:  params.StepInterval.Duration,
		Status:        model.CanaryRamping,
		StartedAt:     time.Now(),
	}

	logger.Info("Starting canary ramp",
		"environment", env.Name,
		"target", target,
		"initialWeight", params.InitialWeight,
		"stepSize", params.StepSize,
		"stepInterval", params.StepInterval.Duration,
	)

	if err := c.router.RouteCanary(ctx, env, target, state.CurrentWeight); err != nil {
		state.Status = model.CanaryAborted
		state.CurrentWeight = 0
		return state, err
	}

	ticker := time.NewTicker(params.StepInterval.Duration)
	defer ticker.Stop()

	consecutiveFailures := 0
	confirming := false

	for {
		select {
		case <-ctx.Done():
			state.Status = model.CanaryPaused
			return state, ctx.Err()
		case <-ticker.C:
		}

		if c.aborted(ctx) {
			state.Status = model.CanaryAborted
			state.CurrentWeight = 0
			return state, ErrRampTakenOver
		}

		health, err := c.health.Evaluate(ctx, env, target)
		if err != nil {
			logger.Error(err, "Health evaluation failed, counting as unhealthy tick")
			health = Health{Healthy: false, Reason: err.Error()}
		}

		if !health.Healthy {
			consecutiveFailures++
			confirming = false
			logger.Info("Unhealthy canary tick",
				"environment", env.Name,
				"reason", health.Reason,
				"consecutiveFailures", consecutiveFailures,
				"failureThreshold", params.FailureThreshold,
			)
			if consecutiveFailures >= params.FailureThreshold {
				state.Status = model.CanaryAborted
				state.CurrentWeight = 0
				return state, &HealthCheckFailure{
					Environment:         env.Name,
					ConsecutiveFailures: consecutiveFailures,
					Reason:              health.Reason,
				}
			}
			continue
		}
		consecutiveFailures = 0

		if state.CurrentWeight >= model.MaxCanaryWeight {
			if confirming {
				// Held at full weight and healthy for one extra interval.
				state.Status = model.CanaryCompleted
				logger.Info("Canary ramp completed", "environment", env.Name)
				return state, nil
			}
			confirming = true
			continue
		}

		next := state.CurrentWeight + params.StepSize
		if next > model.MaxCanaryWeight {
			next = model.MaxCanaryWeight
		}
		state.CurrentWeight = next
		if err := c.router.RouteCanary(ctx, env, target, next); err != nil {
			state.Status = model.CanaryAborted
			state.CurrentWeight = 0
			return state, err
		}
		logger.Info("Canary weight increased", "environment", env.Name, "weight", next)
	}
}
