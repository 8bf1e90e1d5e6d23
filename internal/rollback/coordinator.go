// Package rollback restores slot and traffic state after a failed promotion
// attempt. It makes no decisions of its own; it is the compensating action
// executed in response to failure signals from other components.
package rollback

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/lock"
	"github.com/slipway-sh/deployer/internal/metrics"
	"github.com/slipway-sh/deployer/internal/model"
	"github.com/slipway-sh/deployer/internal/slot"
)

// Trigger identifies what requested the rollback.
type Trigger string

const (
	TriggerCanaryAbort     Trigger = "canary-abort"
	TriggerPostPromotionHC Trigger = "post-promotion-health"
	TriggerManual          Trigger = "manual"
)

// Coordinator executes rollbacks for one application.
type Coordinator struct {
	application string
	slots       *slot.Manager
	locks       *lock.Lock
}

// NewCoordinator creates a rollback coordinator.
func NewCoordinator(application string, slots *slot.Manager, locks *lock.Lock) *Coordinator {
	return &Coordinator{
		application: application,
		slots:       slots,
		locks:       locks,
	}
}

// Execute points the primary routing rule back at the last-known-good slot,
// forces the canary weight to 0, and releases the deployment lock held for
// the environment.
func (c *Coordinator) Execute(ctx context.Context, env config.Environment, lastGood model.Color, trigger Trigger) error {
	logger := log.FromContext(ctx).WithName("rollback-coordinator")
	logger.Info("Executing rollback",
		"application", c.application,
		"environment", env.Name,
		"lastGood", lastGood,
		"trigger", trigger,
	)

	if err := c.slots.Restore(ctx, env, lastGood); err != nil {
		return err
	}
	metrics.Rollbacks.WithLabelValues(c.application, env.Name, string(trigger)).Inc()

	if err := c.locks.Release(ctx, c.application, env.Name); err != nil {
		logger.Error(err, "Failed to release deployment lock after rollback")
	}
	return nil
}
