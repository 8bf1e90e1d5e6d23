// Package pipeline drives one deployment request through resolution, gating,
// approval, slot deployment, canary ramping, and promotion.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/approval"
	"github.com/slipway-sh/deployer/internal/canary"
	"github.com/slipway-sh/deployer/internal/changedetect"
	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/gates"
	"github.com/slipway-sh/deployer/internal/hooks"
	"github.com/slipway-sh/deployer/internal/lock"
	"github.com/slipway-sh/deployer/internal/metrics"
	"github.com/slipway-sh/deployer/internal/model"
	"github.com/slipway-sh/deployer/internal/resolver"
	"github.com/slipway-sh/deployer/internal/rollback"
	"github.com/slipway-sh/deployer/internal/slot"
)

// Inputs carries everything one pipeline invocation needs. The image
// reference comes from the build collaborator; scan results from the
// configured scanners.
type Inputs struct {
	Request     model.DeploymentRequest
	ImageRef    string
	ScanResults []model.QualityGateResult
}

// Result summarizes a completed (or short-circuited) invocation.
type Result struct {
	Decision model.EnvironmentDecision
	Slot     *model.DeploymentSlot
	Canary   *model.CanaryState
	Promoted bool
}

// ProgressReporter receives the run's current stage. The heartbeat sender
// implements it; a nil reporter disables progress reporting.
type ProgressReporter interface {
	Set(environment string, phase model.RunPhase)
}

// Runner wires the deployment components together. Each component receives
// exactly the collaborators it declares; no stage reads ambient process
// state.
type Runner struct {
	cfg       *config.Config
	resolver  *resolver.Resolver
	detector  *changedetect.Detector
	gate      *approval.Gate
	approvals approval.ResponseSource
	notifier  hooks.ApprovalNotifier
	slots     *slot.Manager
	locks     *lock.Lock
	rollback  *rollback.Coordinator
	health    canary.Evaluator
	auditChan chan<- model.AuditEvent
	source    model.SourceMetadata
	progress  ProgressReporter
}

// Options collects the Runner's collaborators.
type Options struct {
	Config    *config.Config
	Resolver  *resolver.Resolver
	Detector  *changedetect.Detector
	Gate      *approval.Gate
	Approvals approval.ResponseSource
	Notifier  hooks.ApprovalNotifier
	Slots     *slot.Manager
	Locks     *lock.Lock
	Rollback  *rollback.Coordinator
	Health    canary.Evaluator
	AuditChan chan<- model.AuditEvent
	Source    model.SourceMetadata
	Progress  ProgressReporter
}

// NewRunner creates a pipeline runner.
func NewRunner(opts Options) *Runner {
	return &Runner{
		cfg:       opts.Config,
		resolver:  opts.Resolver,
		detector:  opts.Detector,
		gate:      opts.Gate,
		approvals: opts.Approvals,
		notifier:  opts.Notifier,
		slots:     opts.Slots,
		locks:     opts.Locks,
		rollback:  opts.Rollback,
		health:    opts.Health,
		auditChan: opts.AuditChan,
		source:    opts.Source,
		progress:  opts.Progress,
	}
}

// Run executes one deployment request end to end. Any failure strictly
// before promotion leaves the active slot serving unaffected traffic; any
// failure after promotion but before canary completion is reverted to the
// prior active slot.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Result, error) {
	logger := log.FromContext(ctx).WithName("pipeline")
	req := in.Request
	result := &Result{}
	defer r.report("", model.PhaseIdle)

	r.report("", model.PhaseResolving)
	decision, err := r.resolver.Resolve(ctx, req)
	result.Decision = decision
	r.audit(model.AuditKindResolution, req, decision.TargetEnvironment, resolveDecision(decision, err), "")
	if err != nil {
		return result, err
	}
	if !decision.ShouldDeploy {
		logger.Info("No deployment for ref", "ref", req.Ref)
		return result, nil
	}

	shouldDeploy, err := r.detector.ShouldDeploy(ctx, decision, req)
	if err != nil {
		return result, err
	}
	if !shouldDeploy {
		logger.Info("No changes since last deployment, skipping",
			"environment", decision.TargetEnvironment)
		result.Decision.ShouldDeploy = false
		return result, nil
	}

	verdict := gates.Aggregate(r.cfg, in.ScanResults)
	metrics.GateVerdicts.WithLabelValues(r.cfg.Application, string(verdict.Status)).Inc()
	r.audit(model.AuditKindGateVerdict, req, decision.TargetEnvironment, string(verdict.Status), "")
	if err := verdict.Failure(); err != nil {
		return result, err
	}

	env, ok := r.cfg.Environment(decision.TargetEnvironment)
	if !ok {
		return result, fmt.Errorf("environment %q disappeared from configuration", decision.TargetEnvironment)
	}

	if err := r.awaitApproval(ctx, env, req); err != nil {
		return result, err
	}

	r.report(env.Name, model.PhaseDeploying)
	if err := r.locks.Acquire(ctx, r.cfg.Application, env.Name); err != nil {
		return result, err
	}

	preActive, err := r.slots.ActiveColor(ctx, env.Name)
	if err != nil {
		_ = r.locks.Release(ctx, r.cfg.Application, env.Name)
		return result, err
	}

	deployed, err := r.slots.Deploy(ctx, env, in.ImageRef)
	if err != nil {
		// Nothing routed yet; the active slot is untouched.
		_ = r.locks.Release(ctx, r.cfg.Application, env.Name)
		return result, err
	}
	result.Slot = deployed
	r.audit(model.AuditKindSlotDeployed, req, env.Name, string(deployed.Color), in.ImageRef)

	r.report(env.Name, model.PhaseRamping)
	controller := canary.NewController(r.slots, r.health, func(ctx context.Context) bool {
		return !r.locks.Held(ctx, r.cfg.Application, env.Name)
	})
	state, rampErr := controller.Run(ctx, env, deployed.Color)
	result.Canary = state
	r.audit(model.AuditKindCanaryTransition, req, env.Name, string(state.Status), rampDetail(rampErr))

	if rampErr != nil {
		if errors.Is(rampErr, canary.ErrRampTakenOver) {
			// The new lock holder owns the environment now; its run is the
			// only one allowed to touch routing.
			return result, rampErr
		}
		if rbErr := r.rollback.Execute(ctx, env, preActive, rollback.TriggerCanaryAbort); rbErr != nil {
			logger.Error(rbErr, "Rollback after canary failure did not complete")
		}
		return result, rampErr
	}

	r.report(env.Name, model.PhasePromoting)
	if err := r.slots.Promote(ctx, env); err != nil {
		if rbErr := r.rollback.Execute(ctx, env, preActive, rollback.TriggerCanaryAbort); rbErr != nil {
			logger.Error(rbErr, "Rollback after failed promotion did not complete")
		}
		return result, err
	}
	result.Promoted = true
	r.audit(model.AuditKindPromotion, req, env.Name, string(deployed.Color), in.ImageRef)

	// One post-promotion probe before declaring success. An evaluation
	// error counts as unhealthy, same as during the ramp.
	health, err := r.health.Evaluate(ctx, env, deployed.Color)
	if err != nil {
		health = canary.Health{Healthy: false, Reason: err.Error()}
	}
	if !health.Healthy {
		r.audit(model.AuditKindRollback, req, env.Name, string(preActive), health.Reason)
		if rbErr := r.rollback.Execute(ctx, env, preActive, rollback.TriggerPostPromotionHC); rbErr != nil {
			logger.Error(rbErr, "Post-promotion rollback did not complete")
		}
		result.Promoted = false
		return result, &canary.HealthCheckFailure{
			Environment:         env.Name,
			ConsecutiveFailures: 1,
			Reason:              health.Reason,
		}
	}

	if head, err := r.detector.Head(); err == nil {
		if err := r.detector.MarkDeployed(r.cfg.Application, env.Name, head); err != nil {
			logger.Error(err, "Failed to move deployment tag")
		}
	}

	if err := r.locks.Release(ctx, r.cfg.Application, env.Name); err != nil {
		logger.Error(err, "Failed to release deployment lock")
	}
	return result, nil
}

// ManualRollback reverts an environment to its standby slot on operator
// request.
func (r *Runner) ManualRollback(ctx context.Context, environment, actor string) error {
	env, ok := r.cfg.Environment(environment)
	if !ok {
		return fmt.Errorf("unknown environment %q", environment)
	}
	if err := r.locks.Acquire(ctx, r.cfg.Application, env.Name); err != nil {
		return err
	}

	active, err := r.slots.ActiveColor(ctx, env.Name)
	if err != nil {
		_ = r.locks.Release(ctx, r.cfg.Application, env.Name)
		return err
	}

	req := model.DeploymentRequest{
		Application: r.cfg.Application,
		Actor:       actor,
		Trigger:     model.TriggerManual,
	}
	r.audit(model.AuditKindRollback, req, env.Name, string(active.Opposite()), "manual rollback")
	return r.rollback.Execute(ctx, env, active.Opposite(), rollback.TriggerManual)
}

func (r *Runner) awaitApproval(ctx context.Context, env config.Environment, req model.DeploymentRequest) error {
	logger := log.FromContext(ctx).WithName("pipeline")

	record := r.gate.Open(env)
	r.audit(model.AuditKindApproval, req, env.Name, string(record.Decision), "")
	if record.Decision == model.ApprovalNotRequired {
		return nil
	}
	r.report(env.Name, model.PhaseAwaitingApproval)

	if r.notifier != nil {
		if err := r.notifier.NotifyApproval(ctx, record, req); err != nil {
			logger.Error(err, "Failed to notify approvers")
		}
	}

	err := r.gate.Await(ctx, record, r.approvals, env.ApprovalTimeout.Duration)
	r.audit(model.AuditKindApproval, req, env.Name, string(record.Decision), approvalDetail(record))
	return err
}

func (r *Runner) report(environment string, phase model.RunPhase) {
	if r.progress == nil {
		return
	}
	r.progress.Set(environment, phase)
}

func (r *Runner) audit(kind model.AuditEventKind, req model.DeploymentRequest, environment, decision, detail string) {
	if r.auditChan == nil {
		return
	}
	r.auditChan <- model.NewAuditEvent(kind, req, environment, decision, detail, r.source)
}

func resolveDecision(decision model.EnvironmentDecision, err error) string {
	if err != nil {
		return "error"
	}
	if !decision.ShouldDeploy {
		return "no-deploy"
	}
	return "deploy"
}

func rampDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func approvalDetail(record *model.ApprovalRecord) string {
	if len(record.GrantedApprovers) == 0 {
		return ""
	}
	return fmt.Sprintf("approvers: %v", record.Approvers())
}
