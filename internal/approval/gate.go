// Package approval enforces human sign-off for protected environments.
package approval

import (
	"context"
	"errors"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

// ErrExpired is returned when no decision arrives before the timeout. It is
// terminal and equivalent to rejection for downstream purposes.
var ErrExpired = errors.New("approval window expired without a decision")

// ErrRejected is returned on an explicit veto from an authorized principal.
var ErrRejected = errors.New("approval rejected by authorized principal")

// ErrNoResponseSource is returned when an approval is pending but the gate
// has no response source to poll.
var ErrNoResponseSource = errors.New("approval pending but no response source is configured")

// Response is one human reaction to a pending approval request. Approved
// false is a veto.
type Response struct {
	Principal string
	Approved  bool
}

// ResponseSource supplies approval responses collected by the notification
// collaborator. Poll returns all responses received so far.
type ResponseSource interface {
	Poll(ctx context.Context, environment string) ([]Response, error)
}

// Authorizer performs the two-tier authorization check: an explicit
// allow-list of principal ids, or membership in the environment's authorized
// group. Either check alone suffices.
type Authorizer struct {
	cfg      *config.Config
	identity GroupMembership
}

// NewAuthorizer creates an authorizer over the configured environments.
func NewAuthorizer(cfg *config.Config, identity GroupMembership) *Authorizer {
	return &Authorizer{cfg: cfg, identity: identity}
}

// Authorize reports whether the actor may approve (or directly target) the
// environment.
func (a *Authorizer) Authorize(ctx context.Context, actor, environment string) (bool, error) {
	env, ok := a.cfg.Environment(environment)
	if !ok {
		return false, nil
	}
	for _, allowed := range env.Approvers.Allow {
		if allowed == actor {
			return true, nil
		}
	}
	if env.Approvers.Group == "" {
		return false, nil
	}
	return a.identity.IsMemberOf(ctx, actor, env.Approvers.Group)
}

// Gate is the approval state machine:
// NOT_REQUIRED -> PENDING -> {APPROVED | REJECTED | EXPIRED}.
type Gate struct {
	auth         *Authorizer
	pollInterval time.Duration
	now          func() time.Time
}

// NewGate creates an approval gate polling for responses at the given
// interval.
func NewGate(auth *Authorizer, pollInterval time.Duration) *Gate {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Gate{
		auth:         auth,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Open creates the approval record for an environment. Unprotected
// environments are NOT_REQUIRED immediately; protected ones enter PENDING and
// start the timeout clock. Callers must only open the gate after an aggregate
// PASSED gate verdict.
func (g *Gate) Open(env config.Environment) *model.ApprovalRecord {
	record := &model.ApprovalRecord{
		Environment:       env.Name,
		RequiredApprovals: env.RequiredApprovals,
		GrantedApprovers:  make(map[string]struct{}),
	}
	if !env.Protected {
		record.Decision = model.ApprovalNotRequired
		record.DecidedAt = g.now()
		return record
	}
	record.Decision = model.ApprovalPending
	record.RequestedAt = g.now()
	return record
}

// Apply folds one response into a pending record. Responses from
// unauthorized principals are ignored. Duplicate grants from the same
// principal count once.
func (g *Gate) Apply(ctx context.Context, record *model.ApprovalRecord, resp Response) error {
	logger := log.FromContext(ctx).WithName("approval-gate")

	if record.Terminal() {
		return nil
	}

	authorized, err := g.auth.Authorize(ctx, resp.Principal, record.Environment)
	if err != nil {
		return err
	}
	if !authorized {
		logger.Info("Ignoring response from unauthorized principal",
			"principal", resp.Principal,
			"environment", record.Environment,
		)
		return nil
	}

	if !resp.Approved {
		record.Decision = model.ApprovalRejected
		record.DecidedAt = g.now()
		logger.Info("Approval vetoed",
			"principal", resp.Principal,
			"environment", record.Environment,
		)
		return nil
	}

	record.GrantedApprovers[resp.Principal] = struct{}{}
	if len(record.GrantedApprovers) >= record.RequiredApprovals {
		record.Decision = model.ApprovalApproved
		record.DecidedAt = g.now()
		logger.Info("Approval granted",
			"environment", record.Environment,
			"approvers", record.Approvers(),
		)
	}
	return nil
}

// Await blocks until the record reaches a terminal decision or the timeout
// elapses. On timeout the record becomes EXPIRED and ErrExpired is returned;
// a veto yields ErrRejected. Only APPROVED (or NOT_REQUIRED) returns nil.
func (g *Gate) Await(ctx context.Context, record *model.ApprovalRecord, source ResponseSource, timeout time.Duration) error {
	logger := log.FromContext(ctx).WithName("approval-gate")

	if record.Terminal() {
		return terminalErr(record)
	}
	if source == nil {
		return ErrNoResponseSource
	}

	deadline := record.RequestedAt.Add(timeout)
	logger.Info("Awaiting approval",
		"environment", record.Environment,
		"requiredApprovals", record.RequiredApprovals,
		"deadline", deadline,
	)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		if g.now().After(deadline) {
			record.Decision = model.ApprovalExpired
			record.DecidedAt = g.now()
			return ErrExpired
		}

		responses, err := source.Poll(ctx, record.Environment)
		if err != nil {
			logger.Error(err, "Failed to poll approval responses")
		} else {
			for _, resp := range responses {
				if err := g.Apply(ctx, record, resp); err != nil {
					logger.Error(err, "Failed to apply approval response", "principal", resp.Principal)
				}
				if record.Terminal() {
					return terminalErr(record)
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func terminalErr(record *model.ApprovalRecord) error {
	switch record.Decision {
	case model.ApprovalRejected:
		return ErrRejected
	case model.ApprovalExpired:
		return ErrExpired
	default:
		return nil
	}
}
