// Package resolver maps a deployment request onto a target environment.
package resolver

import (
	"context"
	"fmt"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

// ConfigurationError reports an environment that should deploy but has no
// cluster binding. It is fatal and never retried.
type ConfigurationError struct {
	Environment string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("environment %q has no cluster binding configured", e.Environment)
}

// AuthorizationError reports an actor that may not target a protected
// environment outside its canonical trigger.
type AuthorizationError struct {
	Actor       string
	Environment string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q is not authorized to deploy to protected environment %q", e.Actor, e.Environment)
}

// Authorizer resolves whether an actor may target a protected environment.
// Implementations consult the allow-list and the identity collaborator.
type Authorizer interface {
	Authorize(ctx context.Context, actor, environment string) (bool, error)
}

// Resolver turns a DeploymentRequest into an EnvironmentDecision by
// evaluating each environment's ordered matcher rules; the first match wins.
// Resolution itself is a pure function of (ref, trigger, override); the
// authorizer is consulted only for explicit requests to protected
// environments arriving outside their canonical trigger.
type Resolver struct {
	cfg  *config.Config
	auth Authorizer
}

// New creates a resolver over the configured environment ladder.
func New(cfg *config.Config, auth Authorizer) *Resolver {
	return &Resolver{cfg: cfg, auth: auth}
}

// Resolve produces the environment decision for a request.
func (r *Resolver) Resolve(ctx context.Context, req model.DeploymentRequest) (model.EnvironmentDecision, error) {
	if req.ExplicitEnvironment() {
		return r.resolveExplicit(ctx, req)
	}

	for _, env := range r.cfg.Environments {
		for _, rule := range env.Rules {
			if matchRule(rule, req.Ref) {
				return r.decide(env)
			}
		}
	}
	return model.NoDeploy(), nil
}

func (r *Resolver) resolveExplicit(ctx context.Context, req model.DeploymentRequest) (model.EnvironmentDecision, error) {
	env, ok := r.cfg.Environment(req.RequestedEnvironment)
	if !ok {
		return model.NoDeploy(), nil
	}

	if env.Protected && !r.canonicalTrigger(env, req) {
		authorized, err := r.auth.Authorize(ctx, req.Actor, env.Name)
		if err != nil {
			return model.NoDeploy(), fmt.Errorf("authorization lookup failed: %w", err)
		}
		if !authorized {
			return model.NoDeploy(), &AuthorizationError{Actor: req.Actor, Environment: env.Name}
		}
	}

	return r.decide(env)
}

// canonicalTrigger reports whether the request arrived the way the
// environment's own rules would have selected it: a push whose ref matches a
// configured rule, without validation overrides.
func (r *Resolver) canonicalTrigger(env config.Environment, req model.DeploymentRequest) bool {
	if req.Trigger != model.TriggerPush || req.OverrideValidation {
		return false
	}
	for _, rule := range env.Rules {
		if matchRule(rule, req.Ref) {
			return true
		}
	}
	return false
}

func (r *Resolver) decide(env config.Environment) (model.EnvironmentDecision, error) {
	if env.Cluster.IsZero() {
		return model.NoDeploy(), &ConfigurationError{Environment: env.Name}
	}
	return model.EnvironmentDecision{
		TargetEnvironment: env.Name,
		ShouldDeploy:      true,
		ClusterBinding:    env.Cluster,
		Protected:         env.Protected,
	}, nil
}
