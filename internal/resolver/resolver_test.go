package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

type staticAuthorizer struct {
	allowed map[string]bool
	err     error
}

func (a *staticAuthorizer) Authorize(_ context.Context, actor, _ string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.allowed[actor], nil
}

func ladderConfig() *config.Config {
	return &config.Config{
		Application: "checkout",
		Environments: []config.Environment{
			{
				Name: "staging",
				Rules: []config.MatchRule{
					{Type: config.RuleExact, Value: "refs/heads/develop"},
					{Type: config.RuleGlob, Pattern: "refs/heads/release/*"},
				},
				Cluster: model.ClusterBinding{ClusterID: "staging.stg01", NamespacePrefix: "checkout-staging"},
			},
			{
				Name: "production",
				Rules: []config.MatchRule{
					{Type: config.RuleExact, Value: "refs/heads/main"},
					{Type: config.RuleTag, Pattern: "v*"},
				},
				Cluster:           model.ClusterBinding{ClusterID: "prod.euw1", NamespacePrefix: "checkout-prod"},
				Protected:         true,
				RequiredApprovals: 1,
			},
		},
	}
}

func TestResolver_Resolve_RuleLadder(t *testing.T) {
	r := New(ladderConfig(), &staticAuthorizer{})

	tests := []struct {
		name        string
		ref         string
		environment string
		deploy      bool
	}{
		{
			name:        "develop maps to staging",
			ref:         "refs/heads/develop",
			environment: "staging",
			deploy:      true,
		},
		{
			name:        "release branch glob maps to staging",
			ref:         "refs/heads/release/2.4",
			environment: "staging",
			deploy:      true,
		},
		{
			name:        "main maps to production",
			ref:         "refs/heads/main",
			environment: "production",
			deploy:      true,
		},
		{
			name:        "version tag maps to production",
			ref:         "refs/tags/v1.8.0",
			environment: "production",
			deploy:      true,
		},
		{
			name:   "feature branch matches nothing",
			ref:    "refs/heads/feature/checkout-totals",
			deploy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := r.Resolve(context.Background(), model.DeploymentRequest{
				Ref:     tt.ref,
				Trigger: model.TriggerPush,
			})
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if decision.ShouldDeploy != tt.deploy {
				t.Errorf("Expected ShouldDeploy=%v, got %v", tt.deploy, decision.ShouldDeploy)
			}
			if decision.TargetEnvironment != tt.environment {
				t.Errorf("Expected environment %q, got %q", tt.environment, decision.TargetEnvironment)
			}
			if tt.deploy && decision.ClusterBinding.IsZero() {
				t.Errorf("Expected a cluster binding for %q", tt.environment)
			}
		})
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	r := New(ladderConfig(), &staticAuthorizer{})
	req := model.DeploymentRequest{Ref: "refs/heads/develop", Trigger: model.TriggerPush}

	first, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Expected no error on repeat %d, got: %v", i, err)
		}
		if again != first {
			t.Fatalf("Expected identical decision on repeat %d, got %+v vs %+v", i, again, first)
		}
	}
}

func TestResolver_Resolve_FirstMatchWins(t *testing.T) {
	// Both environments match the same ref; the first configured one wins.
	cfg := ladderConfig()
	cfg.Environments[1].Rules = append(cfg.Environments[1].Rules,
		config.MatchRule{Type: config.RuleExact, Value: "refs/heads/develop"})

	r := New(cfg, &staticAuthorizer{})
	decision, err := r.Resolve(context.Background(), model.DeploymentRequest{
		Ref:     "refs/heads/develop",
		Trigger: model.TriggerPush,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if decision.TargetEnvironment != "staging" {
		t.Errorf("Expected first matching environment staging, got %q", decision.TargetEnvironment)
	}
}

func TestResolver_Resolve_ExplicitProtected(t *testing.T) {
	auth := &staticAuthorizer{allowed: map[string]bool{"release-captain": true}}
	r := New(ladderConfig(), auth)

	tests := []struct {
		name    string
		req     model.DeploymentRequest
		deploy  bool
		authErr bool
	}{
		{
			name: "unauthorized actor is rejected",
			req: model.DeploymentRequest{
				Ref:                  "refs/heads/hotfix/payment-retry",
				Trigger:              model.TriggerManual,
				Actor:                "intern",
				RequestedEnvironment: "production",
			},
			authErr: true,
		},
		{
			name: "authorized actor may target production manually",
			req: model.DeploymentRequest{
				Ref:                  "refs/heads/hotfix/payment-retry",
				Trigger:              model.TriggerManual,
				Actor:                "release-captain",
				RequestedEnvironment: "production",
			},
			deploy: true,
		},
		{
			name: "canonical push skips authorization",
			req: model.DeploymentRequest{
				Ref:                  "refs/heads/main",
				Trigger:              model.TriggerPush,
				Actor:                "intern",
				RequestedEnvironment: "production",
			},
			deploy: true,
		},
		{
			name: "override flag forces authorization even on canonical ref",
			req: model.DeploymentRequest{
				Ref:                  "refs/heads/main",
				Trigger:              model.TriggerPush,
				Actor:                "intern",
				RequestedEnvironment: "production",
				OverrideValidation:   true,
			},
			authErr: true,
		},
		{
			name: "unknown explicit environment is a no-deploy",
			req: model.DeploymentRequest{
				Ref:                  "refs/heads/main",
				Trigger:              model.TriggerManual,
				Actor:                "release-captain",
				RequestedEnvironment: "qa",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := r.Resolve(context.Background(), tt.req)
			if tt.authErr {
				var authErr *AuthorizationError
				if !errors.As(err, &authErr) {
					t.Fatalf("Expected AuthorizationError, got: %v", err)
				}
				if decision.ShouldDeploy {
					t.Errorf("Expected no deployment on authorization failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if decision.ShouldDeploy != tt.deploy {
				t.Errorf("Expected ShouldDeploy=%v, got %v", tt.deploy, decision.ShouldDeploy)
			}
		})
	}
}

func TestResolver_Resolve_AuthorizerFailure(t *testing.T) {
	auth := &staticAuthorizer{err: fmt.Errorf("identity provider unavailable")}
	r := New(ladderConfig(), auth)

	_, err := r.Resolve(context.Background(), model.DeploymentRequest{
		Trigger:              model.TriggerManual,
		Actor:                "release-captain",
		RequestedEnvironment: "production",
	})
	if err == nil {
		t.Fatal("Expected error when the authorizer fails")
	}
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		t.Errorf("Expected a lookup failure, not an authorization denial: %v", err)
	}
}

func TestResolver_Resolve_MissingClusterBinding(t *testing.T) {
	cfg := ladderConfig()
	cfg.Environments[0].Cluster = model.ClusterBinding{}

	r := New(cfg, &staticAuthorizer{})
	_, err := r.Resolve(context.Background(), model.DeploymentRequest{
		Ref:     "refs/heads/develop",
		Trigger: model.TriggerPush,
	})

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("Expected ConfigurationError, got: %v", err)
	}
	if confErr.Environment != "staging" {
		t.Errorf("Expected error to name staging, got %q", confErr.Environment)
	}
}
