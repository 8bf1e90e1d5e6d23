package canary

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/types"
	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
	"github.com/slipway-sh/deployer/internal/slot"
)

// Health is one evaluation of the target slot.
type Health struct {
	Healthy bool
	Reason  string
}

// Evaluator observes the target slot's health during a ramp.
type Evaluator interface {
	Evaluate(ctx context.Context, env config.Environment, target model.Color) (Health, error)
}

// WorkloadEvaluator judges health from the target slot's workload status in
// the cluster.
type WorkloadEvaluator struct {
	client      client.Client
	application string
}

// NewWorkloadEvaluator creates a workload-readiness evaluator.
func NewWorkloadEvaluator(c client.Client, application string) *WorkloadEvaluator {
	return &WorkloadEvaluator{client: c, application: application}
}

// Evaluate reads the slot's Deployment: a failed rollout condition or
// unready replicas count as unhealthy.
func (e *WorkloadEvaluator) Evaluate(ctx context.Context, env config.Environment, target model.Color) (Health, error) {
	namespace := slot.SlotNamespace(env.Cluster, target)

	workload := &appsv1.Deployment{}
	if err := e.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: e.application}, workload); err != nil {
		return Health{}, fmt.Errorf("failed to load slot workload: %w", err)
	}

	for _, condition := range workload.Status.Conditions {
		if condition.Type == appsv1.DeploymentProgressing {
			if condition.Status == "False" || condition.Reason == "ProgressDeadlineExceeded" {
				return Health{Healthy: false, Reason: "rollout progress deadline exceeded"}, nil
			}
		}
		if condition.Type == appsv1.DeploymentReplicaFailure && condition.Status == "True" {
			return Health{Healthy: false, Reason: "replica failure"}, nil
		}
	}

	if workload.Status.ReadyReplicas < workload.Status.Replicas {
		return Health{
			Healthy: false,
			Reason: fmt.Sprintf("replicas not ready: %d/%d",
				workload.Status.ReadyReplicas, workload.Status.Replicas),
		}, nil
	}
	return Health{Healthy: true}, nil
}

// SLOEvaluator judges health from observed error rate and latency reported by
// a metrics endpoint for the target slot.
type SLOEvaluator struct {
	client          *resty.Client
	endpoint        string
	maxErrorRate    float64
	maxP95LatencyMs float64
}

// NewSLOEvaluator creates an evaluator against the given metrics endpoint.
func NewSLOEvaluator(endpoint string, maxErrorRate, maxP95LatencyMs float64) *SLOEvaluator {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &SLOEvaluator{
		client:          client,
		endpoint:        endpoint,
		maxErrorRate:    maxErrorRate,
		maxP95LatencyMs: maxP95LatencyMs,
	}
}

type sloSample struct {
	ErrorRate    float64 `json:"errorRate"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
}

// Evaluate fetches the current SLO sample for the slot and compares it
// against the configured ceilings.
func (e *SLOEvaluator) Evaluate(ctx context.Context, env config.Environment, target model.Color) (Health, error) {
	var sample sloSample
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("environment", env.Name).
		SetQueryParam("slot", string(target)).
		SetResult(&sample).
		Get(e.endpoint)

	if err != nil {
		return Health{}, fmt.Errorf("failed to fetch SLO sample: %w", err)
	}
	if !resp.IsSuccess() {
		return Health{}, fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode())
	}

	if sample.ErrorRate > e.maxErrorRate {
		return Health{
			Healthy: false,
			Reason:  fmt.Sprintf("error rate %.4f above ceiling %.4f", sample.ErrorRate, e.maxErrorRate),
		}, nil
	}
	if sample.P95LatencyMs > e.maxP95LatencyMs {
		return Health{
			Healthy: false,
			Reason:  fmt.Sprintf("p95 latency %.1fms above ceiling %.1fms", sample.P95LatencyMs, e.maxP95LatencyMs),
		}, nil
	}
	return Health{Healthy: true}, nil
}

// Chain combines evaluators; the slot is healthy only when every evaluator
// agrees.
type Chain []Evaluator

// Evaluate runs each evaluator in order, stopping at the first unhealthy
// verdict or error.
func (c Chain) Evaluate(ctx context.Context, env config.Environment, target model.Color) (Health, error) {
	for _, evaluator := range c {
		health, err := evaluator.Evaluate(ctx, env, target)
		if err != nil {
			return Health{}, err
		}
		if !health.Healthy {
			return health, nil
		}
	}
	return Health{Healthy: true}, nil
}
