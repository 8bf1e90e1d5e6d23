package canary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

// recordingRouter captures every weight routed during a ramp.
type recordingRouter struct {
	mu      sync.Mutex
	weights []int
}

func (r *recordingRouter) RouteCanary(_ context.Context, _ config.Environment, _ model.Color, weight int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights = append(r.weights, weight)
	return nil
}

func (r *recordingRouter) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.weights...)
}

// scriptedHealth returns one scripted result per evaluation, repeating the
// last entry once the script runs out.
type scriptedHealth struct {
	mu     sync.Mutex
	script []Health
	calls  int
}

func (h *scriptedHealth) Evaluate(context.Context, config.Environment, model.Color) (Health, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.calls
	if idx >= len(h.script) {
		idx = len(h.script) - 1
	}
	h.calls++
	return h.script[idx], nil
}

func rampEnv() config.Environment {
	return config.Environment{
		Name: "production",
		Canary: config.CanaryConfig{
			InitialWeight:    10,
			StepSize:         10,
			StepInterval:     config.Duration{Duration: time.Millisecond},
			FailureThreshold: 3,
		},
	}
}

func TestController_Run_Completes(t *testing.T) {
	router := &recordingRouter{}
	health := &scriptedHealth{script: []Health{{Healthy: true}}}
	c := NewController(router, health, nil)

	state, err := c.Run(context.Background(), rampEnv(), model.ColorGreen)
	if err != nil {
		t.Fatalf("Expected completed ramp, got: %v", err)
	}
	if state.Status != model.CanaryCompleted {
		t.Fatalf("Expected COMPLETED, got %s", state.Status)
	}
	if state.CurrentWeight != model.MaxCanaryWeight {
		t.Errorf("Expected final weight %d, got %d", model.MaxCanaryWeight, state.CurrentWeight)
	}

	weights := router.recorded()
	if len(weights) == 0 || weights[0] != 10 {
		t.Fatalf("Expected ramp to start at the initial weight, got %v", weights)
	}
	for i := 1; i < len(weights); i++ {
		if weights[i] < weights[i-1] {
			t.Fatalf("Expected monotonically non-decreasing weights, got %v", weights)
		}
		if weights[i]-weights[i-1] > 10 {
			t.Fatalf("Expected steps of at most the step size, got %v", weights)
		}
	}
	if weights[len(weights)-1] != model.MaxCanaryWeight {
		t.Errorf("Expected ramp to reach full weight, got %v", weights)
	}
}

func TestController_Run_AbortsAfterConsecutiveFailures(t *testing.T) {
	router := &recordingRouter{}
	// Healthy through 40%, then persistently unhealthy.
	health := &scriptedHealth{script: []Health{
		{Healthy: true},
		{Healthy: true},
		{Healthy: true},
		{Healthy: false, Reason: "error rate 12% exceeds ceiling"},
	}}
	c := NewController(router, health, nil)

	state, err := c.Run(context.Background(), rampEnv(), model.ColorGreen)

	var hcErr *HealthCheckFailure
	if !errors.As(err, &hcErr) {
		t.Fatalf("Expected HealthCheckFailure, got: %v", err)
	}
	if hcErr.ConsecutiveFailures != 3 {
		t.Errorf("Expected 3 consecutive failures, got %d", hcErr.ConsecutiveFailures)
	}
	if state.Status != model.CanaryAborted {
		t.Errorf("Expected ABORTED, got %s", state.Status)
	}
	if state.CurrentWeight != 0 {
		t.Errorf("Expected weight 0 after abort, got %d", state.CurrentWeight)
	}

	// The weight never increased past the point where health degraded.
	weights := router.recorded()
	if weights[len(weights)-1] != 40 {
		t.Errorf("Expected final routed weight 40 before abort, got %v", weights)
	}
}

func TestController_Run_RecoversFromTransientFailures(t *testing.T) {
	router := &recordingRouter{}
	// Two unhealthy ticks below the threshold, then healthy again.
	health := &scriptedHealth{script: []Health{
		{Healthy: true},
		{Healthy: false, Reason: "blip"},
		{Healthy: false, Reason: "blip"},
		{Healthy: true},
	}}
	c := NewController(router, health, nil)

	state, err := c.Run(context.Background(), rampEnv(), model.ColorGreen)
	if err != nil {
		t.Fatalf("Expected ramp to recover, got: %v", err)
	}
	if state.Status != model.CanaryCompleted {
		t.Errorf("Expected COMPLETED, got %s", state.Status)
	}
}

func TestController_Run_TakenOver(t *testing.T) {
	router := &recordingRouter{}
	health := &scriptedHealth{script: []Health{{Healthy: true}}}
	c := NewController(router, health, func(context.Context) bool { return true })

	state, err := c.Run(context.Background(), rampEnv(), model.ColorGreen)
	if !errors.Is(err, ErrRampTakenOver) {
		t.Fatalf("Expected ErrRampTakenOver, got: %v", err)
	}
	if state.Status != model.CanaryAborted {
		t.Errorf("Expected ABORTED, got %s", state.Status)
	}
	if state.CurrentWeight != 0 {
		t.Errorf("Expected weight 0, got %d", state.CurrentWeight)
	}
}

func TestController_Run_ContextCancelled(t *testing.T) {
	router := &recordingRouter{}
	health := &scriptedHealth{script: []Health{{Healthy: true}}}
	env := rampEnv()
	env.Canary.StepInterval = config.Duration{Duration: time.Hour}
	c := NewController(router, health, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := c.Run(ctx, env, model.ColorGreen)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if state.Status != model.CanaryPaused {
		t.Errorf("Expected PAUSED, got %s", state.Status)
	}
}

func TestEvaluatorChain(t *testing.T) {
	healthy := &scriptedHealth{script: []Health{{Healthy: true}}}
	unhealthy := &scriptedHealth{script: []Health{{Healthy: false, Reason: "p95 above ceiling"}}}

	chain := Chain{healthy, unhealthy}
	health, err := chain.Evaluate(context.Background(), rampEnv(), model.ColorGreen)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if health.Healthy {
		t.Error("Expected chain to fail when any evaluator fails")
	}
	if health.Reason != "p95 above ceiling" {
		t.Errorf("Expected failing evaluator's reason, got %q", health.Reason)
	}
}
