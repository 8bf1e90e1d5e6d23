package canary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

func workloadScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("Failed to build scheme: %v", err)
	}
	return scheme
}

func slotEnv() config.Environment {
	return config.Environment{
		Name:    "production",
		Cluster: model.ClusterBinding{ClusterID: "prod.euw1", NamespacePrefix: "checkout-prod"},
	}
}

func TestWorkloadEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		status  appsv1.DeploymentStatus
		healthy bool
	}{
		{
			name: "all replicas ready",
			status: appsv1.DeploymentStatus{
				Replicas:      3,
				ReadyReplicas: 3,
			},
			healthy: true,
		},
		{
			name: "replicas not ready",
			status: appsv1.DeploymentStatus{
				Replicas:      3,
				ReadyReplicas: 1,
			},
			healthy: false,
		},
		{
			name: "progress deadline exceeded",
			status: appsv1.DeploymentStatus{
				Replicas:      3,
				ReadyReplicas: 3,
				Conditions: []appsv1.DeploymentCondition{
					{
						Type:   appsv1.DeploymentProgressing,
						Status: corev1.ConditionFalse,
						Reason: "ProgressDeadlineExceeded",
					},
				},
			},
			healthy: false,
		},
		{
			name: "replica failure",
			status: appsv1.DeploymentStatus{
				Replicas:      3,
				ReadyReplicas: 3,
				Conditions: []appsv1.DeploymentCondition{
					{
						Type:   appsv1.DeploymentReplicaFailure,
						Status: corev1.ConditionTrue,
					},
				},
			},
			healthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workload := &appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "checkout",
					Namespace: "checkout-prod-green",
				},
				Status: tt.status,
			}
			c := fake.NewClientBuilder().
				WithScheme(workloadScheme(t)).
				WithObjects(workload).
				Build()

			evaluator := NewWorkloadEvaluator(c, "checkout")
			health, err := evaluator.Evaluate(context.Background(), slotEnv(), model.ColorGreen)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if health.Healthy != tt.healthy {
				t.Errorf("Expected healthy=%v, got %v (%s)", tt.healthy, health.Healthy, health.Reason)
			}
		})
	}
}

func TestWorkloadEvaluator_MissingWorkload(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(workloadScheme(t)).Build()
	evaluator := NewWorkloadEvaluator(c, "checkout")

	_, err := evaluator.Evaluate(context.Background(), slotEnv(), model.ColorGreen)
	if err == nil {
		t.Fatal("Expected error when the slot workload does not exist")
	}
}

func TestSLOEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		healthy bool
	}{
		{
			name:    "within ceilings",
			body:    `{"errorRate":0.001,"p95LatencyMs":120}`,
			healthy: true,
		},
		{
			name:    "error rate above ceiling",
			body:    `{"errorRate":0.12,"p95LatencyMs":120}`,
			healthy: false,
		},
		{
			name:    "latency above ceiling",
			body:    `{"errorRate":0.001,"p95LatencyMs":900}`,
			healthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("environment") != "production" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			evaluator := NewSLOEvaluator(server.URL, 0.01, 500)
			health, err := evaluator.Evaluate(context.Background(), slotEnv(), model.ColorGreen)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if health.Healthy != tt.healthy {
				t.Errorf("Expected healthy=%v, got %v (%s)", tt.healthy, health.Healthy, health.Reason)
			}
		})
	}
}
