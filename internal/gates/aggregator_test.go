package gates

import (
	"errors"
	"testing"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

func scannerConfig() *config.Config {
	return &config.Config{
		Application: "checkout",
		Scanners: []config.ScannerConfig{
			{Name: "trivy", Enabled: true, Thresholds: map[model.Severity]int{
				model.SeverityCritical: 0,
				model.SeverityHigh:     5,
			}},
			{Name: "sonarqube", Enabled: true},
			{Name: "license-check", Enabled: false},
		},
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []model.QualityGateResult
		status  model.GateStatus
		failing []string
	}{
		{
			name:    "no results passes",
			results: nil,
			status:  model.GateStatusPassed,
		},
		{
			name: "all passed within thresholds",
			results: []model.QualityGateResult{
				{ToolName: "trivy", Status: model.GateStatusPassed, FindingsBySeverity: map[model.Severity]int{
					model.SeverityHigh: 3,
				}},
				{ToolName: "sonarqube", Status: model.GateStatusPassed},
			},
			status: model.GateStatusPassed,
		},
		{
			name: "explicit failure blocks",
			results: []model.QualityGateResult{
				{ToolName: "trivy", Status: model.GateStatusPassed},
				{ToolName: "sonarqube", Status: model.GateStatusFailed},
			},
			status:  model.GateStatusFailed,
			failing: []string{"sonarqube"},
		},
		{
			name: "threshold exceeded blocks despite passed status",
			results: []model.QualityGateResult{
				{ToolName: "trivy", Status: model.GateStatusPassed, FindingsBySeverity: map[model.Severity]int{
					model.SeverityCritical: 1,
				}},
			},
			status:  model.GateStatusFailed,
			failing: []string{"trivy"},
		},
		{
			name: "count at threshold passes",
			results: []model.QualityGateResult{
				{ToolName: "trivy", Status: model.GateStatusPassed, FindingsBySeverity: map[model.Severity]int{
					model.SeverityHigh: 5,
				}},
			},
			status: model.GateStatusPassed,
		},
		{
			name: "skipped scanner never blocks",
			results: []model.QualityGateResult{
				{ToolName: "sonarqube", Status: model.GateStatusSkipped},
			},
			status: model.GateStatusPassed,
		},
		{
			name: "disabled scanner failure is ignored",
			results: []model.QualityGateResult{
				{ToolName: "license-check", Status: model.GateStatusFailed},
			},
			status: model.GateStatusPassed,
		},
		{
			name: "breakdown is sorted by tool name",
			results: []model.QualityGateResult{
				{ToolName: "sonarqube", Status: model.GateStatusFailed},
				{ToolName: "trivy", Status: model.GateStatusFailed},
			},
			status:  model.GateStatusFailed,
			failing: []string{"sonarqube", "trivy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := Aggregate(scannerConfig(), tt.results)
			if verdict.Status != tt.status {
				t.Fatalf("Expected status %s, got %s", tt.status, verdict.Status)
			}
			if len(verdict.Breakdown) != len(tt.failing) {
				t.Fatalf("Expected %d failing gates, got %d", len(tt.failing), len(verdict.Breakdown))
			}
			for i, name := range tt.failing {
				if verdict.Breakdown[i].ToolName != name {
					t.Errorf("Expected breakdown[%d] to be %q, got %q", i, name, verdict.Breakdown[i].ToolName)
				}
			}
		})
	}
}

func TestVerdict_Failure(t *testing.T) {
	passed := Aggregate(scannerConfig(), nil)
	if err := passed.Failure(); err != nil {
		t.Errorf("Expected nil error for passed verdict, got: %v", err)
	}

	failed := Aggregate(scannerConfig(), []model.QualityGateResult{
		{ToolName: "sonarqube", Status: model.GateStatusFailed},
	})
	err := failed.Failure()
	if err == nil {
		t.Fatal("Expected error for failed verdict")
	}
	var gateErr *ScanGateFailure
	if !errors.As(err, &gateErr) {
		t.Fatalf("Expected ScanGateFailure, got: %T", err)
	}
	if len(gateErr.Breakdown) != 1 || gateErr.Breakdown[0].ToolName != "sonarqube" {
		t.Errorf("Expected breakdown naming sonarqube, got: %+v", gateErr.Breakdown)
	}
}
