package model

// GateStatus is the verdict reported by one external scanner.
type GateStatus string

const (
	GateStatusPassed  GateStatus = "PASSED"
	GateStatusFailed  GateStatus = "FAILED"
	GateStatusSkipped GateStatus = "SKIPPED"
)

// Severity buckets for scanner findings.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// QualityGateResult is reported once per configured scanner per run.
type QualityGateResult struct {
	ToolName           string
	Status             GateStatus
	FindingsBySeverity map[Severity]int
}
