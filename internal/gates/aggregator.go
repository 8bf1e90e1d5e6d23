// Package gates combines external scanner verdicts into one promotion signal.
package gates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/model"
)

// GateBreakdown explains one scanner's contribution to a failed verdict.
type GateBreakdown struct {
	ToolName string
	Status   model.GateStatus
	Reason   string
}

// ScanGateFailure blocks promotion and carries the per-gate breakdown for the
// requester. Recoverable by re-running the affected scan stage.
type ScanGateFailure struct {
	Breakdown []GateBreakdown
}

func (e *ScanGateFailure) Error() string {
	names := make([]string, 0, len(e.Breakdown))
	for _, b := range e.Breakdown {
		names = append(names, b.ToolName)
	}
	return fmt.Sprintf("quality gates failed: %s", strings.Join(names, ", "))
}

// Verdict is the aggregate outcome over all configured scanners.
type Verdict struct {
	Status    model.GateStatus
	Breakdown []GateBreakdown
}

// Aggregate combines scanner results into one verdict. It is total and
// side-effect free: PASSED iff every non-SKIPPED result is PASSED and no
// severity count exceeds its configured threshold. Scanners disabled by
// configuration are treated as SKIPPED regardless of their reported status.
func Aggregate(cfg *config.Config, results []model.QualityGateResult) Verdict {
	var failed []GateBreakdown

	for _, res := range results {
		sc, known := cfg.Scanner(res.ToolName)
		if known && !sc.Enabled {
			continue
		}
		if res.Status == model.GateStatusSkipped {
			continue
		}
		if res.Status == model.GateStatusFailed {
			failed = append(failed, GateBreakdown{
				ToolName: res.ToolName,
				Status:   model.GateStatusFailed,
				Reason:   "scanner reported failure",
			})
			continue
		}
		if reason, exceeded := exceedsThresholds(sc, res); exceeded {
			failed = append(failed, GateBreakdown{
				ToolName: res.ToolName,
				Status:   model.GateStatusFailed,
				Reason:   reason,
			})
		}
	}

	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].ToolName < failed[j].ToolName })
		return Verdict{Status: model.GateStatusFailed, Breakdown: failed}
	}
	return Verdict{Status: model.GateStatusPassed}
}

// Failure converts a failed verdict into a ScanGateFailure, or nil when the
// verdict passed.
func (v Verdict) Failure() error {
	if v.Status == model.GateStatusPassed {
		return nil
	}
	return &ScanGateFailure{Breakdown: v.Breakdown}
}

func exceedsThresholds(sc config.ScannerConfig, res model.QualityGateResult) (string, bool) {
	if len(sc.Thresholds) == 0 {
		return "", false
	}
	severities := make([]model.Severity, 0, len(sc.Thresholds))
	for sev := range sc.Thresholds {
		severities = append(severities, sev)
	}
	sort.Slice(severities, func(i, j int) bool { return severities[i] < severities[j] })

	for _, sev := range severities {
		limit := sc.Thresholds[sev]
		if count := res.FindingsBySeverity[sev]; count > limit {
			return fmt.Sprintf("%s findings %d exceed threshold %d", sev, count, limit), true
		}
	}
	return "", false
}
