package model

import "time"

// ApprovalDecision is the state of an approval record. NOT_REQUIRED and the
// three right-hand states are terminal; only PENDING accepts transitions.
type ApprovalDecision string

const (
	ApprovalNotRequired ApprovalDecision = "NOT_REQUIRED"
	ApprovalPending     ApprovalDecision = "PENDING"
	ApprovalApproved    ApprovalDecision = "APPROVED"
	ApprovalRejected    ApprovalDecision = "REJECTED"
	ApprovalExpired     ApprovalDecision = "EXPIRED"
)

// ApprovalRecord tracks human sign-off for a protected environment. It is
// mutated only by the approval gate and is terminal once decided.
type ApprovalRecord struct {
	Environment       string
	RequiredApprovals int
	GrantedApprovers  map[string]struct{}
	Decision          ApprovalDecision
	RequestedAt       time.Time
	DecidedAt         time.Time
}

// Terminal reports whether the record can no longer change.
func (r *ApprovalRecord) Terminal() bool {
	switch r.Decision {
	case ApprovalNotRequired, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

// Approvers returns the distinct principals that granted approval.
func (r *ApprovalRecord) Approvers() []string {
	out := make([]string, 0, len(r.GrantedApprovers))
	for p := range r.GrantedApprovers {
		out = append(out, p)
	}
	return out
}
