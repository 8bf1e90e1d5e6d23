package model

// TriggerType identifies how a deployment request entered the pipeline.
type TriggerType string

const (
	TriggerPush        TriggerType = "push"
	TriggerPullRequest TriggerType = "pull_request"
	TriggerManual      TriggerType = "manual"
)

// EnvironmentAuto asks the resolver to pick the target environment from the ref.
const EnvironmentAuto = "auto"

// DeploymentRequest is created once per pipeline invocation and never mutated.
type DeploymentRequest struct {
	Application          string
	Ref                  string
	Trigger              TriggerType
	Actor                string
	RequestedEnvironment string
	OverrideValidation   bool
	ForceDeploy          bool
}

// ExplicitEnvironment reports whether the request names a concrete environment
// instead of asking for automatic resolution.
func (r DeploymentRequest) ExplicitEnvironment() bool {
	return r.RequestedEnvironment != "" && r.RequestedEnvironment != EnvironmentAuto
}
