package model

// EnvironmentUnknown is the target when no matching rule exists for a ref.
const EnvironmentUnknown = "unknown"

// ClusterBinding identifies the cluster and resource scope an environment
// deploys into.
type ClusterBinding struct {
	ClusterID       string `yaml:"clusterId"`
	NamespacePrefix string `yaml:"namespacePrefix"`
}

// IsZero reports whether no binding is configured.
func (b ClusterBinding) IsZero() bool {
	return b.ClusterID == "" && b.NamespacePrefix == ""
}

// EnvironmentDecision is derived deterministically from a DeploymentRequest
// and never mutated afterwards.
type EnvironmentDecision struct {
	TargetEnvironment string
	ShouldDeploy      bool
	ClusterBinding    ClusterBinding
	Protected         bool
}

// NoDeploy is the decision for refs that match no environment.
func NoDeploy() EnvironmentDecision {
	return EnvironmentDecision{
		TargetEnvironment: EnvironmentUnknown,
		ShouldDeploy:      false,
	}
}
