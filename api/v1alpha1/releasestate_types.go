/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ReleaseStateSpec defines the desired state of ReleaseState
type ReleaseStateSpec struct {
	// Application is the application this release state belongs to
	// +required
	Application string `json:"application"`

	// Environment is the deployment environment (e.g. dev, ppr, prod)
	// +required
	Environment string `json:"environment"`

	// ActiveColor is the slot currently serving non-canary traffic
	// +required
	ActiveColor string `json:"activeColor"`

	// ActiveImage is the image reference served by the active slot
	// +optional
	ActiveImage string `json:"activeImage,omitempty"`

	// StandbyImage is the image reference deployed into the standby slot
	// +optional
	StandbyImage string `json:"standbyImage,omitempty"`

	// CanaryWeight is the percentage of live traffic routed to the standby
	// slot during a ramp
	// +optional
	CanaryWeight int `json:"canaryWeight,omitempty"`

	// CanaryStatus is the lifecycle state of the current ramp
	// +optional
	CanaryStatus string `json:"canaryStatus,omitempty"`

	// LastPromotedAt is the timestamp of the most recent promotion
	// +optional
	LastPromotedAt metav1.Time `json:"lastPromotedAt,omitempty"`

	// StandbyRetireAt is when the superseded slot may be torn down
	// +optional
	StandbyRetireAt metav1.Time `json:"standbyRetireAt,omitempty"`
}

// +kubebuilder:object:root=true

// ReleaseState is the Schema for the releasestates API
// This resource is the authoritative record of blue/green slot state per
// (application, environment) pair; isolated pipeline stages share no process
// memory and read promotion state from here
type ReleaseState struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// spec defines the desired state of ReleaseState
	// +required
	Spec ReleaseStateSpec `json:"spec"`
}

// +kubebuilder:object:root=true

// ReleaseStateList contains a list of ReleaseState
type ReleaseStateList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []ReleaseState `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ReleaseState{}, &ReleaseStateList{})
}
