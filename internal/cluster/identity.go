// Package cluster resolves the identity of the cluster the deployer targets,
// used to stamp audit events when no explicit cluster id is configured.
package cluster

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CloudProvider identifies the detected cloud platform.
type CloudProvider string

const (
	ProviderUnknown CloudProvider = "unknown"
	ProviderGCP     CloudProvider = "gcp"
)

// Identity is the resolved cluster identification.
type Identity struct {
	ClusterID   string
	ClusterName string
	Provider    CloudProvider
	Region      string
}

// ErrNoProviderDetected is returned when no cloud provider can be detected.
var ErrNoProviderDetected = errors.New("no cloud provider detected")

// Provider resolves cluster identity on one cloud platform.
type Provider interface {
	Name() CloudProvider
	// Detect reports whether the process runs on this platform.
	Detect(ctx context.Context) bool
	// Resolve retrieves the identity from the platform metadata service.
	Resolve(ctx context.Context) (*Identity, error)
}

// Detector tries each known provider in order.
type Detector struct {
	providers []Provider
}

// NewDetector creates a detector over the default provider set.
func NewDetector(timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Detector{
		providers: []Provider{NewGCPProvider(httpClient)},
	}
}

// NewDetectorWithProviders creates a detector over an explicit provider list.
func NewDetectorWithProviders(providers ...Provider) *Detector {
	return &Detector{providers: providers}
}

// Resolve detects the platform and resolves the cluster identity.
func (d *Detector) Resolve(ctx context.Context) (*Identity, error) {
	for _, provider := range d.providers {
		if provider.Detect(ctx) {
			return provider.Resolve(ctx)
		}
	}
	return nil, ErrNoProviderDetected
}
