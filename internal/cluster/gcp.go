package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

const (
	gcpMetadataBase   = "http://metadata.google.internal/computeMetadata/v1"
	gcpMetadataFlavor = "Google"
)

// GCPProvider resolves cluster identity on GKE through the instance metadata
// server.
type GCPProvider struct {
	client      *http.Client
	metadataURL string
}

// NewGCPProvider creates a GCP provider against the well-known metadata host.
func NewGCPProvider(client *http.Client) *GCPProvider {
	return &GCPProvider{client: client, metadataURL: gcpMetadataBase}
}

// NewGCPProviderWithURL creates a GCP provider with a custom metadata URL (for testing)
func NewGCPProviderWithURL(client *http.Client, metadataURL string) *GCPProvider {
	return &GCPProvider{client: client, metadataURL: metadataURL}
}

func (p *GCPProvider) Name() CloudProvider {
	return ProviderGCP
}

// Detect probes the metadata server. GCP answers 200 with the
// Metadata-Flavor: Google header.
func (p *GCPProvider) Detect(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.metadataURL+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", gcpMetadataFlavor)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK &&
		resp.Header.Get("Metadata-Flavor") == gcpMetadataFlavor
}

// Resolve reads cluster name, project, and zone from instance metadata and
// builds the id gcp/<project-id>/<region>/<cluster-name>.
func (p *GCPProvider) Resolve(ctx context.Context) (*Identity, error) {
	clusterName, err := p.getMetadata(ctx, "/instance/attributes/cluster-name")
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster-name: %w", err)
	}
	projectID, err := p.getMetadata(ctx, "/project/project-id")
	if err != nil {
		return nil, fmt.Errorf("failed to get project-id: %w", err)
	}
	zone, err := p.getMetadata(ctx, "/instance/zone")
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}

	// Zone metadata arrives as projects/<project-number>/zones/<zone>.
	region := regionFromZone(path.Base(zone))

	return &Identity{
		ClusterID:   fmt.Sprintf("gcp/%s/%s/%s", projectID, region, clusterName),
		ClusterName: clusterName,
		Provider:    ProviderGCP,
		Region:      region,
	}, nil
}

func (p *GCPProvider) getMetadata(ctx context.Context, suffix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.metadataURL+suffix, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", gcpMetadataFlavor)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// regionFromZone strips the zone suffix (us-central1-a -> us-central1).
func regionFromZone(zone string) string {
	lastDash := strings.LastIndex(zone, "-")
	if lastDash == -1 {
		return zone
	}
	return zone[:lastDash]
}
