package approval

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// GroupMembership resolves whether a principal belongs to an authorized
// approval group. The identity provider is an external collaborator; only
// this lookup is consumed.
type GroupMembership interface {
	IsMemberOf(ctx context.Context, principal, group string) (bool, error)
}

// IdentityClient queries the identity provider over HTTP.
type IdentityClient struct {
	client   *resty.Client
	endpoint string
}

// NewIdentityClient creates an identity provider client for the given base
// endpoint (e.g. https://identity.internal/v1).
func NewIdentityClient(endpoint string) *IdentityClient {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &IdentityClient{
		client:   client,
		endpoint: endpoint,
	}
}

type membershipResponse struct {
	Member bool `json:"member"`
}

// IsMemberOf checks group membership for a principal.
func (c *IdentityClient) IsMemberOf(ctx context.Context, principal, group string) (bool, error) {
	logger := log.FromContext(ctx)

	var result membershipResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("group", group).
		SetQueryParam("principal", principal).
		SetResult(&result).
		Get(c.endpoint + "/groups/{group}/membership")

	if err != nil {
		return false, fmt.Errorf("identity lookup failed: %w", err)
	}
	if !resp.IsSuccess() {
		logger.Error(nil, "Identity provider returned error",
			"statusCode", resp.StatusCode(),
			"group", group,
		)
		return false, fmt.Errorf("identity provider returned status %d", resp.StatusCode())
	}

	return result.Member, nil
}
