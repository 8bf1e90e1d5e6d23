package approval

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// HTTPResponseSource polls the control plane's approval inbox. The
// notification collaborator (chat, web UI) writes responses there; this
// client only reads them.
type HTTPResponseSource struct {
	client      *resty.Client
	endpoint    string
	application string
}

// NewHTTPResponseSource creates a response source for the given base endpoint
// (e.g. http://controlplane:3000/v1).
func NewHTTPResponseSource(endpoint, application string) *HTTPResponseSource {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &HTTPResponseSource{
		client:      client,
		endpoint:    endpoint,
		application: application,
	}
}

type inboxResponse struct {
	Responses []struct {
		Principal string `json:"principal"`
		Approved  bool   `json:"approved"`
	} `json:"responses"`
}

// Poll returns all responses received so far for the environment's pending
// request.
func (s *HTTPResponseSource) Poll(ctx context.Context, environment string) ([]Response, error) {
	var result inboxResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("application", s.application).
		SetPathParam("environment", environment).
		SetResult(&result).
		Get(s.endpoint + "/approvals/{application}/{environment}/responses")

	if err != nil {
		return nil, fmt.Errorf("approval inbox poll failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("approval inbox returned status %d", resp.StatusCode())
	}

	responses := make([]Response, 0, len(result.Responses))
	for _, r := range result.Responses {
		responses = append(responses, Response{Principal: r.Principal, Approved: r.Approved})
	}
	return responses, nil
}
