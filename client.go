package authcache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Request is one authorization question for the remote authority.
// It is also the wire format of the outbound POST body.
type Request struct {
	Access     string `json:"access"`
	Username   string `json:"username"`
	InternalID string `json:"patient-id"`
	ExternalID string `json:"patient-eid"`
}

// Client asks a remote authority for authorization decisions.
//
// The authority answers 200 for granted and 403 for denied; any other
// status, as well as any transport failure, is an Unknown decision that
// the caller should resolve with its own fallback policy.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check sends one authorization request and interprets the response.
// It returns the decision together with the caching directive computed
// from the response headers. Errors are absorbed into Unknown and logged;
// Unknown always carries DoNotStore and must not touch the cache.
func (c *Client) Check(ctx context.Context, request Request) (Decision, Directive) {
	body, err := json.Marshal(request)
	if err != nil {
		log.Warn().Err(err).Msg("Could not serialize authorization request")
		return Unknown, Directive{Kind: DoNotStore}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("Could not create authorization request")
		return Unknown, Directive{Kind: DoNotStore}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to communicate with the authorization server")
		return Unknown, Directive{Kind: DoNotStore}
	}
	defer closeResponse(res)

	switch res.StatusCode {
	case http.StatusOK:
		return Granted, directiveFromHeaders(res.Header, time.Now())
	case http.StatusForbidden:
		return Denied, directiveFromHeaders(res.Header, time.Now())
	default:
		log.Debug().Int("http-status", res.StatusCode).Msg("Indeterminate response from authorization server")
		return Unknown, Directive{Kind: DoNotStore}
	}
}

// closeResponse releases the response body.
// A close failure must never mask the decision already computed,
// so it is only logged.
func closeResponse(res *http.Response) {
	if err := res.Body.Close(); err != nil {
		log.Debug().Err(err).Msg("Error while closing HTTP response")
	}
}
