// Package contextapi implements the context resolver port over the HTTP API of
// an external codebase/mockup indexing service.
package contextapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/port/contextsource"
)

// Client talks to the indexing service.
//
//	GET  /v1/requests/{requestID}/context          -> clarify.Availability
//	POST /v1/projects/{projectID}/codebase/query   -> clarify.Response
//	POST /v1/requests/{requestID}/mockups/query    -> clarify.Response
//
// 404 on a query means the source has nothing for the question.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ contextsource.Resolver = (*Client)(nil)

// NewClient creates a client for baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// HasContext reports which sources exist for requestID.
func (c *Client) HasContext(ctx context.Context, requestID string) (clarify.Availability, error) {
	var a clarify.Availability
	found, err := c.do(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(requestID)+"/context", nil, &a)
	if err != nil {
		return clarify.Availability{}, fmt.Errorf("has context %s: %w", requestID, err)
	}
	if !found {
		return clarify.Availability{RequestID: requestID}, nil
	}
	return a, nil
}

// QueryCodebaseContext asks the indexed codebase of projectID.
func (c *Client) QueryCodebaseContext(ctx context.Context, projectID, question, searchQuery string) (*clarify.Response, error) {
	body := map[string]string{"question": question, "search_query": searchQuery}
	return c.query(ctx, "/v1/projects/"+url.PathEscape(projectID)+"/codebase/query", body)
}

// QueryMockupContext asks the mockups attached to requestID.
func (c *Client) QueryMockupContext(ctx context.Context, requestID, featureQuery string) (*clarify.Response, error) {
	body := map[string]string{"feature_query": featureQuery}
	return c.query(ctx, "/v1/requests/"+url.PathEscape(requestID)+"/mockups/query", body)
}

func (c *Client) query(ctx context.Context, path string, body any) (*clarify.Response, error) {
	var r clarify.Response
	found, err := c.do(ctx, http.MethodPost, path, body, &r)
	if err != nil {
		return nil, fmt.Errorf("context query %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	r.Confidence = clarify.Clamp(r.Confidence)
	return &r, nil
}

// do sends the request and decodes a 2xx body into out. It returns false
// without error on 404.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("context API error %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
