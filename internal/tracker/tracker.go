// Package tracker is the issue-tracker client: it resolves execution
// tickets to test ids and posts per-test status back.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// Resolver maps an execution ticket to the test ids it requests.
type Resolver interface {
	ResolveExecutionTicket(ctx context.Context, id string) ([]string, error)
}

// StatusUpdater records the outcome of one test on its execution ticket.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, ticket, testID string, status model.TestStatus, artifact string) error
}

// Config configures HTTPClient.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPClient talks to the tracker's REST API. Transient failures (connection
// errors, 429, 5xx) are retried with backoff.
type HTTPClient struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a tracker client.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	logger = logging.Component(logger, "tracker")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = logger
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  rc,
		logger:  logger,
	}
}

type testsResponse struct {
	Tests []string `json:"tests"`
}

// ResolveExecutionTicket returns the test ids requested by ticket id.
func (c *HTTPClient) ResolveExecutionTicket(ctx context.Context, id string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/executions/%s/tests", url.PathEscape(id))
	var out testsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("resolve execution ticket %s: %w", id, err)
	}
	return out.Tests, nil
}

type statusRequest struct {
	TestID   string           `json:"test_id"`
	Status   model.TestStatus `json:"status"`
	Artifact string           `json:"artifact,omitempty"`
}

// UpdateStatus posts the outcome of testID to ticket.
func (c *HTTPClient) UpdateStatus(ctx context.Context, ticket, testID string, status model.TestStatus, artifact string) error {
	path := fmt.Sprintf("/api/v1/executions/%s/results", url.PathEscape(ticket))
	body := statusRequest{TestID: testID, Status: status, Artifact: artifact}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("update status %s/%s: %w", ticket, testID, err)
	}
	c.logger.Debug("status updated", "ticket", ticket, "test_id", testID, "status", status)
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var raw any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		raw = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
