package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/me/testfleet/pkg/model"
)

// Client calls a reporting endpoint. It is constructed explicitly and passed
// to whoever reports results.
type Client struct {
	url        string
	httpClient *http.Client
	prefix     string
	seq        atomic.Uint64
}

// NewClient creates a Client for the endpoint at addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		url:        strings.TrimRight(base, "/") + "/rpc",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     uuid.NewString()[:8],
	}
}

func (c *Client) nextID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.seq.Add(1))
}

// Call invokes method with positional params. A fault from the endpoint is
// returned as a *Fault.
func (c *Client) Call(ctx context.Context, method string, params ...any) (*Response, error) {
	if params == nil {
		params = []any{}
	}
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal param: %w", method, err)
		}
		raw = append(raw, b)
	}
	body, err := json.Marshal(Request{ID: c.nextID(), Method: method, Version: "1.1", Params: raw})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if rpcResp.Error != nil {
		return &rpcResp, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	return &rpcResp, nil
}

// TestFinished reports one completed test.
func (c *Client) TestFinished(ctx context.Context, res model.TestResult) error {
	_, err := c.Call(ctx, MethodTestFinished, res)
	return err
}

// Health checks the endpoint's /health route.
func (c *Client) Health(ctx context.Context) error {
	url := strings.TrimSuffix(c.url, "/rpc") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: HTTP %d", resp.StatusCode)
	}
	return nil
}
