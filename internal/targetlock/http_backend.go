package targetlock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/me/testfleet/pkg/model"
)

// HTTPBackend talks to the lock store HTTP API (testfleet lockd). Both
// credentials are sent with every call. Transport failures are returned as
// errors and never retried here.
type HTTPBackend struct {
	baseURL    string
	readKey    string
	writeKey   string
	httpClient *http.Client
}

// NewHTTPBackend creates an HTTPBackend.
func NewHTTPBackend(baseURL, readKey, writeKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL:  strings.TrimRight(baseURL, "/"),
		readKey:  readKey,
		writeKey: writeKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (b *HTTPBackend) Search(ctx context.Context, q model.TargetQuery, proj model.Projection) ([]model.TargetRecord, error) {
	var recs []model.TargetRecord
	if _, err := b.do(ctx, http.MethodPost, "/api/v1/targets/search", model.SearchRequest{Query: q, Projection: proj}, &recs); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return recs, nil
}

func (b *HTTPBackend) Create(ctx context.Context, rec model.TargetRecord) error {
	status, err := b.do(ctx, http.MethodPost, "/api/v1/targets", model.CreateRequest{Record: rec}, nil)
	if model.HasCode(err, model.ErrConflict) || status == http.StatusConflict {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return nil
}

// Ping asks the lock store for its health report, which reads the store.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	if _, err := b.do(ctx, http.MethodGet, "/api/v1/health", nil, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

func (b *HTTPBackend) Update(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error) {
	var res model.UpdateResult
	if _, err := b.do(ctx, http.MethodPatch, "/api/v1/targets", model.UpdateRequest{Filter: filter, Patch: patch}, &res); err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	return res.Matched, nil
}

// envelope mirrors model.Response with a raw data payload.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *model.APIError `json:"error"`
}

// do sends body as JSON and decodes the envelope's data into out. It
// returns the HTTP status when a response was received.
func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.readKey != "" {
		req.Header.Set("X-Read-Key", b.readKey)
	}
	if b.writeKey != "" {
		req.Header.Set("X-Write-Key", b.writeKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if resp.StatusCode >= 400 || env.Error != nil {
		if env.Error != nil {
			return resp.StatusCode, fmt.Errorf("HTTP %d: %w", resp.StatusCode, env.Error)
		}
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, nil
}
