package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/store"
	"github.com/me/testfleet/pkg/model"
)

func testServer(t *testing.T, readKeys, writeKeys []string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(config.LockServerConfig{ReadKeys: readKeys, WriteKeys: writeKeys}, st, logger)
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func do(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestHealth(t *testing.T) {
	srv := testServer(t, nil, nil)
	code, env := do(t, srv, "GET", "/api/v1/health", nil, nil)
	if code != http.StatusOK || env.Status != "ok" {
		t.Fatalf("code=%d status=%s", code, env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q", data.Status)
	}
}

func TestCreateSearchUpdate(t *testing.T) {
	srv := testServer(t, nil, nil)

	code, env := do(t, srv, "POST", "/api/v1/targets", model.CreateRequest{Record: model.TargetRecord{ID: "10.0.0.1"}}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create: code=%d error=%+v", code, env.Error)
	}

	code, env = do(t, srv, "PATCH", "/api/v1/targets", model.UpdateRequest{
		Filter: model.TargetQuery{ID: model.Ptr("10.0.0.1"), Occupied: model.Ptr(false)},
		Patch:  model.TargetPatch{Occupied: model.Ptr(true), Holder: model.Ptr("w1")},
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("update: code=%d error=%+v", code, env.Error)
	}
	var res model.UpdateResult
	json.Unmarshal(env.Data, &res)
	if res.Matched != 1 {
		t.Errorf("matched = %d, want 1", res.Matched)
	}

	code, env = do(t, srv, "POST", "/api/v1/targets/search", model.SearchRequest{
		Query: model.TargetQuery{Occupied: model.Ptr(true)},
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("search: code=%d", code)
	}
	var recs []model.TargetRecord
	json.Unmarshal(env.Data, &recs)
	if len(recs) != 1 || recs[0].Holder != "w1" {
		t.Errorf("search = %+v", recs)
	}
}

func TestSearch_Projection(t *testing.T) {
	srv := testServer(t, nil, nil)
	do(t, srv, "POST", "/api/v1/targets", model.CreateRequest{Record: model.TargetRecord{ID: "x"}}, nil)

	_, env := do(t, srv, "POST", "/api/v1/targets/search", model.SearchRequest{Projection: model.Projection{"occupied"}}, nil)
	var rows []map[string]any
	json.Unmarshal(env.Data, &rows)
	if len(rows) != 1 || len(rows[0]) != 1 || rows[0]["occupied"] != false {
		t.Errorf("projected rows = %v", rows)
	}

	code, _ := do(t, srv, "POST", "/api/v1/targets/search", model.SearchRequest{Projection: model.Projection{"password"}}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("unknown projection field: code=%d, want 400", code)
	}
}

func TestCreate_Conflict(t *testing.T) {
	srv := testServer(t, nil, nil)
	body := model.CreateRequest{Record: model.TargetRecord{ID: "x", Occupied: true, Holder: "w1"}}
	do(t, srv, "POST", "/api/v1/targets", body, nil)
	code, env := do(t, srv, "POST", "/api/v1/targets", body, nil)
	if code != http.StatusConflict || env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("code=%d error=%+v, want 409 CONFLICT", code, env.Error)
	}
}

func TestValidation(t *testing.T) {
	srv := testServer(t, nil, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"create without id", "POST", "/api/v1/targets", model.CreateRequest{}},
		{"occupied without holder", "POST", "/api/v1/targets", model.CreateRequest{Record: model.TargetRecord{ID: "x", Occupied: true}}},
		{"update without filter", "PATCH", "/api/v1/targets", model.UpdateRequest{Patch: model.TargetPatch{Occupied: model.Ptr(false)}}},
		{"update without patch", "PATCH", "/api/v1/targets", model.UpdateRequest{Filter: model.TargetQuery{ID: model.Ptr("x")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, srv, tt.method, tt.path, tt.body, nil)
			if code != http.StatusBadRequest || env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("code=%d error=%+v", code, env.Error)
			}
		})
	}
}

func TestAuthRoles(t *testing.T) {
	srv := testServer(t, []string{"r-key"}, []string{"w-key"})
	search := model.SearchRequest{}
	create := model.CreateRequest{Record: model.TargetRecord{ID: "x"}}

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		want    int
	}{
		{"search anonymous", "POST", "/api/v1/targets/search", search, nil, http.StatusUnauthorized},
		{"search bad key", "POST", "/api/v1/targets/search", search, map[string]string{"X-Read-Key": "nope"}, http.StatusUnauthorized},
		{"search read", "POST", "/api/v1/targets/search", search, map[string]string{"X-Read-Key": "r-key"}, http.StatusOK},
		{"search write", "POST", "/api/v1/targets/search", search, map[string]string{"X-Write-Key": "w-key"}, http.StatusOK},
		{"create read", "POST", "/api/v1/targets", create, map[string]string{"X-Read-Key": "r-key"}, http.StatusForbidden},
		{"create write", "POST", "/api/v1/targets", create, map[string]string{"X-Write-Key": "w-key"}, http.StatusCreated},
		{"write key in read header", "POST", "/api/v1/targets/search", search, map[string]string{"X-Read-Key": "w-key"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := do(t, srv, tt.method, tt.path, tt.body, tt.headers)
			if code != tt.want {
				t.Errorf("code = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestConcurrentConditionalUpdate(t *testing.T) {
	srv := testServer(t, nil, nil)
	do(t, srv, "POST", "/api/v1/targets", model.CreateRequest{Record: model.TargetRecord{ID: "x"}}, nil)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(model.UpdateRequest{
				Filter: model.TargetQuery{ID: model.Ptr("x"), Occupied: model.Ptr(false)},
				Patch:  model.TargetPatch{Occupied: model.Ptr(true), Holder: model.Ptr("w")},
			})
			req := httptest.NewRequest("PATCH", "/api/v1/targets", bytes.NewReader(body))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			var env envelope
			json.Unmarshal(w.Body.Bytes(), &env)
			var res model.UpdateResult
			json.Unmarshal(env.Data, &res)
			mu.Lock()
			matched += res.Matched
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if matched != 1 {
		t.Errorf("%d conditional updates matched, want 1", matched)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, nil, nil)
	do(t, srv, "POST", "/api/v1/targets/search", model.SearchRequest{}, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `testfleet_lockd_operations_total{op="search",result="ok"} 1`) {
		t.Errorf("metrics missing search counter:\n%s", w.Body.String())
	}
}
