package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/testfleet/internal/logging"
)

// Handler serves one RPC method. params are the raw positional parameters.
type Handler interface {
	Handle(ctx context.Context, params []json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params []json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, params []json.RawMessage) (any, error) {
	return f(ctx, params)
}

const maxRequestBytes = 1 << 20

// Server dispatches JSON-RPC requests to registered handlers. A failing or
// panicking handler produces a fault for that call only.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	router   chi.Router
	logger   *slog.Logger
	metrics  *Metrics
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics records served calls in m.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a Server with no handlers registered.
func NewServer(logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		router:   chi.NewRouter(),
		logger:   logging.Component(logger, "reporting"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/rpc", s.handleRPC)
	return s
}

// Register binds method to h, replacing any previous handler.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *Server) handler(method string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeResponse(w, Response{Version: "1.1", Error: &Fault{Name: "JSONRPCError", Code: CodeParseError, Message: err.Error()}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn("malformed rpc request", "error", err)
		s.metrics.call("", "fault")
		s.writeResponse(w, Response{Version: "1.1", Error: &Fault{Name: "JSONRPCError", Code: CodeParseError, Message: "parse error: " + err.Error()}})
		return
	}
	if req.Method == "" {
		s.metrics.call("", "fault")
		s.writeResponse(w, Response{ID: req.ID, Version: "1.1", Error: &Fault{Name: "JSONRPCError", Code: CodeInvalidRequest, Message: "method is required"}})
		return
	}

	resp := Response{ID: req.ID, Version: "1.1"}
	result, fault := s.dispatch(r.Context(), req)
	if fault != nil {
		resp.Error = fault
		s.metrics.call(req.Method, "fault")
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Fault{Name: "JSONRPCError", Code: CodeServerError, Message: "encode result: " + err.Error()}
			s.metrics.call(req.Method, "fault")
		} else {
			resp.Result = raw
			s.metrics.call(req.Method, "ok")
		}
	}
	s.writeResponse(w, resp)
}

// dispatch runs the handler for req, turning errors and panics into faults.
func (s *Server) dispatch(ctx context.Context, req Request) (result any, fault *Fault) {
	h, ok := s.handler(req.Method)
	if !ok {
		return nil, &Fault{Name: "JSONRPCError", Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rpc handler panicked",
				"method", req.Method,
				"id", req.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			result = nil
			fault = &Fault{Name: "HandlerPanic", Code: CodeServerError, Message: fmt.Sprint(rec)}
		}
	}()

	start := time.Now()
	result, err := h.Handle(ctx, req.Params)
	if err != nil {
		s.logger.Error("rpc handler failed",
			"method", req.Method,
			"id", req.ID,
			"params", len(req.Params),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, &Fault{Name: "HandlerError", Code: CodeServerError, Message: err.Error()}
	}
	s.logger.Debug("rpc handled", "method", req.Method, "id", req.ID, "duration", time.Since(start))
	return result, nil
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode rpc response", "error", err)
	}
}

// Serve listens on addr and serves until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("reporting endpoint listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("reporting endpoint stopped")
	return nil
}
