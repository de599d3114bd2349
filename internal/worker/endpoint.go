package worker

import (
	"context"
	"fmt"
	"net"

	"github.com/me/testfleet/internal/reporting"
)

// InProcessEndpoint serves the reporting endpoint from a goroutine of the
// worker itself instead of a child process.
type InProcessEndpoint struct {
	Server *reporting.Server
	Addr   string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start listens on Addr and serves in the background.
func (e *InProcessEndpoint) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.Addr, err)
	}
	e.Addr = ln.Addr().String()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		e.err = e.Server.ServeListener(sctx, ln)
		close(e.done)
	}()
	return nil
}

// Done is closed once the server has stopped serving.
func (e *InProcessEndpoint) Done() <-chan struct{} {
	return e.done
}

// Stop shuts the server down and waits for it.
func (e *InProcessEndpoint) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
