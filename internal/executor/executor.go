// Package executor runs the tests named by a ticket against a locked target.
package executor

import (
	"context"

	"github.com/me/testfleet/pkg/model"
)

// Request is one unit of execution: the tests of a ticket on one target.
type Request struct {
	Ticket    string
	TestIDs   []string
	Target    string
	Build     string
	BuildType string
	TestPlan  string
	Parallel  bool
}

// Executor runs tests and reports one result per test id, in request order.
type Executor interface {
	// Run returns the results gathered so far together with an error when
	// ctx ends before every test ran.
	Run(ctx context.Context, req Request) ([]model.TestResult, error)
}
