package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/reportdb"
	"github.com/me/testfleet/internal/tracker"
	"github.com/me/testfleet/pkg/model"
)

// EntryWriter persists one report row.
type EntryWriter interface {
	CreateEntry(ctx context.Context, e reportdb.Entry) error
}

// Recorder is the "test finished" handler: it updates the tracker ticket
// and then writes the report row. Either dependency may be nil.
type Recorder struct {
	tracker tracker.StatusUpdater
	db      EntryWriter
	logger  *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(updater tracker.StatusUpdater, db EntryWriter, logger *slog.Logger) *Recorder {
	return &Recorder{
		tracker: updater,
		db:      db,
		logger:  logging.Component(logger, "recorder"),
	}
}

// Handle implements Handler. It expects a single model.TestResult param.
func (r *Recorder) Handle(ctx context.Context, params []json.RawMessage) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%s: expected 1 param, got %d", MethodTestFinished, len(params))
	}
	var res model.TestResult
	if err := json.Unmarshal(params[0], &res); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", MethodTestFinished, err)
	}
	if err := r.Record(ctx, res); err != nil {
		return nil, err
	}
	return true, nil
}

// Record reports res to the tracker and the report database.
func (r *Recorder) Record(ctx context.Context, res model.TestResult) error {
	if res.TestID == "" {
		return fmt.Errorf("test_id is required")
	}
	if !res.Status.IsValid() {
		return fmt.Errorf("test %s: invalid status %q", res.TestID, res.Status)
	}

	if r.tracker != nil && res.Ticket != "" {
		if err := r.tracker.UpdateStatus(ctx, res.Ticket, res.TestID, res.Status, res.Artifact); err != nil {
			return fmt.Errorf("update tracker for %s: %w", res.TestID, err)
		}
	}
	if r.db != nil {
		if err := r.db.CreateEntry(ctx, reportdb.EntryFromResult(res)); err != nil {
			return fmt.Errorf("write report for %s: %w", res.TestID, err)
		}
	}
	r.logger.Info("test reported",
		"test_id", res.TestID,
		"ticket", res.Ticket,
		"status", res.Status,
		"target", res.Target,
	)
	return nil
}
