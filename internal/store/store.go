package store

import (
	"context"
	"errors"

	"github.com/me/testfleet/pkg/model"
)

// ErrConflict is returned by CreateTarget when the id is already registered.
var ErrConflict = errors.New("target already exists")

// ErrEmptyFilter is returned by UpdateTargets when the filter selects
// every record.
var ErrEmptyFilter = errors.New("update filter must set at least one field")

// Store defines the persistence layer of the target lock service.
type Store interface {
	// SearchTargets returns the records matching q, ordered by id.
	SearchTargets(ctx context.Context, q model.TargetQuery) ([]*model.TargetRecord, error)
	// GetTarget returns the record for id, or nil when unknown.
	GetTarget(ctx context.Context, id string) (*model.TargetRecord, error)
	// CreateTarget registers a new record; ErrConflict if it exists.
	CreateTarget(ctx context.Context, rec *model.TargetRecord) error
	// UpdateTargets applies patch to every record matching filter in one
	// statement and returns how many records matched.
	UpdateTargets(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}
