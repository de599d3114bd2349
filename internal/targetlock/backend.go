// Package targetlock hands out exclusive ownership of test targets. The
// service is built from three store primitives (search, create and
// conditional update); the conditional update is the only atomic step.
package targetlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/testfleet/internal/store"
	"github.com/me/testfleet/pkg/model"
)

// ErrExists is returned by Backend.Create when the target is registered.
var ErrExists = errors.New("target already registered")

// Backend is a remote lock store.
type Backend interface {
	Search(ctx context.Context, q model.TargetQuery, proj model.Projection) ([]model.TargetRecord, error)
	Create(ctx context.Context, rec model.TargetRecord) error
	// Update applies patch to the records matching filter atomically and
	// returns how many matched.
	Update(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error)
	// Ping checks that the store answers.
	Ping(ctx context.Context) error
}

// StoreBackend serves the primitives straight from a local store. The lock
// daemon and administrative commands with direct database access use it.
type StoreBackend struct {
	Store store.Store
}

func (b StoreBackend) Search(ctx context.Context, q model.TargetQuery, _ model.Projection) ([]model.TargetRecord, error) {
	recs, err := b.Store.SearchTargets(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]model.TargetRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out, nil
}

func (b StoreBackend) Create(ctx context.Context, rec model.TargetRecord) error {
	if err := b.Store.CreateTarget(ctx, &rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrExists
		}
		return fmt.Errorf("create: %w", err)
	}
	return nil
}

func (b StoreBackend) Ping(ctx context.Context) error {
	return b.Store.Ping(ctx)
}

func (b StoreBackend) Update(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error) {
	n, err := b.Store.UpdateTargets(ctx, filter, patch)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	return n, nil
}
