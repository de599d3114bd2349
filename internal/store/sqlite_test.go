package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/me/testfleet/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := schemaVersion(context.Background(), st.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if _, err := st.db.ExecContext(ctx, "PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(ctx); err == nil {
		t.Fatal("expected error for a schema newer than the binary")
	}
}

func TestCreateAndGetTarget(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := &model.TargetRecord{ID: "10.0.0.1", Occupied: true, Holder: "worker-1"}
	if err := st.CreateTarget(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	got, err := st.GetTarget(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || !got.Occupied || got.Holder != "worker-1" {
		t.Errorf("got %+v", got)
	}
}

func TestGetTarget_NotFound(t *testing.T) {
	got, err := testStore(t).GetTarget(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestCreateTarget_Conflict(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateTarget(ctx, &model.TargetRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	err := st.CreateTarget(ctx, &model.TargetRecord{ID: "x", Occupied: true, Holder: "w"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	got, _ := st.GetTarget(ctx, "x")
	if got.Occupied {
		t.Error("conflicting create overwrote the record")
	}
}

func TestSearchTargets(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for _, rec := range []*model.TargetRecord{
		{ID: "b", Occupied: true, Holder: "w1"},
		{ID: "a"},
		{ID: "c", Occupied: true, Holder: "w2"},
	} {
		if err := st.CreateTarget(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query model.TargetQuery
		want  []string
	}{
		{"all", model.TargetQuery{}, []string{"a", "b", "c"}},
		{"by id", model.TargetQuery{ID: model.Ptr("b")}, []string{"b"}},
		{"free", model.TargetQuery{Occupied: model.Ptr(false)}, []string{"a"}},
		{"occupied", model.TargetQuery{Occupied: model.Ptr(true)}, []string{"b", "c"}},
		{"holder", model.TargetQuery{Holder: model.Ptr("w2")}, []string{"c"}},
		{"no match", model.TargetQuery{ID: model.Ptr("a"), Occupied: model.Ptr(true)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := st.SearchTargets(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestUpdateTargets_Conditional(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.CreateTarget(ctx, &model.TargetRecord{ID: "x"})

	lock := func(holder string) int {
		n, err := st.UpdateTargets(ctx,
			model.TargetQuery{ID: model.Ptr("x"), Occupied: model.Ptr(false)},
			model.TargetPatch{Occupied: model.Ptr(true), Holder: model.Ptr(holder)})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		return n
	}
	if n := lock("w1"); n != 1 {
		t.Fatalf("first lock matched %d, want 1", n)
	}
	if n := lock("w2"); n != 0 {
		t.Fatalf("second lock matched %d, want 0", n)
	}
	got, _ := st.GetTarget(ctx, "x")
	if got.Holder != "w1" {
		t.Errorf("holder = %q, want w1", got.Holder)
	}
}

func TestUpdateTargets_Rejects(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if _, err := st.UpdateTargets(ctx, model.TargetQuery{}, model.TargetPatch{Occupied: model.Ptr(false)}); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("empty filter: err = %v", err)
	}
	if _, err := st.UpdateTargets(ctx, model.TargetQuery{ID: model.Ptr("x")}, model.TargetPatch{}); err == nil {
		t.Error("empty patch accepted")
	}
}

func TestUpdateTargets_ConcurrentLock(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.CreateTarget(ctx, &model.TargetRecord{ID: "x"})

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := st.UpdateTargets(ctx,
				model.TargetQuery{ID: model.Ptr("x"), Occupied: model.Ptr(false)},
				model.TargetPatch{Occupied: model.Ptr(true), Holder: model.Ptr("w")})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			mu.Lock()
			winners += n
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("%d callers locked the target, want exactly 1", winners)
	}
}
