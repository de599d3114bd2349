package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: an in-memory database is per connection, and a single
	// writer keeps conditional updates free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.Component(logger, "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// whereClause renders q as a SQL condition with positional arguments.
func whereClause(q model.TargetQuery) (string, []any) {
	var conds []string
	var args []any
	if q.ID != nil {
		conds = append(conds, "id = ?")
		args = append(args, *q.ID)
	}
	if q.Occupied != nil {
		conds = append(conds, "occupied = ?")
		args = append(args, boolToInt(*q.Occupied))
	}
	if q.Holder != nil {
		conds = append(conds, "holder = ?")
		args = append(args, *q.Holder)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) SearchTargets(ctx context.Context, q model.TargetQuery) ([]*model.TargetRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "targets")

	where, args := whereClause(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occupied, holder, updated_at FROM targets`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TargetRecord
	for rows.Next() {
		rec, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*model.TargetRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "targets", "id", id)

	rec, err := scanTarget(s.db.QueryRowContext(ctx,
		`SELECT id, occupied, holder, updated_at FROM targets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) CreateTarget(ctx context.Context, rec *model.TargetRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "targets", "id", rec.ID)

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (id, occupied, holder, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, boolToInt(rec.Occupied), rec.Holder,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}
	rec.UpdatedAt = now
	return nil
}

// UpdateTargets runs a single UPDATE ... WHERE statement, so the filter check
// and the write are atomic. Two callers racing to flip occupied from false
// to true see exactly one match between them.
func (s *SQLiteStore) UpdateTargets(ctx context.Context, filter model.TargetQuery, patch model.TargetPatch) (int, error) {
	s.logger.Debug("sql", "op", "update", "table", "targets")

	where, whereArgs := whereClause(filter)
	if where == "" {
		return 0, ErrEmptyFilter
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.now().Format(time.RFC3339Nano)}
	if patch.Occupied != nil {
		sets = append(sets, "occupied = ?")
		args = append(args, boolToInt(*patch.Occupied))
	}
	if patch.Holder != nil {
		sets = append(sets, "holder = ?")
		args = append(args, *patch.Holder)
	}
	if len(sets) == 1 {
		return 0, fmt.Errorf("update patch sets no field")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET `+strings.Join(sets, ", ")+where,
		append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (*model.TargetRecord, error) {
	var rec model.TargetRecord
	var occupied int
	var updatedAt string
	if err := row.Scan(&rec.ID, &occupied, &rec.Holder, &updatedAt); err != nil {
		return nil, err
	}
	rec.Occupied = occupied != 0
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
