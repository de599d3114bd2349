// Package reportdb stores one row per reported test result. PostgreSQL is
// used for postgres:// DSNs and SQLite for everything else.
package reportdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one report row.
type Entry struct {
	ID         string           `json:"id"`
	TestID     string           `json:"test_id"`
	Ticket     string           `json:"ticket"`
	Status     model.TestStatus `json:"status"`
	Artifact   string           `json:"artifact"`
	Target     string           `json:"target"`
	Build      string           `json:"build"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// EntryFromResult converts a reported result into a row.
func EntryFromResult(res model.TestResult) Entry {
	return Entry{
		TestID:    res.TestID,
		Ticket:    res.Ticket,
		Status:    res.Status,
		Artifact:  res.Artifact,
		Target:    res.Target,
		Build:     res.Build,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
}

// DB is the report database.
type DB struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger
	now      func() time.Time
}

// Open connects to dsn. Use ":memory:" for an in-memory SQLite database.
func Open(dsn string, logger *slog.Logger) (*DB, error) {
	driver := "sqlite"
	pg := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	if pg {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s report db: %w", driver, err)
	}
	if !pg {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma busy_timeout: %w", err)
		}
	}
	return &DB{
		db:       db,
		postgres: pg,
		logger:   logging.Component(logger, "reportdb"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS test_reports (
		id          TEXT PRIMARY KEY,
		test_id     TEXT NOT NULL,
		ticket      TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		artifact    TEXT NOT NULL DEFAULT '',
		target      TEXT NOT NULL DEFAULT '',
		build       TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_reports_build ON test_reports(build)`,
	`CREATE INDEX IF NOT EXISTS idx_test_reports_test ON test_reports(test_id)`,
}

// Migrate creates the report tables.
func (d *DB) Migrate(ctx context.Context) error {
	d.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateEntry inserts e, filling ID and RecordedAt when unset.
func (d *DB) CreateEntry(ctx context.Context, e Entry) error {
	if e.TestID == "" {
		return fmt.Errorf("create entry: test_id is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = d.now()
	}
	var started string
	if !e.StartedAt.IsZero() {
		started = e.StartedAt.UTC().Format(timeLayout)
	}

	d.logger.Debug("sql", "op", "insert", "table", "test_reports", "test_id", e.TestID)
	_, err := d.db.ExecContext(ctx, d.rebind(`INSERT INTO test_reports
		(id, test_id, ticket, status, artifact, target, build, started_at, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TestID, e.Ticket, string(e.Status), e.Artifact, e.Target, e.Build,
		started, e.Duration.Milliseconds(), e.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", e.TestID, err)
	}
	return nil
}

// ListByBuild returns the rows recorded for build, oldest first.
func (d *DB) ListByBuild(ctx context.Context, build string) ([]Entry, error) {
	d.logger.Debug("sql", "op", "select", "table", "test_reports", "build", build)
	rows, err := d.db.QueryContext(ctx, d.rebind(`SELECT
		id, test_id, ticket, status, artifact, target, build, started_at, duration_ms, recorded_at
		FROM test_reports WHERE build = ? ORDER BY recorded_at, id`), build)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			status              string
			started, recordedAt string
			durationMS          int64
		)
		if err := rows.Scan(&e.ID, &e.TestID, &e.Ticket, &status, &e.Artifact, &e.Target, &e.Build,
			&started, &durationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Status = model.TestStatus(status)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if started != "" {
			e.StartedAt, _ = time.Parse(timeLayout, started)
		}
		e.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
