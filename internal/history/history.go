// Package history journals Termux API conversations to SQLite or PostgreSQL
// so past results and failures can be listed later.
package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/xiaozhiapp/termuxbridge/internal/logger"
	"github.com/xiaozhiapp/termuxbridge/internal/termuxapi"
)

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("history entry not found")

	// ErrDuplicate is returned by Record when the id is already stored.
	ErrDuplicate = errors.New("history entry already exists")

	// ErrInvalidLimit is returned for a non-positive row limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Entry is one finished conversation.
type Entry struct {
	ID        string
	Method    string
	Host      string
	Port      int
	Request   string
	Result    string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether the conversation ended with an error.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// NewEntry builds an Entry from the outcome of running cmd against endpoint.
func NewEntry(cmd termuxapi.Command, endpoint termuxapi.Endpoint, result termuxapi.Object, err error, started time.Time, duration time.Duration) Entry {
	e := Entry{
		Host:      endpoint.Host,
		Port:      endpoint.Port,
		StartedAt: started,
		Duration:  duration,
	}
	if cmd != nil {
		e.Method = cmd.Method()
		if req, rerr := termuxapi.EncodeRequest(cmd); rerr == nil {
			e.Request = string(bytes.TrimSpace(req))
		}
	}
	if result != nil {
		if encoded, merr := json.Marshal(result); merr == nil {
			e.Result = string(encoded)
		}
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Store is an open journal.
type Store struct {
	db      *sql.DB
	dialect Dialect
	qb      *QueryBuilder
	log     *slog.Logger
}

// OpenSQLite opens or creates a SQLite journal at path.
func OpenSQLite(path string) (*Store, error) {
	return Open(DefaultConfig(path))
}

// Open connects to the configured backend and creates the schema.
func Open(cfg Config) (*Store, error) {
	dialect := NewDialect(DialectType(cfg.Driver))

	var dsn string
	switch DialectType(cfg.Driver) {
	case DialectPostgres:
		dsn = cfg.Postgres.ConnString()
	case DialectSQLite, "":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite journal path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = cfg.SQLitePath
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if p := cfg.Postgres; dialect.DriverName() == "postgres" {
		if p.MaxOpenConns > 0 {
			db.SetMaxOpenConns(p.MaxOpenConns)
		}
		if p.MaxIdleConns > 0 {
			db.SetMaxIdleConns(p.MaxIdleConns)
		}
		if p.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(p.ConnMaxLifetime)
		}
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize journal (%s): %w", stmt, err)
		}
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		qb:      NewQueryBuilder(dialect),
		log:     logger.Component("history").With("driver", dialect.DriverName()),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			request TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_method ON executions(method)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

const selectColumns = `SELECT id, method, host, port, request, result, error, started_at, duration_ms FROM executions`

// Record stores e and returns its id, generating one when e.ID is empty.
// A zero StartedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	query := s.qb.BuildWithReturning(
		`INSERT INTO executions (id, method, host, port, request, result, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, "id")
	args := []any{
		e.ID, e.Method, e.Host, e.Port, e.Request, e.Result, e.Error,
		e.StartedAt.UnixMilli(), e.Duration.Milliseconds(),
	}

	var err error
	if s.dialect.ReturningClause("id") != "" {
		var stored string
		err = s.db.QueryRowContext(ctx, query, args...).Scan(&stored)
		if err == nil {
			e.ID = stored
		}
	} else {
		_, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		if s.dialect.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		return "", fmt.Errorf("failed to record execution: %w", err)
	}

	s.log.Debug("Recorded execution", "id", e.ID, "method", e.Method, "failed", e.Failed())
	return e.ID, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	query := s.qb.Build(selectColumns + ` ORDER BY started_at DESC, id DESC LIMIT ?`)
	return s.query(ctx, query, limit)
}

// ByMethod returns up to limit entries for one api_method, newest first.
func (s *Store) ByMethod(ctx context.Context, method string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	query := s.qb.Build(selectColumns + ` WHERE method = ? ORDER BY started_at DESC, id DESC LIMIT ?`)
	return s.query(ctx, query, method, limit)
}

// Get returns the entry with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.query(ctx, s.qb.Build(selectColumns+` WHERE id = ?`), id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entries[0], nil
}

// Prune deletes entries started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.qb.Build(`DELETE FROM executions WHERE started_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	if n > 0 {
		s.log.Debug("Pruned executions", "count", n)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedMs, durationMs int64
		if err := rows.Scan(&e.ID, &e.Method, &e.Host, &e.Port, &e.Request, &e.Result, &e.Error, &startedMs, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}
