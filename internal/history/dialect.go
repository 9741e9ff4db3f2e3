package history

import (
	"fmt"
	"strings"
)

// Dialect hides the SQL differences between SQLite and PostgreSQL.
type Dialect interface {
	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder returns the parameter placeholder for a 1-indexed position.
	Placeholder(position int) string

	// ReturningClause returns the RETURNING suffix for INSERT statements, or
	// "" when the dialect does not need one.
	ReturningClause(column string) string

	// InitStatements run once after the connection opens.
	InitStatements() []string

	// IsDuplicateKeyError reports a unique constraint violation.
	IsDuplicateKeyError(err error) bool
}

// DialectType identifies a Dialect.
type DialectType string

const (
	DialectSQLite   DialectType = "sqlite"
	DialectPostgres DialectType = "postgres"
)

// NewDialect returns the Dialect for t; unknown types get SQLite.
func NewDialect(t DialectType) Dialect {
	switch t {
	case DialectPostgres:
		return &PostgresDialect{}
	default:
		return &SQLiteDialect{}
	}
}

// SQLiteDialect is the modernc.org/sqlite dialect.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(int) string { return "?" }

func (d *SQLiteDialect) ReturningClause(string) string { return "" }

func (d *SQLiteDialect) InitStatements() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
}

func (d *SQLiteDialect) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// PostgresDialect is the lib/pq dialect.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string { return "postgres" }

func (d *PostgresDialect) Placeholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

func (d *PostgresDialect) ReturningClause(column string) string {
	return " RETURNING " + column
}

func (d *PostgresDialect) InitStatements() []string {
	return []string{"SET TIME ZONE 'UTC'"}
}

// IsDuplicateKeyError matches SQLSTATE 23505 (unique_violation).
func (d *PostgresDialect) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint")
}
