package history

import "strings"

// QueryBuilder rewrites queries written with ? placeholders for a Dialect.
type QueryBuilder struct {
	dialect Dialect
}

// NewQueryBuilder returns a builder for dialect.
func NewQueryBuilder(dialect Dialect) *QueryBuilder {
	return &QueryBuilder{dialect: dialect}
}

// Build converts ? placeholders to the dialect's form.
//
//	input:    "SELECT * FROM executions WHERE method = ? LIMIT ?"
//	SQLite:   unchanged
//	Postgres: "SELECT * FROM executions WHERE method = $1 LIMIT $2"
func (qb *QueryBuilder) Build(query string) string {
	if _, ok := qb.dialect.(*SQLiteDialect); ok {
		return query
	}

	var b strings.Builder
	position := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(qb.dialect.Placeholder(position))
			position++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// BuildWithReturning is Build plus the dialect's RETURNING clause.
func (qb *QueryBuilder) BuildWithReturning(query, column string) string {
	return qb.Build(query) + qb.dialect.ReturningClause(column)
}
