// Package sqlclient runs parameterized queries against the operations
// database on behalf of sql steps. The engine depends only on the
// Runner interface; production wiring uses a pgx connection pool
package sqlclient

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type (
	// Runner executes one query and returns its shaped result
	Runner interface {
		Run(context.Context, string, []any) (*Result, error)
	}

	// Result is the engine-facing shape of a query outcome
	Result struct {
		Columns      []string `json:"columns,omitempty"`
		Rows         [][]any  `json:"rows,omitempty"`
		RowsAffected int64    `json:"rows_affected"`
	}

	// PgxRunner executes queries on a pgx connection pool
	PgxRunner struct {
		pool *pgxpool.Pool
	}
)

var ErrNoDatabase = errors.New("no database configured")

var _ Runner = (*PgxRunner)(nil)

// NewPgxRunner connects a pool to the given Postgres URL
func NewPgxRunner(ctx context.Context, databaseURL string) (*PgxRunner, error) {
	if databaseURL == "" {
		return nil, ErrNoDatabase
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PgxRunner{pool: pool}, nil
}

// Run executes the query. Row-returning statements produce Columns and
// Rows; other statements report RowsAffected only
func (r *PgxRunner) Run(
	ctx context.Context, query string, params []any,
) (*Result, error) {
	if isRowReturning(query) {
		return r.runQuery(ctx, query, params)
	}
	tag, err := r.pool.Exec(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return &Result{RowsAffected: tag.RowsAffected()}, nil
}

// Close releases the underlying pool
func (r *PgxRunner) Close() {
	r.pool.Close()
}

func (r *PgxRunner) runQuery(
	ctx context.Context, query string, params []any,
) (*Result, error) {
	rows, err := r.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &Result{
		Columns: columnNames(rows),
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowsAffected = int64(len(res.Rows))
	return res, nil
}

func columnNames(rows pgx.Rows) []string {
	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func isRowReturning(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return strings.HasPrefix(q, "select") ||
		strings.HasPrefix(q, "with") ||
		strings.Contains(q, "returning")
}
