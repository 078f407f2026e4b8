// Package repository provides database helpers for transactions and typed
// query execution. Every helper records a client span through the global
// OpenTelemetry tracer provider.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/JaimeStill/mender/pkg/repository"

// Querier is implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor is implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner abstracts row scanning for use with query helpers.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc converts a Scanner into a typed value.
type ScanFunc[T any] func(Scanner) (T, error)

// WithTx runs fn inside a transaction and returns its result. The
// transaction commits when fn succeeds and rolls back otherwise.
func WithTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	ctx, span := start(ctx, "BEGIN")
	defer span.End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, record(span, err)
	}
	defer tx.Rollback()

	result, err := fn(tx)
	if err != nil {
		return zero, record(span, err)
	}

	if err := tx.Commit(); err != nil {
		return zero, record(span, fmt.Errorf("commit: %w", err))
	}
	return result, nil
}

// InTx is WithTx for work that produces no value.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	_, err := WithTx(ctx, db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, fn(tx)
	})
	return err
}

// QueryOne executes a query expected to return a single row.
func QueryOne[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) (T, error) {
	ctx, span := start(ctx, query)
	defer span.End()

	result, err := scan(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		var zero T
		return zero, record(span, err)
	}
	return result, nil
}

// QueryMany executes a query and scans every row. It returns an empty,
// non-nil slice when nothing matches.
func QueryMany[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) ([]T, error) {
	ctx, span := start(ctx, query)
	defer span.End()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, record(span, err)
	}
	defer rows.Close()

	results := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, record(span, err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, record(span, err)
	}

	span.SetAttributes(attribute.Int("db.response.returned_rows", len(results)))
	return results, nil
}

// Exec runs a statement and returns the number of rows it affected.
func Exec(ctx context.Context, e Executor, query string, args ...any) (int64, error) {
	ctx, span := start(ctx, query)
	defer span.End()

	result, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, record(span, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, record(span, err)
	}
	span.SetAttributes(attribute.Int64("db.response.affected_rows", n))
	return n, nil
}

// ExecExpectOne runs a statement that must affect at least one row. It
// returns sql.ErrNoRows when nothing was affected.
func ExecExpectOne(ctx context.Context, e Executor, query string, args ...any) error {
	n, err := Exec(ctx, e, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func start(ctx context.Context, query string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, operation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system.name", "postgresql"),
			attribute.String("db.query.text", query),
		),
	)
}

// operation is the leading SQL keyword, used as the span name.
func operation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "SQL"
	}
	return strings.ToUpper(fields[0])
}

func record(span trace.Span, err error) error {
	if err != sql.ErrNoRows {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
