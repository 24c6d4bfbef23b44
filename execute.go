package main

import (
	"context"
	"database/sql"
	"fmt"
)

// OutcomeKind discriminates ExecutionOutcome.
type OutcomeKind int

const (
	// OutcomeRows carries fetched columns and rows from a read.
	OutcomeRows OutcomeKind = iota
	// OutcomeRowsAffected carries the driver-reported count from a write.
	OutcomeRowsAffected
	// OutcomeTransactionCommitted signals a completed transaction block.
	OutcomeTransactionCommitted
	// OutcomeError carries a classified failure.
	OutcomeError
)

// Outcome is the single result type every execution path converges on
// before serialization. On failure it carries the classified kind and a
// human-readable message; a raw driver error never escapes this layer.
type Outcome struct {
	Kind     OutcomeKind
	Columns  []string
	Rows     [][]any
	Affected int64
	ErrKind  ErrorKind
	Message  string
}

func classifiedOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeError, ErrKind: classifyError(err), Message: err.Error()}
}

// executeQuery drives a classified query against the connection and closes
// it on every path, including early error returns.
func executeQuery(ctx context.Context, conn Conn, q ClassifiedQuery) Outcome {
	defer conn.Close()

	switch q.Kind {
	case QueryRead:
		return executeRead(ctx, conn, q.Statements[0], 0)
	case QueryWrite:
		return executeWrite(ctx, conn, q.Statements[0])
	default:
		return executeTransactionBlock(ctx, conn, q.Statements)
	}
}

// executeRead runs a single SELECT and fetches all rows. maxRows of 0 means
// unlimited; the bounded preview used by resource reads passes a cap.
func executeRead(ctx context.Context, conn Conn, query string, maxRows int) Outcome {
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return classifiedOutcome(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return classifiedOutcome(err)
	}

	data, err := scanAllRows(rows, len(columns), maxRows)
	if err != nil {
		return classifiedOutcome(err)
	}

	return Outcome{Kind: OutcomeRows, Columns: columns, Rows: data}
}

func scanAllRows(rows *sql.Rows, columnCount, maxRows int) ([][]any, error) {
	var data [][]any
	for rows.Next() {
		if maxRows > 0 && len(data) >= maxRows {
			break
		}
		values := make([]any, columnCount)
		ptrs := make([]any, columnCount)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(data)+1, err)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

// executeWrite runs a single non-SELECT statement and commits it. A
// permission denial reported as an advisory message, not an error,
// overrides an otherwise successful outcome: the commit succeeded but the
// statement did nothing the caller intended.
func executeWrite(ctx context.Context, conn Conn, stmt string) Outcome {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return classifiedOutcome(err)
	}

	res, err := tx.Exec(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return classifiedOutcome(err)
	}
	if err := tx.Commit(); err != nil {
		return classifiedOutcome(err)
	}

	for _, a := range res.Advisories {
		if advisoryIndicatesPermissionDenial(a) {
			return Outcome{Kind: OutcomeError, ErrKind: ErrPermissionDenied, Message: a.Message}
		}
	}

	return Outcome{Kind: OutcomeRowsAffected, Affected: res.RowsAffected}
}

// executeTransactionBlock runs each split statement in order. The BEGIN
// TRANSACTION marker is a no-op (the transaction is opened implicitly
// before the first executable statement); the COMMIT marker triggers an
// explicit commit rather than being sent as SQL. Statements after a COMMIT
// open a fresh transaction. Any statement failure rolls the open
// transaction back, so partial writes are never visible.
func executeTransactionBlock(ctx context.Context, conn Conn, statements []string) Outcome {
	var tx Tx

	for _, stmt := range statements {
		if isBeginMarker(stmt) {
			continue
		}
		if isCommitMarker(stmt) {
			if tx == nil {
				continue
			}
			if err := tx.Commit(); err != nil {
				wrapped := &txError{stmt: stmt, err: err}
				return Outcome{Kind: OutcomeError, ErrKind: classifyError(wrapped), Message: wrapped.Error()}
			}
			tx = nil
			continue
		}

		if tx == nil {
			var err error
			tx, err = conn.Begin(ctx)
			if err != nil {
				return classifiedOutcome(err)
			}
		}

		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback()
			wrapped := &txError{stmt: stmt, err: err}
			return Outcome{Kind: OutcomeError, ErrKind: classifyError(wrapped), Message: wrapped.Error()}
		}
	}

	// A block without a trailing COMMIT marker is still committed; letting
	// the driver roll it back on close would turn a caller omission into
	// silent data loss.
	if tx != nil {
		if err := tx.Commit(); err != nil {
			wrapped := &txError{stmt: commitMarker, err: err}
			return Outcome{Kind: OutcomeError, ErrKind: classifyError(wrapped), Message: wrapped.Error()}
		}
	}

	return Outcome{Kind: OutcomeTransactionCommitted}
}
