package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-sql/sqlexp"
	_ "github.com/microsoft/go-mssqldb"
)

// Advisory is a driver-reported diagnostic returned alongside a successful
// call. SQL Server delivers some failure conditions (notably permission
// denials) this way instead of raising an error.
type Advisory struct {
	Number  int32
	Message string
}

// StmtResult is the outcome of executing one statement inside a
// transaction.
type StmtResult struct {
	RowsAffected int64
	Advisories   []Advisory
}

// Conn is a live database connection scoped to a single request: acquired,
// used, and closed before the request's outcome is returned.
type Conn interface {
	Query(ctx context.Context, query string) (*sql.Rows, error)
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an open transaction on a Conn.
type Tx interface {
	Exec(ctx context.Context, stmt string) (StmtResult, error)
	Commit() error
	Rollback() error
}

// dbConn implements Conn over a dedicated database/sql connection.
type dbConn struct {
	db   *sql.DB
	conn *sql.Conn

	// messages is set for drivers that deliver server messages through
	// sqlexp.ReturnMessage (go-mssqldb does; the sqlite test backend does
	// not).
	messages bool
}

// openConnection establishes a single dedicated connection for the
// descriptor. It is the default dialer behind the retrying connector.
func openConnection(ctx context.Context, desc ConnectionDescriptor) (Conn, error) {
	db, err := sql.Open(desc.Driver, desc.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	connCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	conn, err := db.Conn(connCtx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := conn.PingContext(connCtx); err != nil {
		conn.Close()
		db.Close()
		return nil, err
	}

	return &dbConn{db: db, conn: conn, messages: driverReturnsMessages(desc.Driver)}, nil
}

func driverReturnsMessages(driver string) bool {
	return driver == "sqlserver" || driver == "mssql"
}

func (c *dbConn) Query(ctx context.Context, query string) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query)
}

func (c *dbConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &dbTx{tx: tx, messages: c.messages}, nil
}

func (c *dbConn) Close() error {
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

type dbTx struct {
	tx       *sql.Tx
	messages bool
}

func (t *dbTx) Commit() error   { return t.tx.Commit() }
func (t *dbTx) Rollback() error { return t.tx.Rollback() }

// Exec runs one statement, draining any result set it produces. When the
// driver supports it, server messages are collected through the sqlexp
// message loop so advisory-only failures are visible to the caller.
func (t *dbTx) Exec(ctx context.Context, stmt string) (StmtResult, error) {
	if !t.messages {
		res, err := t.tx.ExecContext(ctx, stmt)
		if err != nil {
			return StmtResult{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return StmtResult{RowsAffected: affected}, nil
	}
	return t.execWithMessages(ctx, stmt)
}

func (t *dbTx) execWithMessages(ctx context.Context, stmt string) (StmtResult, error) {
	retmsg := &sqlexp.ReturnMessage{}
	rows, err := t.tx.QueryContext(ctx, stmt, retmsg)
	if err != nil {
		return StmtResult{}, err
	}
	defer rows.Close()

	var result StmtResult
	var execErr error
	for active := true; active; {
		switch m := retmsg.Message(ctx).(type) {
		case sqlexp.MsgNotice:
			result.Advisories = append(result.Advisories, advisoryFromNotice(m))
		case sqlexp.MsgNext:
			// Drain the pending result set; the statement's rows are not
			// part of a transaction block's outcome.
			for rows.Next() {
			}
		case sqlexp.MsgNextResultSet:
			active = rows.NextResultSet()
		case sqlexp.MsgRowsAffected:
			result.RowsAffected = m.Count
		case sqlexp.MsgError:
			execErr = m.Error
		}
	}
	if execErr != nil {
		return StmtResult{}, execErr
	}
	return result, nil
}

func advisoryFromNotice(m sqlexp.MsgNotice) Advisory {
	a := Advisory{Message: fmt.Sprint(m.Message)}
	// go-mssqldb notices carry the server error number.
	if n, ok := m.Message.(interface{ SQLErrorNumber() int32 }); ok {
		a.Number = n.SQLErrorNumber()
	}
	return a
}
