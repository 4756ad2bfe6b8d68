package sqlcapture

import (
    "context"
    "database/sql"
    "fmt"

    // database/sql drivers for the supported dialects.
    _ "github.com/denisenkom/go-mssqldb"
    _ "github.com/go-sql-driver/mysql"
    _ "github.com/jackc/pgx/v5/stdlib"
    _ "github.com/mattn/go-sqlite3"
)

// Queryer represents a query executor.
type Queryer interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx represents a database transaction. It is compatible with *sql.Tx.
type Tx interface {
    Commit() error
    Rollback() error
    Queryer
}

// DB represents a database connection. Use NewDB to adapt a *sql.DB.
type DB interface {
    BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
    Queryer
}

// Open opens a connection pool for dialect and checks it is reachable.
func Open(ctx context.Context, dialect Dialect, url string) (*sql.DB, error) {
    db, err := sql.Open(dialect.DriverName(), url)
    if err != nil {
        return nil, fmt.Errorf("failed opening %s connection: %w", dialect, err)
    }
    if dialect == DialectSQLite {
        // every sqlite connection to :memory: is a database of its own
        db.SetMaxOpenConns(1)
    }
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("failed connecting to %s: %w", dialect, err)
    }
    return db, nil
}

func NewDB(db *sql.DB) DB {
    return &dbAdapter{DB: db}
}

// dbAdapter is a wrapper around a sql.DB that implements the DB interface.
type dbAdapter struct {
    DB *sql.DB
}

func (a *dbAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
    tx, err := a.DB.BeginTx(ctx, opts)
    if err != nil {
        return nil, err
    }
    return tx, nil
}

func (a *dbAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
    return a.DB.ExecContext(ctx, query, args...)
}

func (a *dbAdapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
    return a.DB.QueryContext(ctx, query, args...)
}

func (a *dbAdapter) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
    return a.DB.QueryRowContext(ctx, query, args...)
}
