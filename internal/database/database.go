package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evslots/internal/database/migrations"
	"evslots/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// DB represents the database connection.
type DB struct {
	*sql.DB
	Queries
	path   string
	logger *zerolog.Logger
}

var ErrConcurrentModification = errors.New("concurrent modification")

// timeLayout keeps stored instants lexically ordered so range predicates
// can compare them as text.
const timeLayout = "2006-01-02T15:04:05Z"

// NewDB opens the SQLite database at path and applies pending migrations.
// Write transactions take the database lock up front (BEGIN IMMEDIATE), so
// a read-count-then-insert inside one transaction is serialized against
// every other writer. busyTimeout bounds how long a writer waits for it.
func NewDB(path string, busyTimeout time.Duration, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, Queries: Queries{q: db}, path: path, logger: logger}
	if err := instance.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies embedded goose migrations.
func (db *DB) Migrate() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{db.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.Up(db.DB, ".")
}

// Version returns the applied schema version.
func (db *DB) Version() (int64, error) {
	return goose.GetDBVersion(db.DB)
}

// Tx is a write transaction exposing the same queries as DB.
type Tx struct {
	Queries
	tx *sql.Tx
}

// WithTx runs fn inside a write transaction and commits when fn returns nil.
// A lock that cannot be acquired within the busy timeout is reported as
// domain.ErrConflict.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{Queries: Queries{q: sqlTx}, tx: sqlTx}); err != nil {
		return mapBusy(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapBusy(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func mapBusy(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: database is busy, try again: %v", domain.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement; it runs on either the pool or a transaction.
type Queries struct {
	q querier
}

func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Str("component", "migrations").Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Str("component", "migrations").Msgf(format, v...)
}
