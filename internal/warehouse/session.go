// Package warehouse holds the Snowflake session and the stage-and-load sequence.
//
// A Session owns one *sql.DB and one *sql.Conn checked out of it. The Conn plays
// the role of the cursor: every statement of a load runs on it, so session state
// (current warehouse, role, schema) is the same for all of them.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"snowflake-loader/internal/config"
)

// Cursor executes statements. *sql.Conn satisfies it.
type Cursor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Session is a live warehouse connection with a single cursor.
type Session struct {
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

// Opener returns a live Session. Open bound to a config is the production Opener.
type Opener func(ctx context.Context) (*Session, error)

// DSN builds the gosnowflake connection string. The password only travels in the
// returned DSN and is never logged.
func DSN(sf config.Snowflake, creds config.Credentials) (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   sf.Account,
		User:      creds.User,
		Password:  creds.Password,
		Warehouse: sf.Warehouse,
		Database:  sf.Database,
		Schema:    sf.Schema,
		Role:      sf.Role,
	})
}

// Open connects to Snowflake and checks out the session's cursor.
func Open(ctx context.Context, sf config.Snowflake, creds config.Credentials) (*Session, error) {
	dsn, err := DSN(sf, creds)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	return NewSession(ctx, db)
}

// NewSession takes ownership of db. db is closed if the session cannot be set up.
func NewSession(ctx context.Context, db *sql.DB) (*Session, error) {
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire cursor: %w", err)
	}

	return &Session{db: db, conn: conn}, nil
}

// Cursor is valid until Close.
func (s *Session) Cursor() Cursor {
	return s.conn
}

// Close releases the cursor and then the connection. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, fmt.Errorf("close cursor: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) Closed() bool {
	return s.closed
}

// WithSession opens a session, runs fn on its cursor and closes the session on
// every exit path, panics included. An error from fn takes precedence over an
// error from Close.
func WithSession(ctx context.Context, open Opener, fn func(Cursor) error) (err error) {
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(s.Cursor())
}
