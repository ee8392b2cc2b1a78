package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	root_path  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresBackend stores credentials in a PostgreSQL users table.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects to databaseURL and ensures the users table exists.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

// Create inserts the user. ON CONFLICT DO NOTHING makes the uniqueness check
// and the insert a single atomic statement.
func (b *PostgresBackend) Create(ctx context.Context, u *User) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_user", time.Since(start)) }()

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO users (username, password, root_path) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PasswordHash, u.RootPath)
	if err != nil {
		return fmt.Errorf("insert user %s: %v: %w", u.Username, err, errs.ErrIO)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user %s: %v: %w", u.Username, err, errs.ErrIO)
	}
	if n == 0 {
		return errs.New("register", u.Username, errs.ErrAlreadyExists)
	}
	return nil
}

// Get loads a user row.
func (b *PostgresBackend) Get(ctx context.Context, username string) (*User, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_user", time.Since(start)) }()

	var u User
	err := b.db.QueryRowContext(ctx,
		`SELECT username, password, root_path FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.PasswordHash, &u.RootPath)
	if err == sql.ErrNoRows {
		return nil, errs.New("lookup", username, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %v: %w", username, err, errs.ErrIO)
	}
	return &u, nil
}

// DB returns the underlying connection pool.
func (b *PostgresBackend) DB() *sql.DB { return b.db }

// UpdateConnectionMetrics publishes connection pool stats.
func (b *PostgresBackend) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(b.db.Stats().OpenConnections)
}

// Type returns "postgres".
func (b *PostgresBackend) Type() string { return "postgres" }

// Close closes the database connection.
func (b *PostgresBackend) Close() error { return b.db.Close() }
