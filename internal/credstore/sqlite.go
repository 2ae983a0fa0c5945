package credstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps sealed entries in an embedded SQLite database, one row
// per entry, keyed by (namespace, name). Set replaces both rows inside one
// transaction.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for tests.
func OpenSQLite(ctx context.Context, dbPath string, sealer *Sealer, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening credential database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStorage, err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers without relying on SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, sealer: sealer, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStorage, p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("%w: running migrations: %w", ErrStorage, err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Get reads both entries in a single query.
func (s *SQLiteStore) Get(ctx context.Context) (*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM credentials WHERE namespace = ?`, s.sealer.Namespace())
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	defer rows.Close()

	sealed := make(map[string]string, 2)

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorage, err)
		}

		sealed[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrStorage, err)
	}

	entries, err := s.sealer.openEntries(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return fromEntries(entries), nil
}

// Set replaces the namespace's rows in one transaction.
func (s *SQLiteStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	sealed, err := s.sealer.sealEntries(toEntries(c))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credentials WHERE namespace = ?`, s.sealer.Namespace()); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrStorage, err)
	}

	now := time.Now().Unix()

	for name, value := range sealed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credentials (namespace, name, value, updated_at) VALUES (?, ?, ?, ?)`,
			s.sealer.Namespace(), name, value, now); err != nil {
			return fmt.Errorf("%w: insert %s: %w", ErrStorage, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}

	return nil
}

// Clear deletes the namespace's rows.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE namespace = ?`, s.sealer.Namespace()); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrStorage, err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
