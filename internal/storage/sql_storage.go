// internal/storage/sql_storage.go
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Corphon/SceneWeaver/internal/utils"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Dialect is the SQL flavour behind a SQLStorage
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStorage keeps save records in the save_slots table
type SQLStorage struct {
	dialect Dialect
	db      *sql.DB
}

// OpenSQLStorage opens the database, pings it and applies pending migrations.
// For sqlite dsn is a file path.
func OpenSQLStorage(ctx context.Context, dialect Dialect, dsn string) (*SQLStorage, error) {
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
		dsn = strings.TrimSpace(dsn)
		if dsn == "" {
			dsn = filepath.Join("data", "saves.sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	case DialectPostgres:
		driverName = "pgx"
		dsn = strings.TrimSpace(dsn)
		if dsn == "" {
			return nil, errors.New("postgres storage requires a DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	s := &SQLStorage{dialect: dialect, db: db}
	if err := s.applyMigrations(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	utils.GetLogger().Info("Save storage ready", map[string]interface{}{"dialect": string(dialect)})
	return s, nil
}

// Dialect returns the SQL flavour
func (s *SQLStorage) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStorage) bind(pos int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (s *SQLStorage) insertQuery(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = s.bind(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
	)
}

func (s *SQLStorage) upsertQuery() string {
	return s.insertQuery("save_slots", []string{"slot_key", "payload", "updated_at"}) +
		" ON CONFLICT (slot_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at"
}

func (s *SQLStorage) applyMigrations(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema migrations: %w", err)
	}
	rows.Close()

	files, err := fs.Glob(migrationFS, fmt.Sprintf("migrations/%s/*.sql", s.dialect))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		base := filepath.Base(file)
		if applied[base] {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		q := s.insertQuery("schema_migrations", []string{"version", "applied_at"})
		if _, err := tx.ExecContext(ctx, q, base, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// Get reads the payload of a slot
func (s *SQLStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	q := "SELECT payload FROM save_slots WHERE slot_key = " + s.bind(1)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read save slot %s: %w", key, err)
	}
	return payload, nil
}

// Put inserts or replaces a slot
func (s *SQLStorage) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("write save slot %s: %w", key, err)
	}
	return nil
}

// Delete removes a slot
func (s *SQLStorage) Delete(ctx context.Context, key string) error {
	q := "DELETE FROM save_slots WHERE slot_key = " + s.bind(1)
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete save slot %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
