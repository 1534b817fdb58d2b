package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/migrations"
)

// migrationLock is the advisory lock key that serialises instances migrating
// the same database
const migrationLock int64 = 0x63686c6e67

// Migration is one schema change, applied in Name order
type Migration struct {
	Name string
	SQL  string
}

// MigrationSource returns dir on disk, or the migrations compiled into the
// binary when dir is empty
func MigrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// LoadMigrations reads every top-level .sql file of fsys, sorted by name
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	list := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		list = append(list, Migration{Name: path.Base(name), SQL: string(content)})
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}
	return list, nil
}

// Pending returns the migrations whose names are not in applied, in order
func Pending(all []Migration, applied map[string]bool) []Migration {
	var pending []Migration
	for _, m := range all {
		if !applied[m.Name] {
			pending = append(pending, m)
		}
	}
	return pending
}

// RunMigrations applies the pending migrations of fsys in one transaction.
// Concurrent callers wait on an advisory lock, so several engine instances
// may start against the same database.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
			return fmt.Errorf("failed to lock migrations: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				name VARCHAR(255) PRIMARY KEY,
				applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`); err != nil {
			return fmt.Errorf("failed to create migrations table: %w", err)
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to get applied migrations: %w", err)
		}

		pending := Pending(all, applied)
		for _, m := range pending {
			logger.Infow("applying migration", "migration", m.Name)
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
			}
		}

		logger.Infow("migrations complete", "applied", len(pending), "total", len(all))
		return nil
	})
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}

// MigrateFromDSN connects to dsn and applies the migrations of MigrationSource(dir)
func MigrateFromDSN(ctx context.Context, dsn, dir string, logger *zap.SugaredLogger) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	return RunMigrations(ctx, pool, MigrationSource(dir), logger)
}
