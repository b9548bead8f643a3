package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// Схема витрины мигрирует под advisory lock, чтобы несколько реплик
// с STOREFRONT_POSTGRES_AUTO_MIGRATE не применяли одну миграцию дважды.
const (
	migrationsDir    = "sql/migrations"
	migrationLockSQL = `SELECT pg_advisory_lock(hashtext('storefront.schema_migrations'))`
	migrationFreeSQL = `SELECT pg_advisory_unlock(hashtext('storefront.schema_migrations'))`
	migrationTable   = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`
)

var migrationFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// schemaMigration — пара up/down файлов одной версии схемы.
type schemaMigration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m schemaMigration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает состояние схемы для `migrate status`.
type MigrationState struct {
	Version int64
	Applied int
	// Pending — ещё не применённые миграции в порядке применения.
	Pending []string
	// Drifted — применённые миграции, чей up-файл изменился после применения.
	Drifted []string
}

// MigrateUp применяет ожидающие миграции; steps<=0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaMigration) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, m := range plan {
			if _, ok := applied[m.Version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runMigration(ctx, conn, m, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaMigration) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		known := make(map[int64]schemaMigration, len(plan))
		for _, m := range plan {
			known[m.Version] = m
		}

		versions := slices.Sorted(maps.Keys(applied))
		slices.Reverse(versions)
		for _, version := range versions[:min(steps, len(versions))] {
			m, ok := known[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := runMigration(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сравнивает встроенные миграции с таблицей schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	var state MigrationState
	err := s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaMigration) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		state.Applied = len(applied)
		for version := range applied {
			state.Version = max(state.Version, version)
		}
		for _, m := range plan {
			checksum, ok := applied[m.Version]
			switch {
			case !ok:
				state.Pending = append(state.Pending, m.label())
			case checksum != "" && checksum != m.Checksum:
				state.Drifted = append(state.Drifted, m.label())
			}
		}
		return nil
	})
	return state, err
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []schemaMigration) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	plan, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, migrationLockSQL); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), migrationFreeSQL)
	}()

	if _, err := conn.ExecContext(ctx, migrationTable); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn, plan)
}

// runMigration выполняет up или down файл вместе с записью в schema_migrations в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, m schemaMigration, up bool) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	body, bookkeeping, args := m.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	if up {
		body = m.Up
		bookkeeping = `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`
		args = []any{m.Version, m.Name, m.Checksum}
	}

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.label(), err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", m.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.label(), err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// loadMigrations читает пары NNNN_name.{up,down}.sql и сортирует их по версии.
func loadMigrations(fsys fs.FS) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationFileName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &schemaMigration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, m.Name, parts[2])
		}

		slot := &m.Down
		if parts[3] == "up" {
			slot = &m.Up
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *m)
	}
	slices.SortFunc(plan, func(a, b schemaMigration) int { return cmp.Compare(a.Version, b.Version) })
	return plan, nil
}
