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
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	schemaDir = "sql/migrations"
	// ключ advisory-lock, общий для всех процессов, применяющих схему
	schemaLockKey    = int64(0x666c617368)
	schemaHistoryDDL = `
CREATE TABLE IF NOT EXISTS schema_history (
    version    BIGINT PRIMARY KEY,
    label      TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var schemaFS embed.FS

// ErrSchemaDrift: применённая миграция отличается от встроенной в бинарь.
var ErrSchemaDrift = errors.New("applied migration differs from embedded one")

// schemaChange одна версия схемы: пара up/down файлов NNNN_label.{up,down}.sql.
type schemaChange struct {
	Version int64
	Label   string
	Apply   string
	Revert  string
}

func (c schemaChange) ID() string {
	return fmt.Sprintf("%04d_%s", c.Version, c.Label)
}

func (c schemaChange) Checksum() string {
	sum := sha256.Sum256([]byte(c.Apply))
	return hex.EncodeToString(sum[:8])
}

// MigrateUp применяет не более steps ожидающих миграций; 0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, changes []schemaChange) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		if err := detectDrift(changes, applied); err != nil {
			return err
		}

		done := 0
		for _, change := range changes {
			if _, ok := applied[change.Version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runInTx(ctx, conn, change.Apply,
				`INSERT INTO schema_history (version, label, checksum) VALUES ($1, $2, $3)`,
				change.Version, change.Label, change.Checksum()); err != nil {
				return fmt.Errorf("apply %s: %w", change.ID(), err)
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps <= 0 означает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(conn *sql.Conn, changes []schemaChange) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		versions := make([]int64, 0, len(applied))
		for version := range applied {
			versions = append(versions, version)
		}
		slices.Sort(versions)
		slices.Reverse(versions)
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, version := range versions {
			idx := slices.IndexFunc(changes, func(c schemaChange) bool { return c.Version == version })
			if idx < 0 {
				return fmt.Errorf("cannot revert version %d: no embedded migration", version)
			}
			change := changes[idx]
			if err := runInTx(ctx, conn, change.Revert,
				`DELETE FROM schema_history WHERE version = $1`, change.Version); err != nil {
				return fmt.Errorf("revert %s: %w", change.ID(), err)
			}
		}
		return nil
	})
}

// MigrationStatus возвращает максимальную применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaHistoryDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema history: %w", err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_history`).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema history: %w", err)
	}
	return version, count, nil
}

// PendingMigrations возвращает идентификаторы ещё не применённых миграций по возрастанию версии.
func (s *Store) PendingMigrations(ctx context.Context) ([]string, error) {
	var pending []string
	err := s.withSchemaLock(ctx, func(conn *sql.Conn, changes []schemaChange) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		for _, change := range changes {
			if _, ok := applied[change.Version]; !ok {
				pending = append(pending, change.ID())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []string{}
	}
	return pending, nil
}

// withSchemaLock выполняет fn на выделенном соединении под session advisory-lock,
// чтобы параллельно стартующие реплики не применяли схему дважды.
func (s *Store) withSchemaLock(ctx context.Context, fn func(*sql.Conn, []schemaChange) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	changes, err := readSchemaChanges(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire schema connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaHistoryDDL); err != nil {
		return fmt.Errorf("ensure schema history: %w", err)
	}
	return fn(conn, changes)
}

func runInTx(ctx context.Context, conn *sql.Conn, body, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("schema history: %w", err)
	}
	return tx.Commit()
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_history`)
	if err != nil {
		return nil, fmt.Errorf("read schema history: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan schema history: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func detectDrift(changes []schemaChange, applied map[int64]string) error {
	for _, change := range changes {
		checksum, ok := applied[change.Version]
		if ok && checksum != change.Checksum() {
			return fmt.Errorf("%w: %s", ErrSchemaDrift, change.ID())
		}
	}
	return nil
}

// readSchemaChanges собирает пары up/down из fsys и сортирует их по версии.
func readSchemaChanges(fsys fs.FS) ([]schemaChange, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaChange)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, label, up, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		change, ok := byVersion[version]
		if !ok {
			change = &schemaChange{Version: version, Label: label}
			byVersion[version] = change
		}
		if change.Label != label {
			return nil, fmt.Errorf("version %d has two labels: %q and %q", version, change.Label, label)
		}

		target := &change.Revert
		if up {
			target = &change.Apply
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate migration file %s", entry.Name())
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	changes := make([]schemaChange, 0, len(byVersion))
	for _, change := range byVersion {
		if change.Apply == "" || change.Revert == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", change.ID())
		}
		changes = append(changes, *change)
	}
	slices.SortFunc(changes, func(a, b schemaChange) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return changes, nil
}

// parseMigrationName разбирает имя вида 0002_redemptions_by_user.up.sql.
func parseMigrationName(name string) (version int64, label string, up bool, err error) {
	stem, ok := strings.CutSuffix(name, ".sql")
	if !ok {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", name)
	}
	switch {
	case strings.HasSuffix(stem, ".up"):
		stem, up = strings.TrimSuffix(stem, ".up"), true
	case strings.HasSuffix(stem, ".down"):
		stem = strings.TrimSuffix(stem, ".down")
	default:
		return 0, "", false, fmt.Errorf("migration %s has no up/down direction", name)
	}

	digits, label, ok := strings.Cut(stem, "_")
	if !ok || label == "" {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", name)
	}
	version, err = strconv.ParseInt(digits, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", false, fmt.Errorf("invalid migration version in %s", name)
	}
	return version, label, up, nil
}
