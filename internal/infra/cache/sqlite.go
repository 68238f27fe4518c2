package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"idxtmpl/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	idxname TEXT NOT NULL,
	template_name TEXT NOT NULL UNIQUE,
	file TEXT NOT NULL,
	template_pattern TEXT NOT NULL,
	index_template TEXT NOT NULL,
	settings TEXT NOT NULL,
	mappings TEXT NOT NULL,
	version TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	digest TEXT NOT NULL DEFAULT ''
);
`

const selectColumns = `name, idxname, template_name, file, template_pattern, index_template,
	settings, mappings, version, mtime, digest`

// SQLStore keeps template cache entries in a SQLite "templates" table. The unique
// constraints on name and template_name are enforced by the database, and updates are
// conditional on the stored mtime so concurrent writers never regress a fresher row.
type SQLStore struct {
	db   *sql.DB
	path string
}

func OpenSQLStore(path string) (*SQLStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	dsn := "file:" + trimmed + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return &SQLStore{db: db, path: trimmed}, nil
}

func (s *SQLStore) Path() string {
	return s.path
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Find(ctx context.Context, name string) (domain.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM templates WHERE name = ?`, name)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, domain.CacheNotFound(name)
	}
	if err != nil {
		return domain.CacheEntry{}, wrapStoreError("finding", name, err)
	}
	return entry, nil
}

func (s *SQLStore) Create(ctx context.Context, entry domain.CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO templates (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Name,
		entry.IndexName,
		entry.TemplateName,
		entry.File,
		entry.TemplatePattern,
		entry.IndexTemplate,
		rawOrNull(entry.Settings),
		rawOrNull(entry.Mappings),
		entry.Version,
		entry.MTime.UTC().UnixNano(),
		entry.Digest,
	)
	if isUniqueViolation(err) {
		return domain.CacheDuplicate(entry.Name)
	}
	return wrapStoreError("adding", entry.Name, err)
}

func (s *SQLStore) Update(ctx context.Context, entry domain.CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE templates SET
		idxname = ?, template_name = ?, file = ?, template_pattern = ?, index_template = ?,
		settings = ?, mappings = ?, version = ?, mtime = ?, digest = ?
		WHERE name = ? AND mtime < ?`,
		entry.IndexName,
		entry.TemplateName,
		entry.File,
		entry.TemplatePattern,
		entry.IndexTemplate,
		rawOrNull(entry.Settings),
		rawOrNull(entry.Mappings),
		entry.Version,
		entry.MTime.UTC().UnixNano(),
		entry.Digest,
		entry.Name,
		entry.MTime.UTC().UnixNano(),
	)
	if isUniqueViolation(err) {
		return domain.CacheDuplicate(entry.TemplateName)
	}
	if err != nil {
		return wrapStoreError("updating", entry.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError("updating", entry.Name, err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Find(ctx, entry.Name); err != nil {
		return err
	}
	return domain.CacheConflict(entry.Name)
}

func (s *SQLStore) List(ctx context.Context) ([]domain.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, wrapStoreError("listing", "*", err)
	}
	defer rows.Close()

	var out []domain.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError("listing", "*", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("listing", "*", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.CacheEntry, error) {
	var (
		entry    domain.CacheEntry
		settings string
		mappings string
		mtime    int64
	)
	if err := row.Scan(
		&entry.Name,
		&entry.IndexName,
		&entry.TemplateName,
		&entry.File,
		&entry.TemplatePattern,
		&entry.IndexTemplate,
		&settings,
		&mappings,
		&entry.Version,
		&mtime,
		&entry.Digest,
	); err != nil {
		return domain.CacheEntry{}, err
	}
	entry.Settings = []byte(settings)
	entry.Mappings = []byte(mappings)
	entry.MTime = time.Unix(0, mtime).UTC()
	return entry, nil
}

func rawOrNull(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ domain.TemplateCache = (*SQLStore)(nil)
