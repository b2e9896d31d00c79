package meal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single-file SQLite database with WAL
// mode enabled.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meals (
		key        TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		rating     INTEGER NOT NULL DEFAULT 0,
		tags       TEXT NOT NULL DEFAULT '[]',
		refs       TEXT NOT NULL DEFAULT '[]',
		photo_id   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (Meal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, rating, tags, refs, photo_id, created_at, updated_at
		FROM meals WHERE key = ?
	`, NormalizeName(name))
	m, err := scanMeal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Meal{}, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Meal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, rating, tags, refs, photo_id, created_at, updated_at
		FROM meals ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Meal
	for rows.Next() {
		m, err := scanMeal(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, m Meal) error {
	if err := m.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	refs, err := json.Marshal(m.Refs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meals (key, name, rating, tags, refs, photo_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			rating = excluded.rating,
			tags = excluded.tags,
			refs = excluded.refs,
			photo_id = excluded.photo_id,
			updated_at = excluded.updated_at
	`, m.Key(), m.Name, m.Rating, string(tags), string(refs), m.PhotoID,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE key = ?`, NormalizeName(name))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMeal(scan func(dest ...any) error) (Meal, error) {
	var (
		m          Meal
		tags, refs string
		created    string
		updated    string
	)
	if err := scan(&m.Name, &m.Rating, &tags, &refs, &m.PhotoID, &created, &updated); err != nil {
		return Meal{}, err
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return Meal{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(refs), &m.Refs); err != nil {
		return Meal{}, fmt.Errorf("decode refs: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return m, nil
}
