// Package store keeps named mapping documents, one per patient setup, in
// a SQLite database.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/relabs-tech/device_mapper/internal/persist"
)

// ErrNotFound is returned when no profile has the requested name.
var ErrNotFound = errors.New("store: profile not found")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	document   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Summary describes a stored profile without its document.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a profile repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save stores doc under name, replacing any previous document of that
// name. The profile keeps its id across saves.
func (s *Store) Save(ctx context.Context, name string, doc persist.Document) (Summary, error) {
	if name == "" {
		return Summary{}, errors.New("store: empty profile name")
	}
	var buf bytes.Buffer
	if err := persist.Encode(&buf, doc, persist.JSON); err != nil {
		return Summary{}, err
	}

	now := s.now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles (id, name, document, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
    `, uuid.NewString(), name, buf.String(), now, now)
	if err != nil {
		return Summary{}, fmt.Errorf("store: save %q: %w", name, err)
	}
	return s.summary(ctx, name)
}

func (s *Store) summary(ctx context.Context, name string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, created_at, updated_at FROM profiles WHERE name = ?
    `, name)
	p, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return Summary{}, fmt.Errorf("store: %q: %w", name, err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (Summary, error) {
	var (
		p                  Summary
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &created, &updated); err != nil {
		return Summary{}, err
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

// Load returns the document stored under name.
func (s *Store) Load(ctx context.Context, name string) (persist.Document, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM profiles WHERE name = ?`, name).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persist.Document{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return persist.Document{}, fmt.Errorf("store: load %q: %w", name, err)
	}
	return persist.Decode(bytes.NewBufferString(text), persist.JSON)
}

// List returns every profile, sorted by name.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, created_at, updated_at FROM profiles ORDER BY name
    `)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		p, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Delete removes the profile stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
