package cache

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS containers (
	kind     INTEGER NOT NULL,
	page_key INTEGER NOT NULL,
	revision INTEGER NOT NULL,
	data     BLOB    NOT NULL,
	PRIMARY KEY (kind, page_key, revision)
)`

// SQLiteTier is a disk-backed second tier stored in a SQLite database.
// Each entry is one row, so writes are atomic.
type SQLiteTier struct {
	db *sql.DB
}

// OpenSQLiteTier opens or creates the database at path. Entries left by a
// previous process are discarded.
func OpenSQLiteTier(path string) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite cache schema: %w", err)
	}
	t := &SQLiteTier{db: db}
	if err := t.Clear(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Get implements Tier.
func (t *SQLiteTier) Get(key Key) (*page.Container, bool, error) {
	var data []byte
	err := t.db.QueryRow(
		`SELECT data FROM containers WHERE kind = ? AND page_key = ? AND revision = ?`,
		int64(key.Kind), int64(key.PageKey), int64(key.Revision),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Put implements Tier.
func (t *SQLiteTier) Put(key Key, c *page.Container) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = t.db.Exec(
		`INSERT OR REPLACE INTO containers (kind, page_key, revision, data) VALUES (?, ?, ?, ?)`,
		int64(key.Kind), int64(key.PageKey), int64(key.Revision), data,
	)
	return err
}

// Contains implements Tier.
func (t *SQLiteTier) Contains(key Key) (bool, error) {
	var n int
	err := t.db.QueryRow(
		`SELECT COUNT(*) FROM containers WHERE kind = ? AND page_key = ? AND revision = ?`,
		int64(key.Kind), int64(key.PageKey), int64(key.Revision),
	).Scan(&n)
	return n > 0, err
}

// Clear implements Tier.
func (t *SQLiteTier) Clear() error {
	_, err := t.db.Exec(`DELETE FROM containers`)
	return err
}

// Len implements Tier.
func (t *SQLiteTier) Len() (int, error) {
	var n int
	err := t.db.QueryRow(`SELECT COUNT(*) FROM containers`).Scan(&n)
	return n, err
}

// Close implements Tier.
func (t *SQLiteTier) Close() error {
	return t.db.Close()
}
