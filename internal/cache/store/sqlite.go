package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"typstd/internal/compiler"
	"typstd/internal/fingerprint"
)

const schema = `
CREATE TABLE IF NOT EXISTS units (
    entrypoint  TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS exports (
    entrypoint TEXT NOT NULL,
    name       TEXT NOT NULL,
    kind       INTEGER NOT NULL,
    path       TEXT NOT NULL,
    line       INTEGER NOT NULL,
    character  INTEGER NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (entrypoint) REFERENCES units(entrypoint) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_exports_entrypoint ON exports(entrypoint);
`

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.Exec(`
        PRAGMA foreign_keys = ON;
        PRAGMA journal_mode = WAL;
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutExports(
	entrypoint string,
	fp fingerprint.Fingerprint,
	exports []compiler.Symbol,
) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
        INSERT INTO units (entrypoint, fingerprint)
        VALUES (?, ?)
        ON CONFLICT(entrypoint) DO UPDATE SET fingerprint = excluded.fingerprint
    `, entrypoint, fp.String()); err != nil {
		return fmt.Errorf("failed to upsert unit: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM exports WHERE entrypoint = ?", entrypoint); err != nil {
		return fmt.Errorf("failed to clear exports: %w", err)
	}
	for _, sym := range exports {
		if _, err := tx.Exec(`
            INSERT INTO exports (entrypoint, name, kind, path, line, character, detail)
            VALUES (?, ?, ?, ?, ?, ?, ?)
        `, entrypoint, sym.Name, int(sym.Kind), sym.Path,
			sym.Range.Start.Line, sym.Range.Start.Character, sym.Detail); err != nil {
			return fmt.Errorf("failed to insert export: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exports: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Exports(
	entrypoint string,
	fp fingerprint.Fingerprint,
) ([]compiler.Symbol, error) {
	var stored string
	err := s.db.QueryRow(
		"SELECT fingerprint FROM units WHERE entrypoint = ?", entrypoint,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unit: %w", err)
	}
	if stored != fp.String() {
		// Stale rows are left in place; the next PutExports overwrites them.
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(`
        SELECT name, kind, path, line, character, detail
        FROM exports WHERE entrypoint = ?
    `, entrypoint)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *SQLiteStore) AllExports() ([]compiler.Symbol, error) {
	rows, err := s.db.Query(
		"SELECT name, kind, path, line, character, detail FROM exports",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *SQLiteStore) DeleteUnit(entrypoint string) error {
	if _, err := s.db.Exec("DELETE FROM units WHERE entrypoint = ?", entrypoint); err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSymbols(rows *sql.Rows) ([]compiler.Symbol, error) {
	var symbols []compiler.Symbol
	for rows.Next() {
		var sym compiler.Symbol
		var kind int
		if err := rows.Scan(
			&sym.Name, &kind, &sym.Path,
			&sym.Range.Start.Line, &sym.Range.Start.Character, &sym.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		sym.Kind = compiler.SymbolKind(kind)
		sym.Range.End = sym.Range.Start
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exports: %w", err)
	}
	return symbols, nil
}
