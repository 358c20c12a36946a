package ils

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// NewSQLite opens (or creates) a sqlite circulation database. An empty
// patrons table is seeded with the same starter dataset the memory
// backend carries, so a fresh file is immediately usable.
func NewSQLite(path, inst string) (*SQLBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend requires a non-empty database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db at %s: %w", path, err)
	}
	s := &SQLBackend{db: db, inst: inst, rebind: rebindNone, now: time.Now}
	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := seedIfEmpty(s); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS patrons (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			pin_hash TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '000',
			address TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			birthdate TEXT NOT NULL DEFAULT '',
			class TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			fees TEXT NOT NULL DEFAULT '',
			blocked BOOLEAN NOT NULL DEFAULT 0,
			card_lost BOOLEAN NOT NULL DEFAULT 0,
			screen_msg TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			permanent_location TEXT NOT NULL DEFAULT 'MAIN',
			current_location TEXT NOT NULL DEFAULT 'MAIN',
			media_type TEXT NOT NULL DEFAULT '01',
			props TEXT NOT NULL DEFAULT '',
			magnetic BOOLEAN NOT NULL DEFAULT 0,
			owner TEXT NOT NULL DEFAULT '',
			fee TEXT NOT NULL DEFAULT '',
			fee_currency TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			item_id TEXT PRIMARY KEY,
			patron_id TEXT NOT NULL,
			due TEXT NOT NULL,
			renewals INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS holds (
			item_id TEXT NOT NULL,
			patron_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			pickup_location TEXT NOT NULL DEFAULT '',
			expiration TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (item_id, patron_id)
		)`,
		`CREATE TABLE IF NOT EXISTS offline_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			patron_id TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL,
			trans_date TEXT NOT NULL DEFAULT '',
			nb_due_date TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// seedIfEmpty loads the starter circulation dataset when the patrons
// table has no rows. Patron PINs are stored bcrypt-hashed.
func seedIfEmpty(s *SQLBackend) error {
	var n int
	if err := s.queryRow(`SELECT COUNT(*) FROM patrons`).Scan(&n); err != nil {
		return fmt.Errorf("check patrons table: %w", err)
	}
	if n > 0 {
		return nil
	}

	pin, err := bcrypt.GenerateFromPassword([]byte("6789"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	patrons := [][]any{
		{"djfiander", "David J. Fiander", string(pin), "000",
			"2 Meadowvale Dr. St Thomas, ON", "djfiander@hotmail.com",
			"(519) 555 1234", "", "A", "", ""},
		{"miker", "Mike Rylander", "", "001", "", "", "", "", "A", "USD", "5.00"},
	}
	for _, p := range patrons {
		if _, err := s.exec(`INSERT INTO patrons
				(id, name, pin_hash, language, address, email, phone,
				 birthdate, class, currency, fees)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, p...); err != nil {
			return fmt.Errorf("seed patrons: %w", err)
		}
	}

	items := [][]any{
		{"1565921879", "Perl 5 desktop reference", "MAIN", "01", false},
		{"0440242746", "The deep blue alibi", "MAIN", "01", false},
		{"660", "Harry Potter y el cáliz de fuego", "MAIN", "01", true},
	}
	for _, it := range items {
		if _, err := s.exec(`INSERT INTO items
				(id, title, permanent_location, media_type, magnetic)
				VALUES (?, ?, ?, ?, ?)`, it...); err != nil {
			return fmt.Errorf("seed items: %w", err)
		}
	}
	return nil
}
