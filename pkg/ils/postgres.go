package ils

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgres connects to a postgres circulation database and ensures
// the schema exists. Unlike sqlite, postgres databases are not seeded:
// a shared server is assumed to carry real records.
func NewPostgres(dsn, inst string) (*SQLBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a non-empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	if err := initPostgresSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLBackend{db: db, inst: inst, rebind: rebindPostgres, now: time.Now}, nil
}

func initPostgresSchema(db *sql.DB) error {
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
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			card_lost BOOLEAN NOT NULL DEFAULT FALSE,
			screen_msg TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			permanent_location TEXT NOT NULL DEFAULT 'MAIN',
			current_location TEXT NOT NULL DEFAULT 'MAIN',
			media_type TEXT NOT NULL DEFAULT '01',
			props TEXT NOT NULL DEFAULT '',
			magnetic BOOLEAN NOT NULL DEFAULT FALSE,
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
			id SERIAL PRIMARY KEY,
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
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}
	return nil
}
