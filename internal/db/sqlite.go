package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// CredentialKey is the fixed slot the API key lives under.
const CredentialKey = "gemini_api_key"

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// Database is the local key-value store behind the credential slot. Values are
// stored in plaintext; the file is only protected by its permissions.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// Get returns the value stored under name, or "" when the slot is empty.
func (db *Database) Get(name string) (string, error) {
	var value string
	err := db.db.QueryRow(`SELECT value FROM credentials WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return value, nil
}

func (db *Database) Set(name, value string) error {
	query := `
        INSERT INTO credentials (name, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

	if _, err := db.db.Exec(query, name, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (db *Database) Delete(name string) error {
	if _, err := db.db.Exec(`DELETE FROM credentials WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func (db *Database) GetCredential() (string, error) {
	return db.Get(CredentialKey)
}

func (db *Database) SaveCredential(key string) error {
	return db.Set(CredentialKey, key)
}

func (db *Database) ClearCredential() error {
	return db.Delete(CredentialKey)
}
