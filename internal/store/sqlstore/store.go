package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver (tests)
)

// SQLStore implements store.Store on database/sql. Production runs it on
// Postgres ("pgx" driver); tests run the exact same code on sqlite3
// ":memory:".
type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if driverName == "pgx" {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// sqlite serializes writes; a single connection avoids
		// "database is locked" under concurrent tests.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate() error {
	// Written in sqlite dialect, rewritten for Postgres below.
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fullname TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen DATETIME
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user1_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user2_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		UNIQUE (user1_id, user2_id)
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		kind TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (kind, conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT,
		message_type TEXT NOT NULL DEFAULT 'text',
		reply_to_id INTEGER,
		file_id INTEGER,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		read_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uploader_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		message_id INTEGER,
		original_name TEXT NOT NULL,
		stored_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		uploaded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (kind, conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_files_conversation ON files (kind, conversation_id);
	`

	if s.driverName == "pgx" {
		schema = strings.ReplaceAll(schema, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		schema = strings.ReplaceAll(schema, "DATETIME", "TIMESTAMP")
	}

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to the $N form pgx requires. Queries in
// this package are written with ? so the same text runs on sqlite.
func (s *SQLStore) rebind(query string) string {
	if s.driverName != "pgx" {
		return query
	}
	n := strings.Count(query, "?")
	for i := 1; i <= n; i++ {
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
	}
	return query
}

// insertID runs an INSERT and returns the generated id, papering over
// the LastInsertId / RETURNING split between the two drivers.
func (s *SQLStore) insertID(ctx context.Context, query string, args ...any) (int, error) {
	if s.driverName == "pgx" {
		var id int
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

// isDuplicate detects uniqueness violations without importing either
// driver's error types.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
