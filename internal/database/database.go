// Package database provides PostgreSQL connection helpers for the access log.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Default connection parameters used when a Settings field is empty.
const (
	DefaultHost = "localhost"
	DefaultPort = "5432"
	DefaultName = "contentgate"
)

// Settings holds PostgreSQL connection parameters.
type Settings struct {
	// Socket is the Cloud SQL Unix socket directory. When set it replaces
	// Host and Port.
	Socket   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// Open opens a *sql.DB for s. Callers are responsible for closing the
// returned DB.
func Open(s Settings) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(s))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// DSN builds a PostgreSQL DSN from s.
// When Socket is set (Cloud SQL via Unix socket) that path is used as the
// host; otherwise a TCP connection is made.
func DSN(s Settings) string {
	if s.Socket != "" {
		return fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s sslmode=disable",
			s.Socket, s.User, s.Password, fallback(s.Name, DefaultName),
		)
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		fallback(s.Host, DefaultHost),
		fallback(s.Port, DefaultPort),
		s.User,
		s.Password,
		fallback(s.Name, DefaultName),
	)
}

// fallback returns v, or def when v is empty.
func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
