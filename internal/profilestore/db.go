// Package profilestore persists function Profiles (spec §4.1's Profile
// fields) to sqlite, grounded on control/internal/db's config/store/
// repository split: same sqlx.Connect + golang-migrate wiring, same
// repository-interface-over-sqlx shape.
package profilestore

import (
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config holds database configuration.
type Config struct {
	DatabasePath   string
	MigrationsPath string
}

// NewDB opens the sqlite database, tuned for sqlite's single-writer model
// the same way the teacher's NewDB is.
func NewDB(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("profilestore: connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// RunMigrations applies pending migrations from cfg.MigrationsPath.
func RunMigrations(cfg Config) error {
	dbURL := fmt.Sprintf("sqlite://%s", cfg.DatabasePath)
	migrationsURL := fmt.Sprintf("file://%s", cfg.MigrationsPath)

	m, err := migrate.New(migrationsURL, dbURL)
	if err != nil {
		return fmt.Errorf("profilestore: create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("profilestore: run migrations: %w", err)
	}

	log.Println("profilestore: migrations up to date")
	return nil
}
