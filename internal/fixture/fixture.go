// Package fixture creates SQLite copies of the slurmdbd accounting tables
// populated with sample jobs
package fixture

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// Directory containing the slurmdbd schema and sample data.
const slurmdbdDir = "slurmdbd"

//go:embed slurmdbd/*.sql
var slurmdbdFS embed.FS

// Sample data bounds in Unix seconds. All sample jobs except one are
// submitted on 2024-01-15 (UTC), the remaining one 40 days earlier.
const (
	SampleSince int64 = 1705276800 // 2024-01-15T00:00:00Z
	SampleUntil int64 = 1705363200 // 2024-01-16T00:00:00Z
)

// Loader applies SQL files to a SQLite database in version order.
type Loader struct {
	logger    *slog.Logger
	srcDriver source.Driver
}

// New returns a loader of the SQL files in dirName of sqlFiles.
func New(sqlFiles fs.FS, dirName string, logger *slog.Logger) (*Loader, error) {
	d, err := iofs.New(sqlFiles, dirName)
	if err != nil {
		return nil, err
	}

	return &Loader{
		logger:    logger,
		srcDriver: d,
	}, nil
}

// Apply applies all SQL files to db.
func (l *Loader) Apply(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("unable to create db instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", l.srcDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("unable to create migration: %w", err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("unable to apply fixtures: %w", err)
	}

	if version, dirty, err := m.Version(); err != nil {
		l.logger.Error("Failed to get fixture version", "err", err)
	} else {
		l.logger.Debug("Applied fixtures", "version", version, "dirty", dirty)
	}

	return nil
}

// CreateSlurmDB creates a SQLite database at dbPath with the accounting
// tables of cluster `create` filled with sample jobs.
func CreateSlurmDB(dbPath string, logger *slog.Logger) error {
	loader, err := New(slurmdbdFS, slurmdbdDir, logger)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer db.Close()

	return loader.Apply(db)
}
