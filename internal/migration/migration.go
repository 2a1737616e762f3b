package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted model. Dialects without SQL migrations are
// brought up to date with AutoMigrate.
func Models() []any {
	return []any{
		&devicedomain.Device{},
		&devicedomain.OAuthDevice{},
		&rawdomain.Packet{},
		&rawdomain.Attribute{},
		&groupdomain.StudyGroup{},
		&groupdomain.Subject{},
		&apikeydomain.APIKey{},
	}
}

// Run migrates conn for the given database type.
func Run(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.
	return nil
}
