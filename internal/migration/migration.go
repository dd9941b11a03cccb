package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table the application owns.
func Models() []any {
	return []any{
		&refdomain.Location{},
		&refdomain.Device{},
		&refdomain.User{},
		&refdomain.SystemParameter{},
		&clientdomain.Client{},
		&contingencydomain.Contingency{},
		&syncdomain.SyncEvent{},
		&salesdomain.Quote{},
		&salesdomain.Sale{},
		&salesdomain.Payment{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files;
// the embedded databases of location nodes are migrated from the models.
func Run(conn *gorm.DB, cfg config.Config) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if cfg.DBType != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate %s: %w", cfg.DBType, err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

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
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
