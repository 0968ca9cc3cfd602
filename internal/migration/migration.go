package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	bookingdomain "github.com/railzwaylabs/deskbill/internal/booking/domain"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/railzwaylabs/deskbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run brings the schema up to date and activates the schema state. Postgres
// uses the embedded SQL migrations; sqlite is only used for local runs and is
// migrated from the gorm models.
func Run(ctx context.Context, conn *gorm.DB, dbType string, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	checksum, err := MigrationsChecksum()
	if err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case db.TypeSQLite:
		if err := conn.WithContext(ctx).AutoMigrate(
			&bookingdomain.BookingBilling{},
			&paymentdomain.EventRecord{},
			&SchemaState{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	default:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(ctx, sqlDB, latestVersion); err != nil {
			return err
		}
	}

	if err := activateSchemaState(ctx, conn, fmt.Sprintf("%d", latestVersion), checksum); err != nil {
		return err
	}

	log.Info("schema migrated", zap.String("db_type", dbType), zap.Uint("version", latestVersion))
	return nil
}

// RunMigrations applies all embedded migrations under a session advisory lock
// so concurrent migrators never interleave.
func RunMigrations(ctx context.Context, sqlDB *sql.DB, latestVersion uint) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	unlock, err := acquireAdvisoryLock(ctx, sqlDB)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
