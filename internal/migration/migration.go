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
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	changeorderdomain "github.com/smallbiznis/seatledger/internal/changeorder/domain"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/membership"
	overridedomain "github.com/smallbiznis/seatledger/internal/override/domain"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.BillingState{},
		&membership.Member{},
		&overridedomain.BillingOverride{},
		&auditdomain.AuditLog{},
		&invoicedomain.Sequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.Payment{},
		&changeorderdomain.ChangeOrder{},
		&paymentdomain.EventRecord{},
	}
}

// Run applies the embedded SQL migrations on postgres and falls back to
// AutoMigrate for the other dialects.
func Run(conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
