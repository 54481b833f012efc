package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql pgx driver for golang-migrate
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/coachpo/spreadwatch/db/migrations"
	"github.com/coachpo/spreadwatch/internal/telemetry"
)

var (
	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Migrate applies the embedded schema migrations to the Postgres instance
// reachable via dsn. A nil logger disables informational logging.
func Migrate(ctx context.Context, dsn string, logger *log.Logger) error {
	m, cleanup, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop")
			if logger != nil {
				logger.Printf("archive schema up-to-date")
			}
			return nil
		}
		recordMigrationMetric(ctx, "failed")
		return fmt.Errorf("archive: apply migrations: %w", err)
	}

	recordMigrationMetric(ctx, "applied")
	if logger != nil {
		logger.Printf("archive schema migrated")
	}
	return nil
}

// Rollback reverts the most recent steps migrations.
func Rollback(ctx context.Context, dsn string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("archive: rollback steps must be positive, got %d", steps)
	}
	m, cleanup, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("archive schema unchanged")
			}
			return nil
		}
		recordMigrationMetric(ctx, "rollback_failed")
		return fmt.Errorf("archive: rollback migrations: %w", err)
	}

	recordMigrationMetric(ctx, "rolled_back")
	if logger != nil {
		logger.Printf("archive schema rolled back %d step(s)", steps)
	}
	return nil
}

func newMigrator(ctx context.Context, dsn string, logger *log.Logger) (*migrate.Migrate, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, errors.New("archive: dsn required")
	}

	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open embedded migrations: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("archive: open migrations connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("archive: ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("archive: initialise pgx driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("archive: initialise migrate instance: %w", err)
	}

	cleanup := func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("archive migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("archive migrations db close: %v", dbErr)
		}
	}
	return m, cleanup, nil
}

func recordMigrationMetric(ctx context.Context, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("spreadwatch.archive")
		counter, err := meter.Int64Counter("spreadwatch_db_migrations",
			metric.WithDescription("Archive schema migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	))
}
