package test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ScyisMe/croco-sushi/migrations"
)

type PostgresSetup struct {
	ConnStr string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("crocosushi"),
		postgres.WithUsername("crocosushi"),
		postgres.WithPassword("crocosushi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return &PostgresSetup{ConnStr: connStr, cleanup: cleanup}
}

func runMigrations(connStr string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func OpenDB(t *testing.T, connStr string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// CatalogSeed holds the ids of the fixture rows inserted by SeedCatalog.
type CatalogSeed struct {
	RollID         string // 100.00, orderable
	SoupID         string // 50.00, orderable
	SetID          string // 400.00, orderable, has a Large size
	StoppedID      string // 300.00, not orderable
	LargeSizeID    string // 600.00, belongs to SetID
	PromoID        string // SUSHI10, 10 percent, active
	ExpiredPromoID string // OLDCODE, validity window already over
}

func SeedCatalog(ctx context.Context, t *testing.T, db *sql.DB) CatalogSeed {
	t.Helper()

	seed := CatalogSeed{
		RollID:         uuid.NewString(),
		SoupID:         uuid.NewString(),
		SetID:          uuid.NewString(),
		StoppedID:      uuid.NewString(),
		LargeSizeID:    uuid.NewString(),
		PromoID:        uuid.NewString(),
		ExpiredPromoID: uuid.NewString(),
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, price, is_orderable) VALUES
			($1, 'Philadelphia Roll', 100.00, TRUE),
			($2, 'Miso Soup', 50.00, TRUE),
			($3, 'Sushi Set', 400.00, TRUE),
			($4, 'Dragon Roll', 300.00, FALSE)
	`, seed.RollID, seed.SoupID, seed.SetID, seed.StoppedID)
	if err != nil {
		t.Fatalf("failed to seed menu items: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO item_sizes (id, item_id, name, price)
		VALUES ($1, $2, 'Large', 600.00)
	`, seed.LargeSizeID, seed.SetID)
	if err != nil {
		t.Fatalf("failed to seed item sizes: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO promo_codes (id, code, discount_type, discount_value, is_active, start_date, end_date, max_uses) VALUES
			($1, 'SUSHI10', 'percent', 10.00, TRUE, NOW() - INTERVAL '1 day', NOW() + INTERVAL '30 days', 100),
			($2, 'OLDCODE', 'fixed', 50.00, TRUE, NOW() - INTERVAL '60 days', NOW() - INTERVAL '30 days', NULL)
	`, seed.PromoID, seed.ExpiredPromoID)
	if err != nil {
		t.Fatalf("failed to seed promo codes: %v", err)
	}

	return seed
}

func SetupKafka(ctx context.Context, t *testing.T) ([]string, func()) {
	t.Helper()

	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		kafka.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers, cleanup
}
