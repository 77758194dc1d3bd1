package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the Postgres backed document store
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate(ctx context.Context) error {
	logger := util.Named("store")

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	logger.Info("Checking for pending migrations...")
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations completed successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSnapshot reads both collections in one read-only transaction so
// products and sales come from the same point in time.
func (s *Store) LoadSnapshot(ctx context.Context) (models.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.Snapshot{}, err
	}
	defer tx.Rollback()

	var products []models.Product
	if err := tx.SelectContext(ctx, &products, "SELECT id, name, price, stock FROM products ORDER BY id"); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load products: %w", err)
	}

	var rows []saleRow
	if err := tx.SelectContext(ctx, &rows, "SELECT "+saleColumns+" FROM sales ORDER BY created_at DESC"); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load sales: %w", err)
	}

	sales := make([]models.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, row.toSale())
	}

	if err := tx.Commit(); err != nil {
		return models.Snapshot{}, err
	}

	return models.Snapshot{Products: products, Sales: sales, LoadedAt: time.Now().UTC()}, nil
}

// SeedProducts inserts the products that do not exist yet and returns how many were added
func (s *Store) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	inserted := 0
	for _, p := range products {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
			p.ID, p.Name, p.Price, p.Stock)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// SetStock overwrites the stock of one product
func (s *Store) SetStock(ctx context.Context, productID string, quantity int) error {
	if quantity < 0 {
		quantity = 0
	}

	res, err := s.db.ExecContext(ctx, "UPDATE products SET stock = $1 WHERE id = $2", quantity, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return nil
}
