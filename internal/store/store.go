package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deposit-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// RunMigrations applies the SQL migrations found in dir
func (s *Store) RunMigrations(dir string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{
		MigrationsTable: "deposit_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductMeta retrieves a product metadata value, "" when unset
func (s *Store) GetProductMeta(ctx context.Context, productID int64, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT meta_value FROM product_meta WHERE product_id = $1 AND meta_key = $2", productID, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetProductMeta upserts a product metadata value
func (s *Store) SetProductMeta(ctx context.Context, productID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_meta (product_id, meta_key, meta_value) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		productID, key, value)
	return err
}

// GetProductCategoryIDs returns the categories of a product in assignment order
func (s *Store) GetProductCategoryIDs(ctx context.Context, productID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT category_id FROM product_categories WHERE product_id = $1 ORDER BY position, category_id", productID)
	return ids, err
}

// GetCategoryMeta retrieves a category metadata value, "" when unset
func (s *Store) GetCategoryMeta(ctx context.Context, categoryID int64, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT meta_value FROM category_meta WHERE category_id = $1 AND meta_key = $2", categoryID, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetCategoryMeta upserts a category metadata value
func (s *Store) SetCategoryMeta(ctx context.Context, categoryID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO category_meta (category_id, meta_key, meta_value) VALUES ($1, $2, $3)
		ON CONFLICT (category_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		categoryID, key, value)
	return err
}

// GetSetting implements settings.Source
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = $1", key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting implements settings.Source
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}
