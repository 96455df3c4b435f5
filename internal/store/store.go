package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

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

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// CompareAndSetProductStatus moves a product to status `to` only if it is currently `from`
func (s *Store) CompareAndSetProductStatus(ctx context.Context, id string, from, to models.ProductStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update product status: %w", err)
	}
	return affectedOne(res)
}

// ReleaseProduct makes a sold product available again. Deleted products stay deleted.
func (s *Store) ReleaseProduct(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.ProductAvailable, id, models.ProductSold)
	if err != nil {
		return false, fmt.Errorf("failed to release product: %w", err)
	}
	return affectedOne(res)
}

// ListOrphanedSoldProducts finds products Sold since before soldBefore that no
// live order holds
func (s *Store) ListOrphanedSoldProducts(ctx context.Context, soldBefore time.Time, limit int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, `
		SELECT p.* FROM products p
		WHERE p.status = $1 AND p.updated_at <= $2
		AND NOT EXISTS (
			SELECT 1 FROM orders r
			WHERE r.product_id = p.id AND r.status IN ($3, $4, $5)
		)
		ORDER BY p.updated_at LIMIT $6`,
		models.ProductSold, soldBefore,
		models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusCompleted, limit)
	return products, err
}

// CreateProduct inserts a product. Used by catalog seeding and tests.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (id, owner_id, price, status, created_at, updated_at)
		VALUES (:id, :owner_id, :price, :status, :created_at, :updated_at)`, p)
	return err
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

// where accumulates "column = ?" clauses for list queries
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) eq(column string, value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, column+" = ?")
	w.args = append(w.args, value)
}

func (w *where) participant(value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, "(buyer_id = ? OR seller_id = ?)")
	w.args = append(w.args, value, value)
}

func (w *where) build(base string, limit int) (string, []interface{}) {
	query := base
	if len(w.clauses) > 0 {
		query += " WHERE " + strings.Join(w.clauses, " AND ")
	}
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	return query, append(w.args, limit)
}
