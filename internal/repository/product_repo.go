package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/schema"
)

// ErrDuplicateProduct is returned when registering a product id that already
// exists.
var ErrDuplicateProduct = errors.New("product id already registered")

// ProductRepo stores versioned product records keyed by product id.
type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// Create inserts a new product; a colliding id fails without mutation.
func (r *ProductRepo) Create(ctx context.Context, p *models.Product) error {
	record, err := schema.EncodeProduct(p)
	if err != nil {
		return err
	}
	result, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, record) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, record)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDuplicateProduct
	}
	return nil
}

// Get loads one product, migrating legacy records on read.
func (r *ProductRepo) Get(ctx context.Context, id string) (*models.Product, error) {
	var record []byte
	err := r.pool.QueryRow(ctx, `SELECT record FROM products WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return schema.DecodeProduct(record)
}

// List returns every registered product.
func (r *ProductRepo) List(ctx context.Context) ([]*models.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT record FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Product
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		p, err := schema.DecodeProduct(record)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save rewrites an existing product at the newest schema tag. Used by the
// enable/disable and key-rotation operations; products are never deleted.
func (r *ProductRepo) Save(ctx context.Context, p *models.Product) error {
	record, err := schema.EncodeProduct(p)
	if err != nil {
		return err
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE products SET record = $2, updated_at = now() WHERE id = $1
	`, p.ID, record)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
