package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/becon/pricing-engine/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT p.id, p.name, p.store_id, p.base_price, d.percentage
		FROM products p
		LEFT JOIN product_discounts d ON d.product_id = p.id
		WHERE p.id = $1 AND NOT p.is_deleted`

	getProductsSQL = `SELECT p.id, p.name, p.store_id, p.base_price, d.percentage
		FROM products p
		LEFT JOIN product_discounts d ON d.product_id = p.id
		WHERE p.id = ANY($1) AND NOT p.is_deleted
		ORDER BY p.id`

	updateBasePriceSQL = `UPDATE products SET base_price = $2, updated_at = now() WHERE id = $1`

	upsertDiscountSQL = `INSERT INTO product_discounts (product_id, percentage)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET percentage = EXCLUDED.percentage, updated_at = now()`

	deleteDiscountSQL = `DELETE FROM product_discounts WHERE product_id = $1`

	restockProductSQL = `UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID fetches one product with its discount record.
// Returns catalog.ErrNotFound when the product does not exist or is deleted.
func (r *CatalogRepository) GetByID(ctx context.Context, id int64) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding product %d: %w", id, err)
	}
	return &p, nil
}

// GetByIDs fetches the products with the given IDs. Missing or deleted
// products are silently absent from the result.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// UpdatePricing sets the product's base price and replaces its discount
// record atomically. A nil discount deletes the record.
func (r *CatalogRepository) UpdatePricing(ctx context.Context, id int64, base decimal.Decimal, discount *catalog.Discount) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning pricing update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, updateBasePriceSQL, id, base)
	if err != nil {
		return fmt.Errorf("updating base price of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}

	if discount != nil {
		_, err = tx.Exec(ctx, upsertDiscountSQL, id, discount.Percentage)
	} else {
		_, err = tx.Exec(ctx, deleteDiscountSQL, id)
	}
	if err != nil {
		return fmt.Errorf("updating discount of product %d: %w", id, err)
	}

	return tx.Commit(ctx)
}

// Restock returns a cancelled quantity to the product's inventory.
func (r *CatalogRepository) Restock(ctx context.Context, id int64, qty int) error {
	_, err := r.pool.Exec(ctx, restockProductSQL, id, qty)
	if err != nil {
		return fmt.Errorf("restocking product %d: %w", id, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p          catalog.Product
		percentage *decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.StoreID, &p.BasePrice, &percentage)
	if err != nil {
		return p, err
	}
	if percentage != nil {
		p.Discount = &catalog.Discount{ProductID: p.ID, Percentage: *percentage}
	}
	return p, nil
}
