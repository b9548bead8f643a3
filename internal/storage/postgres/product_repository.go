package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога и складского учёта.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

const productColumns = `id, name, unit_price, stock, status`

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, stock, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    unit_price = EXCLUDED.unit_price,
		    stock = EXCLUDED.stock,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.UnitPrice, product.Stock, string(product.Status), now); err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) ListVisible(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE status = 'active' AND stock > 0
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) CheckAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	product, err := r.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return quantity > 0 && product.Stock >= quantity, nil
}

// Decrement списывает остаток одним условным UPDATE: проверка и вычитание
// выполняются атомарно под блокировкой строки.
func (r *productRepository) Decrement(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product domain.Product
		status  string
	)
	if err := row.Scan(&product.ID, &product.Name, &product.UnitPrice, &product.Stock, &status); err != nil {
		return domain.Product{}, err
	}
	product.Status = domain.ProductStatus(status)
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
