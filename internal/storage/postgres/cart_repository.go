package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Уникальность корзины пользователя обеспечивает индекс carts.user_id.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) (saved domain.Cart, err error) {
	if cart.UserID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
		cart.CreatedAt = now
		cart.UpdatedAt = now
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4)
		`, cart.ID, cart.UserID, cart.CreatedAt, cart.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.Cart{}, domain.ErrCartAlreadyExists
			}
			return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
		}
	} else {
		cart.UpdatedAt = now
		var res sql.Result
		res, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cart.ID, cart.UpdatedAt)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("update cart: %w", err)
		}
		var affected int64
		if affected, err = res.RowsAffected(); err != nil {
			return domain.Cart{}, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			err = domain.ErrCartNotFound
			return domain.Cart{}, err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
			return domain.Cart{}, fmt.Errorf("clear cart items: %w", err)
		}
	}

	for i, item := range cart.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, position, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, cart.ID, i, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return domain.Cart{}, fmt.Errorf("insert cart item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Cart{}, fmt.Errorf("commit save cart: %w", err)
	}
	return cart.Clone(), nil
}

func (r *cartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	return r.load(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1`, id)
}

func (r *cartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.load(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID)
}

func (r *cartRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *cartRepository) load(ctx context.Context, query string, arg string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cart domain.Cart
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		total = total.Add(domain.LineSubtotal(item.Quantity, item.UnitPrice))
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}
	cart.Total = domain.RoundMoney(total)
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return cart, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
