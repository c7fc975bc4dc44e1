package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	q querier
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	cart := domain.Cart{UserID: userID}
	err := r.q.QueryRowContext(ctx, `
		SELECT coupon_id, coupon_code, discount_total, version, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&cart.CouponID, &cart.CouponCode, &cart.DiscountTotal, &cart.Version, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, line_total
		FROM cart_items
		WHERE user_id = $1
		ORDER BY position ASC
	`, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}

	return cart, nil
}

// Save пишет корзину целиком. Version 0 означает новую корзину, иначе UPDATE идёт по версии.
func (r *cartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrInvalidInput.Withf("cart user_id is required")
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	err := atomic(ctx, r.q, func(q querier) error {
		var (
			res sql.Result
			err error
		)
		if cart.Version == 0 {
			res, err = q.ExecContext(ctx, `
				INSERT INTO carts (user_id, coupon_id, coupon_code, discount_total, version, updated_at)
				VALUES ($1,$2,$3,$4,1,$5)
				ON CONFLICT (user_id) DO NOTHING
			`, cart.UserID, cart.CouponID, cart.CouponCode, cart.DiscountTotal, now)
		} else {
			res, err = q.ExecContext(ctx, `
				UPDATE carts
				SET coupon_id = $3,
				    coupon_code = $4,
				    discount_total = $5,
				    version = version + 1,
				    updated_at = $6
				WHERE user_id = $1 AND version = $2
			`, cart.UserID, cart.Version, cart.CouponID, cart.CouponCode, cart.DiscountTotal, now)
		}
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("save cart rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrCartVersionConflict
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, cart.UserID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		for i, item := range cart.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO cart_items (user_id, position, product_id, quantity, unit_price, line_total)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, cart.UserID, i, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	cart.Version++
	cart.UpdatedAt = now
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
