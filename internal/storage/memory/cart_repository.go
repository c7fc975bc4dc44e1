package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct{ v view }

// Get возвращает копию корзины или ErrCartNotFound.
func (r *cartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := r.v.read(func(st *state) error {
		c, ok := st.carts[userID]
		if !ok {
			return domain.ErrCartNotFound
		}
		cart = c.Clone()
		return nil
	})
	return cart, err
}

// Save сохраняет корзину, проверяя версию (optimistic locking). Новая корзина создаётся с Version 0.
func (r *cartRepository) Save(_ context.Context, cart *domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrInvalidInput.Withf("cart user_id is required")
	}
	return r.v.write(func(st *state) error {
		current, ok := st.carts[cart.UserID]
		switch {
		case ok && current.Version != cart.Version:
			return domain.ErrCartVersionConflict
		case !ok && cart.Version != 0:
			return domain.ErrCartVersionConflict
		}
		cart.Version++
		cart.UpdatedAt = time.Now().UTC()
		st.carts[cart.UserID] = cart.Clone()
		return nil
	})
}

var _ domain.CartRepository = (*cartRepository)(nil)
