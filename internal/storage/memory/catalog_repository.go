package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct{ v view }

func (r *catalogRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := r.v.read(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		product = p
		return nil
	})
	return product, err
}

func (r *catalogRepository) GetCategory(_ context.Context, id string) (domain.Category, error) {
	var category domain.Category
	err := r.v.read(func(st *state) error {
		c, ok := st.categories[id]
		if !ok {
			return domain.ErrCategoryNotFound
		}
		category = c
		return nil
	})
	return category, err
}

func (r *catalogRepository) SaveProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return domain.ErrInvalidInput.Withf("product id is required")
	}
	if product.Stock < 0 {
		return domain.ErrInvalidInput.Withf("product stock must be non-negative")
	}
	return r.v.write(func(st *state) error {
		product.UpdatedAt = time.Now().UTC()
		st.products[product.ID] = product
		return nil
	})
}

func (r *catalogRepository) SaveCategory(_ context.Context, category domain.Category) error {
	if category.ID == "" {
		return domain.ErrInvalidInput.Withf("category id is required")
	}
	return r.v.write(func(st *state) error {
		category.UpdatedAt = time.Now().UTC()
		st.categories[category.ID] = category
		return nil
	})
}

// AdjustStock меняет остаток условно: результат не может стать отрицательным.
func (r *catalogRepository) AdjustStock(_ context.Context, productID string, delta int) error {
	return r.v.write(func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.Stock+delta < 0 {
			return domain.ErrInsufficientStock.Withf("insufficient stock for %s", p.Name)
		}
		p.Stock += delta
		p.UpdatedAt = time.Now().UTC()
		st.products[productID] = p
		return nil
	})
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
