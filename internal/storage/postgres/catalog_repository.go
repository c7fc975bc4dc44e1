package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct {
	q querier
}

// offerColumns — nullable-представление оффера: offer_percent IS NULL означает «оффера нет».
type offerColumns struct {
	percent sql.NullInt32
	active  bool
	start   string
	end     string
}

func (c offerColumns) offer() *domain.Offer {
	if !c.percent.Valid {
		return nil
	}
	return &domain.Offer{
		Percent: int(c.percent.Int32),
		Active:  c.active,
		StartAt: c.start,
		EndAt:   c.end,
	}
}

func offerArgs(o *domain.Offer) (sql.NullInt32, bool, string, string) {
	if o == nil {
		return sql.NullInt32{}, false, "", ""
	}
	return sql.NullInt32{Int32: int32(o.Percent), Valid: true}, o.Active, o.StartAt, o.EndAt
}

func (r *catalogRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		p     domain.Product
		offer offerColumns
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, image, category_id, price, stock, active, deleted,
		       offer_percent, offer_active, offer_start, offer_end, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &p.Image, &p.CategoryID, &p.Price, &p.Stock, &p.Active, &p.Deleted,
		&offer.percent, &offer.active, &offer.start, &offer.end, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	p.Offer = offer.offer()
	return p, nil
}

func (r *catalogRepository) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		c     domain.Category
		offer offerColumns
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, active, deleted, offer_percent, offer_active, offer_start, offer_end, updated_at
		FROM categories
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Active, &c.Deleted,
		&offer.percent, &offer.active, &offer.start, &offer.end, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, fmt.Errorf("get category: %w", err)
	}
	c.Offer = offer.offer()
	return c, nil
}

// SaveProduct создаёт или полностью перезаписывает товар.
func (r *catalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" {
		return domain.ErrInvalidInput.Withf("product id is required")
	}
	if product.Stock < 0 {
		return domain.ErrInvalidInput.Withf("product stock must be non-negative")
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	percent, active, start, end := offerArgs(product.Offer)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (
			id, name, image, category_id, price, stock, active, deleted,
			offer_percent, offer_active, offer_start, offer_end, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			category_id = EXCLUDED.category_id,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			deleted = EXCLUDED.deleted,
			offer_percent = EXCLUDED.offer_percent,
			offer_active = EXCLUDED.offer_active,
			offer_start = EXCLUDED.offer_start,
			offer_end = EXCLUDED.offer_end,
			updated_at = EXCLUDED.updated_at
	`,
		product.ID, product.Name, product.Image, product.CategoryID, product.Price, product.Stock,
		product.Active, product.Deleted, percent, active, start, end, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (r *catalogRepository) SaveCategory(ctx context.Context, category domain.Category) error {
	if category.ID == "" {
		return domain.ErrInvalidInput.Withf("category id is required")
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	percent, active, start, end := offerArgs(category.Offer)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO categories (
			id, name, active, deleted, offer_percent, offer_active, offer_start, offer_end, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			deleted = EXCLUDED.deleted,
			offer_percent = EXCLUDED.offer_percent,
			offer_active = EXCLUDED.offer_active,
			offer_start = EXCLUDED.offer_start,
			offer_end = EXCLUDED.offer_end,
			updated_at = EXCLUDED.updated_at
	`,
		category.ID, category.Name, category.Active, category.Deleted,
		percent, active, start, end, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	return nil
}

// AdjustStock меняет остаток одним условным UPDATE: строка не обновится, если остаток ушёл бы в минус.
func (r *catalogRepository) AdjustStock(ctx context.Context, productID string, delta int) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = $3
		WHERE id = $1 AND stock + $2 >= 0
	`, productID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var name string
	err = r.q.QueryRowContext(ctx, `SELECT name FROM products WHERE id = $1`, productID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("check product exists: %w", err)
	}
	return domain.ErrInsufficientStock.Withf("insufficient stock for %s", name)
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
