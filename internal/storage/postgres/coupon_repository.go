package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type couponRepository struct {
	q querier
}

const couponColumns = `id, code, type, value, max_discount, min_purchase, usage_limit, expires_at, active, created_at`

func (r *couponRepository) Get(ctx context.Context, id string) (domain.Coupon, error) {
	return r.getBy(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id)
}

// GetByCode ищет купон по нормализованному коду.
func (r *couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return r.getBy(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, domain.NormalizeCouponCode(code))
}

func (r *couponRepository) getBy(ctx context.Context, query string, arg string) (domain.Coupon, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		c       domain.Coupon
		typeRaw string
	)
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.Code, &typeRaw, &c.Value, &c.MaxDiscount, &c.MinPurchase,
		&c.UsageLimit, &c.ExpiresAt, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	c.Type = domain.CouponType(typeRaw)

	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id, order_id, used_at
		FROM coupon_usages
		WHERE coupon_id = $1
		ORDER BY used_at ASC, id ASC
	`, c.ID)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("load coupon usages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.CouponUsage
		if err := rows.Scan(&u.UserID, &u.OrderID, &u.UsedAt); err != nil {
			return domain.Coupon{}, fmt.Errorf("scan coupon usage: %w", err)
		}
		c.Usages = append(c.Usages, u)
	}
	if err := rows.Err(); err != nil {
		return domain.Coupon{}, fmt.Errorf("iterate coupon usages: %w", err)
	}

	return c, nil
}

// Save создаёт или обновляет купон; журнал использований не трогается.
func (r *couponRepository) Save(ctx context.Context, coupon domain.Coupon) error {
	if coupon.ID == "" {
		return domain.ErrInvalidInput.Withf("coupon id is required")
	}
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO coupons (
			id, code, type, value, max_discount, min_purchase, usage_limit, expires_at, active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount,
			min_purchase = EXCLUDED.min_purchase,
			usage_limit = EXCLUDED.usage_limit,
			expires_at = EXCLUDED.expires_at,
			active = EXCLUDED.active
	`,
		coupon.ID, coupon.Code, string(coupon.Type), coupon.Value, coupon.MaxDiscount, coupon.MinPurchase,
		coupon.UsageLimit, coupon.ExpiresAt.UTC(), coupon.Active, coupon.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrInvalidInput.Withf("coupon code %s already exists", coupon.Code)
		}
		return fmt.Errorf("save coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) RecordUsage(ctx context.Context, couponID string, usage domain.CouponUsage) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, order_id, used_at)
		SELECT id, $2, $3, $4 FROM coupons WHERE id = $1
	`, couponID, usage.UserID, usage.OrderID, usage.UsedAt.UTC())
	if err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coupon usage rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

type addressRepository struct {
	q querier
}

func (r *addressRepository) Get(ctx context.Context, id string) (domain.Address, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var a domain.Address
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, phone, line1, line2, city, state, pincode, country, deleted, created_at
		FROM addresses
		WHERE id = $1
	`, id).Scan(
		&a.ID, &a.UserID, &a.FullName, &a.Phone, &a.Line1, &a.Line2,
		&a.City, &a.State, &a.Pincode, &a.Country, &a.Deleted, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Address{}, domain.ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("get address: %w", err)
	}
	return a, nil
}

func (r *addressRepository) Save(ctx context.Context, address domain.Address) error {
	if address.ID == "" || address.UserID == "" {
		return domain.ErrInvalidInput.Withf("address id and user_id are required")
	}
	if address.CreatedAt.IsZero() {
		address.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO addresses (
			id, user_id, full_name, phone, line1, line2, city, state, pincode, country, deleted, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone,
			line1 = EXCLUDED.line1,
			line2 = EXCLUDED.line2,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			pincode = EXCLUDED.pincode,
			country = EXCLUDED.country,
			deleted = EXCLUDED.deleted
	`,
		address.ID, address.UserID, address.FullName, address.Phone, address.Line1, address.Line2,
		address.City, address.State, address.Pincode, address.Country, address.Deleted, address.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save address: %w", err)
	}
	return nil
}

var (
	_ domain.CouponRepository  = (*couponRepository)(nil)
	_ domain.AddressRepository = (*addressRepository)(nil)
)
