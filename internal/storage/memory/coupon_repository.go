package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type couponRepository struct{ v view }

func (r *couponRepository) Get(_ context.Context, id string) (domain.Coupon, error) {
	var coupon domain.Coupon
	err := r.v.read(func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return domain.ErrCouponNotFound
		}
		coupon = c.Clone()
		return nil
	})
	return coupon, err
}

// GetByCode ищет купон по нормализованному коду.
func (r *couponRepository) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	var coupon domain.Coupon
	err := r.v.read(func(st *state) error {
		for _, c := range st.coupons {
			if c.Code == code {
				coupon = c.Clone()
				return nil
			}
		}
		return domain.ErrCouponNotFound
	})
	return coupon, err
}

func (r *couponRepository) Save(_ context.Context, coupon domain.Coupon) error {
	if coupon.ID == "" {
		return domain.ErrInvalidInput.Withf("coupon id is required")
	}
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	return r.v.write(func(st *state) error {
		for id, c := range st.coupons {
			if id != coupon.ID && c.Code == coupon.Code {
				return domain.ErrInvalidInput.Withf("coupon code %s already exists", coupon.Code)
			}
		}
		st.coupons[coupon.ID] = coupon.Clone()
		return nil
	})
}

func (r *couponRepository) RecordUsage(_ context.Context, couponID string, usage domain.CouponUsage) error {
	return r.v.write(func(st *state) error {
		c, ok := st.coupons[couponID]
		if !ok {
			return domain.ErrCouponNotFound
		}
		c = c.Clone()
		c.Usages = append(c.Usages, usage)
		st.coupons[couponID] = c
		return nil
	})
}

type addressRepository struct{ v view }

func (r *addressRepository) Get(_ context.Context, id string) (domain.Address, error) {
	var address domain.Address
	err := r.v.read(func(st *state) error {
		a, ok := st.addresses[id]
		if !ok {
			return domain.ErrAddressNotFound
		}
		address = a
		return nil
	})
	return address, err
}

func (r *addressRepository) Save(_ context.Context, address domain.Address) error {
	if address.ID == "" || address.UserID == "" {
		return domain.ErrInvalidInput.Withf("address id and user_id are required")
	}
	return r.v.write(func(st *state) error {
		st.addresses[address.ID] = address
		return nil
	})
}

var (
	_ domain.CouponRepository  = (*couponRepository)(nil)
	_ domain.AddressRepository = (*addressRepository)(nil)
)
