// Package offer определяет лучшую активную скидку товара (собственную или категории).
package offer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Source — откуда взята скидка.
type Source string

const (
	SourceNone     Source = "none"
	SourceItem     Source = "item"
	SourceCategory Source = "category"
)

// Best — результат выбора скидки; Percent всегда в [0, 100].
type Best struct {
	Percent int
	Source  Source
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// Resolver вычисляет скидки относительно часов и часового пояса витрины.
type Resolver struct {
	now func() time.Time
	loc *time.Location
}

// Option настраивает Resolver.
type Option func(*Resolver)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLocation задаёт часовой пояс, в котором считаются границы дней.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// NewResolver создаёт Resolver; по умолчанию системное время и UTC.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ActivePercent возвращает процент активного оффера или 0.
func (r *Resolver) ActivePercent(o *domain.Offer) int {
	if o == nil || !o.Active {
		return 0
	}
	percent := clampPercent(o.Percent)
	if percent == 0 {
		return 0
	}

	now := r.now().In(r.loc)
	if o.StartAt != "" {
		start, ok := r.parse(o.StartAt)
		if !ok {
			return 0
		}
		if now.Before(startOfDay(start)) {
			return 0
		}
	}
	if o.EndAt != "" {
		end, ok := r.parse(o.EndAt)
		if !ok {
			return 0
		}
		if now.After(endOfDay(end)) {
			return 0
		}
	}
	return percent
}

// BestOffer сравнивает оффер товара и категории; при равенстве побеждает товар.
// category может быть nil, если категория не найдена.
func (r *Resolver) BestOffer(product domain.Product, category *domain.Category) Best {
	best := Best{Source: SourceNone}

	if p := r.ActivePercent(product.Offer); p > best.Percent {
		best = Best{Percent: p, Source: SourceItem}
	}
	if best.Percent >= 100 || category == nil {
		return best
	}
	if p := r.ActivePercent(category.Offer); p > best.Percent {
		best = Best{Percent: p, Source: SourceCategory}
	}
	return best
}

// UnitPrice — цена товара с учётом лучшей скидки, округлённая до копеек.
func (r *Resolver) UnitPrice(product domain.Product, category *domain.Category) decimal.Decimal {
	return DiscountedPrice(product.Price, r.BestOffer(product, category).Percent)
}

// DiscountedPrice применяет процент к цене; отрицательная цена считается нулевой.
func DiscountedPrice(price decimal.Decimal, percent int) decimal.Decimal {
	return domain.ApplyPercent(domain.MaxZero(price), clampPercent(percent))
}

func (r *Resolver) parse(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, r.loc); err == nil {
			return t.In(r.loc), true
		}
	}
	return time.Time{}, false
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
