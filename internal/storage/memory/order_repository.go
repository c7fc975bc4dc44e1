package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх Store.
type orderRepository struct{ v view }

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order *domain.Order) error {
	if order.ID == "" {
		return domain.ErrInvalidInput.Withf("order id is required")
	}
	return r.v.write(func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderVersionConflict
		}
		order.Version = 1
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.v.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = o.Clone()
		return nil
	})
	return order, err
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	var result []domain.Order
	err := r.v.read(func(st *state) error {
		for _, order := range st.orders {
			if order.UserID == userID {
				result = append(result, order.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListAwaitingPayment возвращает самые старые неоплаченные GATEWAY-заказы.
func (r *orderRepository) ListAwaitingPayment(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	var result []domain.Order
	err := r.v.read(func(st *state) error {
		for _, order := range st.orders {
			if order.PaymentMethod != domain.PaymentMethodGateway ||
				order.PaymentStatus != domain.PaymentStatusPending ||
				order.Status == domain.OrderStatusCancelled ||
				!order.CreatedAt.Before(before) {
				continue
			}
			result = append(result, order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order *domain.Order) error {
	return r.v.write(func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}
		// Инкрементируем версию перед сохранением.
		order.Version++
		order.UpdatedAt = time.Now().UTC()
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
