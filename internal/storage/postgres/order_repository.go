package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	q querier
}

// addressJSON — снимок адреса в колонке orders.address.
type addressJSON struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Country  string `json:"country"`
}

func encodeAddress(a domain.AddressSnapshot) ([]byte, error) {
	return json.Marshal(addressJSON(a))
}

func decodeAddress(raw []byte) (domain.AddressSnapshot, error) {
	var a addressJSON
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.AddressSnapshot{}, fmt.Errorf("decode order address: %w", err)
	}
	return domain.AddressSnapshot(a), nil
}

const orderColumns = `
	id, code, user_id, address, subtotal, discount_total, shipping_fee, grand_total,
	coupon_id, coupon_code, payment_method, payment_status, status,
	gateway_order_id, gateway_payment_id, gateway_signature, stock_reserved, cancel_reason,
	delivered_at, paid_at, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                     domain.Order
		address               []byte
		method, payment, stat string
		deliveredAt, paidAt   sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.Code, &o.UserID, &address, &o.Subtotal, &o.DiscountTotal, &o.ShippingFee, &o.GrandTotal,
		&o.CouponID, &o.CouponCode, &method, &payment, &stat,
		&o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature, &o.StockReserved, &o.CancelReason,
		&deliveredAt, &paidAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	snapshot, err := decodeAddress(address)
	if err != nil {
		return domain.Order{}, err
	}
	o.Address = snapshot
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.Status = domain.OrderStatus(stat)
	o.DeliveredAt = timePtr(deliveredAt)
	o.PaidAt = timePtr(paidAt)
	return o, nil
}

// Create вставляет заказ вместе с позициями; занятый ID даёт ErrOrderVersionConflict.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		return domain.ErrInvalidInput.Withf("order id is required")
	}

	address, err := encodeAddress(order.Address)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	err = atomic(ctx, r.q, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,1,$21,$22)
		`,
			order.ID, order.Code, order.UserID, address,
			order.Subtotal, order.DiscountTotal, order.ShippingFee, order.GrandTotal,
			order.CouponID, order.CouponCode,
			string(order.PaymentMethod), string(order.PaymentStatus), string(order.Status),
			order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
			order.StockReserved, order.CancelReason,
			nullTime(order.DeliveredAt), nullTime(order.PaidAt),
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertItems(ctx, q, order.ID, order.Items)
	})
	if err != nil {
		return err
	}

	order.Version = 1
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListAwaitingPayment возвращает самые старые неоплаченные GATEWAY-заказы.
func (r *orderRepository) ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE payment_method = 'GATEWAY'
		  AND payment_status = 'PENDING'
		  AND status <> 'CANCELLED'
		  AND created_at < $1
		ORDER BY created_at ASC, id ASC`
	args := []any{before.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *orderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// Save перезаписывает заказ по версии и полностью заменяет позиции.
func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	address, err := encodeAddress(order.Address)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	err = atomic(ctx, r.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders
			SET address = $3,
			    subtotal = $4,
			    discount_total = $5,
			    shipping_fee = $6,
			    grand_total = $7,
			    coupon_id = $8,
			    coupon_code = $9,
			    payment_method = $10,
			    payment_status = $11,
			    status = $12,
			    gateway_order_id = $13,
			    gateway_payment_id = $14,
			    gateway_signature = $15,
			    stock_reserved = $16,
			    cancel_reason = $17,
			    delivered_at = $18,
			    paid_at = $19,
			    version = version + 1,
			    updated_at = $20
			WHERE id = $1 AND version = $2
		`,
			order.ID, order.Version, address,
			order.Subtotal, order.DiscountTotal, order.ShippingFee, order.GrandTotal,
			order.CouponID, order.CouponCode,
			string(order.PaymentMethod), string(order.PaymentStatus), string(order.Status),
			order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
			order.StockReserved, order.CancelReason,
			nullTime(order.DeliveredAt), nullTime(order.PaidAt), now,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		return insertItems(ctx, q, order.ID, order.Items)
	})
	if err != nil {
		return err
	}

	order.Version++
	order.UpdatedAt = now
	return nil
}

func insertItems(ctx context.Context, q querier, orderID string, items []domain.OrderItem) error {
	for i, item := range items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, name, image, unit_price, quantity, line_total,
				status, cancel_reason, return_reason, refunded
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			item.ID, orderID, i, item.ProductID, item.Name, item.Image, item.UnitPrice, item.Quantity,
			item.LineTotal, string(item.Status), item.CancelReason, item.ReturnReason, item.Refunded,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// loadItems подгружает позиции сразу для нескольких заказов одним запросом.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	placeholders := make([]string, len(orderIDs))
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, id, product_id, name, image, unit_price, quantity, line_total,
		       status, cancel_reason, return_reason, refunded
		FROM order_items
		WHERE order_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY order_id, position ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
			status  string
		)
		if err := rows.Scan(
			&orderID, &item.ID, &item.ProductID, &item.Name, &item.Image, &item.UnitPrice, &item.Quantity,
			&item.LineTotal, &status, &item.CancelReason, &item.ReturnReason, &item.Refunded,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Status = domain.OrderStatus(status)
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return result, nil
}

func orderExists(ctx context.Context, q querier, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
