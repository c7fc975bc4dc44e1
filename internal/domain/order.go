package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа и отдельной позиции.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	// OrderStatusCancelled — терминальная боковая ветка до доставки.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusReturned — терминальная боковая ветка после доставки.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusPendingReturn — позиция ожидает решения по заявке на возврат.
	OrderStatusPendingReturn OrderStatus = "PENDING_RETURN"
)

var forwardRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusConfirmed:      1,
	OrderStatusShipped:        2,
	OrderStatusOutForDelivery: 3,
	OrderStatusDelivered:      4,
}

// Rank возвращает позицию статуса в прямой цепочке; ok=false для боковых веток.
func (s OrderStatus) Rank() (int, bool) {
	r, ok := forwardRank[s]
	return r, ok
}

// Terminal сообщает, что позиция больше никуда не переходит.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// Cancellable — позицию ещё можно отменить (до доставки).
func (s OrderStatus) Cancellable() bool {
	r, ok := s.Rank()
	return ok && r < forwardRank[OrderStatusDelivered]
}

// AdminTarget — статусы, которые может выставить администратор.
func (s OrderStatus) AdminTarget() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// CanAdvance проверяет строго прямой переход по цепочке.
func CanAdvance(from, to OrderStatus) bool {
	fr, ok := from.Rank()
	if !ok {
		return false
	}
	tr, ok := to.Rank()
	if !ok {
		return false
	}
	return tr > fr
}

// OrderItem — снимок строки корзины в момент оформления.
type OrderItem struct {
	ID           string
	ProductID    string
	Name         string
	Image        string
	UnitPrice    decimal.Decimal
	Quantity     int
	LineTotal    decimal.Decimal
	Status       OrderStatus
	CancelReason string
	ReturnReason string
	// Refunded — сумма, фактически зачисленная в кошелёк за эту позицию.
	Refunded decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID               string
	Code             string
	UserID           string
	Address          AddressSnapshot
	Items            []OrderItem
	Subtotal         decimal.Decimal
	DiscountTotal    decimal.Decimal
	ShippingFee      decimal.Decimal
	GrandTotal       decimal.Decimal
	CouponID         string
	CouponCode       string
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	Status           OrderStatus
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	// StockReserved — остаток уже списан (COD/WALLET сразу, GATEWAY после подтверждения оплаты).
	StockReserved bool
	CancelReason  string
	DeliveredAt   *time.Time
	PaidAt        *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Item возвращает указатель на позицию заказа по ID.
func (o *Order) Item(itemID string) (*OrderItem, error) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], nil
		}
	}
	return nil, ErrOrderItemNotFound
}

// AllItemsTerminal — все позиции отменены или возвращены.
func (o *Order) AllItemsTerminal() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if !it.Status.Terminal() {
			return false
		}
	}
	return true
}

// ItemRefund считает возврат по позиции: её сумма за вычетом доли скидки заказа,
// округлённая до копеек. Возврат не превышает остатка оплаченной суммы после уже
// проведённых возвратов, поэтому сумма возвратов по заказу не больше GrandTotal.
func (o *Order) ItemRefund(item OrderItem) decimal.Decimal {
	if !o.GrandTotal.IsPositive() {
		return decimal.Zero
	}
	share := decimal.Zero
	if o.Subtotal.IsPositive() {
		share = o.DiscountTotal.Mul(item.LineTotal).Div(o.Subtotal)
	}
	refund := MaxZero(Round2(item.LineTotal.Sub(share)))
	return decimal.Min(refund, o.RefundableRemainder())
}

// RefundableRemainder — часть GrandTotal, ещё не возвращённая в кошелёк.
func (o *Order) RefundableRemainder() decimal.Decimal {
	return MaxZero(o.GrandTotal.Sub(o.RefundedAmount()))
}

// RefundItem фиксирует возврат по позиции и возвращает сумму к зачислению.
func (o *Order) RefundItem(item *OrderItem) decimal.Decimal {
	refund := o.ItemRefund(*item)
	item.Refunded = item.Refunded.Add(refund)
	return refund
}

// RefundRemainder возвращает всю ещё не возвращённую часть GrandTotal: позициям без
// возврата их доля, остаток (доставка, копейки округления) последней позиции.
func (o *Order) RefundRemainder() decimal.Decimal {
	due := o.RefundableRemainder()
	if !due.IsPositive() || len(o.Items) == 0 {
		return decimal.Zero
	}
	for i := range o.Items {
		if o.Items[i].Refunded.IsZero() {
			o.RefundItem(&o.Items[i])
		}
	}
	last := &o.Items[len(o.Items)-1]
	last.Refunded = last.Refunded.Add(o.RefundableRemainder())
	return due
}

// RefundedAmount — сумма возвратов, зачисленных по позициям заказа.
func (o *Order) RefundedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Refunded)
	}
	return total
}

// Refundable — возврат при отмене положен только за реально оплаченный не-COD заказ.
func (o *Order) Refundable() bool {
	return o.PaymentStatus == PaymentStatusPaid && o.PaymentMethod != PaymentMethodCOD
}

// AwaitingGatewayPayment — заказ оплачивается через шлюз, а оплата ещё не подтверждена.
// Пока деньги не получены, позиции отменяются только вместе со всем заказом.
func (o *Order) AwaitingGatewayPayment() bool {
	return o.PaymentMethod == PaymentMethodGateway &&
		(o.PaymentStatus == PaymentStatusPending || o.PaymentStatus == PaymentStatusFailed)
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	cp := o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	return cp
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrInvalidInput.Withf("user_id is required"))
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrInvalidInput.Withf("order must contain at least one item"))
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrInvalidInput.Withf("unsupported payment method %q", o.PaymentMethod))
	}
	if o.GrandTotal.IsNegative() {
		errs = append(errs, ErrInvalidInput.Withf("grand_total must be non-negative"))
	}

	// Сверяем subtotal с суммой позиций: qty * unit price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity.Withf("item %s qty must be greater than zero", item.ID))
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrInvalidInput.Withf("item %s price must be non-negative", item.ID))
		}
		calc = calc.Add(item.LineTotal)
	}
	if !calc.Equal(o.Subtotal) {
		errs = append(errs, ErrInvalidInput.Withf("order subtotal does not match items sum"))
	}
	want := MaxZero(o.Subtotal.Sub(o.DiscountTotal).Add(o.ShippingFee))
	if !want.Equal(o.GrandTotal) {
		errs = append(errs, ErrInvalidInput.Withf("grand_total does not match subtotal - discount + shipping"))
	}

	return errs
}
