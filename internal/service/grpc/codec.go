package grpcsvc

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfilment"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
)

// args — поля входящего google.protobuf.Struct.
type args map[string]*structpb.Value

func argsOf(req *structpb.Struct) args {
	return args(req.GetFields())
}

func (a args) str(name string) string {
	return strings.TrimSpace(a[name].GetStringValue())
}

func (a args) required(name string) (string, error) {
	v := a.str(name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

// integer принимает как number, так и строку с числом.
func (a args) integer(name string) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return int(n), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(kind.StringValue))
		if err != nil || !d.IsInteger() {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return int(d.IntPart()), nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
}

// amount читает денежную сумму из строки или числа.
func (a args) amount(name string) (decimal.Decimal, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal", name)
		}
		return d, nil
	default:
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal", name)
	}
}

func (a args) callback() (domain.PaymentCallback, error) {
	orderID, err := a.required("gateway_order_id")
	if err != nil {
		return domain.PaymentCallback{}, err
	}
	paymentID, err := a.required("gateway_payment_id")
	if err != nil {
		return domain.PaymentCallback{}, err
	}
	signature, err := a.required("signature")
	if err != nil {
		return domain.PaymentCallback{}, err
	}
	return domain.PaymentCallback{GatewayOrderID: orderID, GatewayPaymentID: paymentID, Signature: signature}, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func cartFields(view cart.View) map[string]any {
	lines := make([]any, 0, len(view.Quote.Lines))
	for _, line := range view.Quote.Lines {
		lines = append(lines, map[string]any{
			"product_id":    line.Item.ProductID,
			"name":          line.Product.Name,
			"image":         line.Product.Image,
			"quantity":      line.Item.Quantity,
			"unit_price":    money(line.Item.UnitPrice),
			"line_total":    money(line.Item.LineTotal),
			"offer_percent": line.Offer.Percent,
			"offer_source":  string(line.Offer.Source),
		})
	}
	excluded := make([]any, 0, len(view.Quote.Excluded))
	for _, id := range view.Quote.Excluded {
		excluded = append(excluded, id)
	}

	fields := map[string]any{
		"user_id":         view.Cart.UserID,
		"items":           lines,
		"excluded":        excluded,
		"coupon_code":     view.Cart.CouponCode,
		"subtotal":        money(view.Quote.Subtotal),
		"discount_total":  money(view.Quote.DiscountTotal),
		"shipping_fee":    money(view.Quote.ShippingFee),
		"grand_total":     money(view.Quote.GrandTotal),
		"coupon_detached": view.Quote.CouponDetached,
		"version":         float64(view.Cart.Version),
	}
	if view.Quote.CouponReason != nil {
		fields["coupon_reason"] = errorCode(view.Quote.CouponReason)
	}
	return fields
}

func orderFields(order domain.Order) map[string]any {
	items := make([]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"id":            item.ID,
			"product_id":    item.ProductID,
			"name":          item.Name,
			"image":         item.Image,
			"unit_price":    money(item.UnitPrice),
			"quantity":      item.Quantity,
			"line_total":    money(item.LineTotal),
			"status":        string(item.Status),
			"cancel_reason": item.CancelReason,
			"return_reason": item.ReturnReason,
		})
	}
	return map[string]any{
		"id":             order.ID,
		"code":           order.Code,
		"user_id":        order.UserID,
		"items":          items,
		"subtotal":       money(order.Subtotal),
		"discount_total": money(order.DiscountTotal),
		"shipping_fee":   money(order.ShippingFee),
		"grand_total":    money(order.GrandTotal),
		"coupon_code":    order.CouponCode,
		"payment_method": string(order.PaymentMethod),
		"payment_status": string(order.PaymentStatus),
		"status":         string(order.Status),
		"cancel_reason":  order.CancelReason,
		"address": map[string]any{
			"full_name": order.Address.FullName,
			"phone":     order.Address.Phone,
			"line1":     order.Address.Line1,
			"line2":     order.Address.Line2,
			"city":      order.Address.City,
			"state":     order.Address.State,
			"pincode":   order.Address.Pincode,
			"country":   order.Address.Country,
		},
		"delivered_at": optionalTime(order.DeliveredAt),
		"paid_at":      optionalTime(order.PaidAt),
		"created_at":   timestamp(order.CreatedAt),
		"updated_at":   timestamp(order.UpdatedAt),
	}
}

func checkoutFields(c domain.GatewayCheckout) map[string]any {
	return map[string]any{
		"key_id":           c.KeyID,
		"gateway_order_id": c.GatewayOrderID,
		"amount_minor":     float64(c.AmountMinor),
		"currency":         c.Currency,
		"receipt":          c.Receipt,
	}
}

func placementFields(p checkout.Placement) map[string]any {
	fields := map[string]any{"order": orderFields(p.Order)}
	if p.Gateway != nil {
		fields["gateway"] = checkoutFields(*p.Gateway)
	}
	return fields
}

func orderDetailFields(detail fulfilment.OrderDetail) map[string]any {
	timeline := make([]any, 0, len(detail.Timeline))
	for _, ev := range detail.Timeline {
		timeline = append(timeline, map[string]any{
			"type":     ev.Type,
			"reason":   ev.Reason,
			"occurred": timestamp(ev.Occurred),
		})
	}
	return map[string]any{
		"order":           orderFields(detail.Order),
		"refunded_amount": money(detail.RefundedAmount),
		"timeline":        timeline,
	}
}

func ordersFields(orders []domain.Order) map[string]any {
	list := make([]any, 0, len(orders))
	for _, order := range orders {
		list = append(list, orderFields(order))
	}
	return map[string]any{"orders": list}
}

func returnFields(r domain.ReturnRequest) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"order_id":     r.OrderID,
		"item_id":      r.ItemID,
		"user_id":      r.UserID,
		"reason":       r.Reason,
		"status":       string(r.Status),
		"processed_at": optionalTime(r.ProcessedAt),
		"created_at":   timestamp(r.CreatedAt),
	}
}

func returnsFields(requests []domain.ReturnRequest) map[string]any {
	list := make([]any, 0, len(requests))
	for _, r := range requests {
		list = append(list, returnFields(r))
	}
	return map[string]any{"returns": list}
}

func walletFields(view wallet.View) map[string]any {
	txs := make([]any, 0, len(view.Transactions))
	for _, tx := range view.Transactions {
		txs = append(txs, map[string]any{
			"id":          tx.ID,
			"type":        string(tx.Type),
			"amount":      money(tx.Amount),
			"reason":      string(tx.Reason),
			"description": tx.Description,
			"order_id":    tx.OrderID,
			"reference":   tx.Reference,
			"created_at":  timestamp(tx.CreatedAt),
		})
	}
	return map[string]any{
		"user_id":       view.UserID,
		"balance":       money(view.Balance),
		"transactions":  txs,
		"total_credits": money(view.TotalCredits),
		"total_debits":  money(view.TotalDebits),
	}
}
