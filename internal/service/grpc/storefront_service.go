// Package grpcsvc — gRPC-транспорт витрины storefront.v1.Storefront.
package grpcsvc

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfilment"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
	storefrontv1 "github.com/vladislavdragonenkov/storefront/proto/storefront/v1"
)

const defaultListLimit = 100

// Dependencies — сервисы, которые обслуживает gRPC-слой.
type Dependencies struct {
	Carts       *cart.Service
	Checkout    *checkout.Service
	Fulfilment  *fulfilment.Service
	Wallets     *wallet.Service
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
}

// Server реализует storefront.v1.Storefront поверх доменных сервисов.
type Server struct {
	storefrontv1.UnimplementedStorefrontServer

	carts      *cart.Service
	checkout   *checkout.Service
	fulfilment *fulfilment.Service
	wallets    *wallet.Service
	idem       domain.IdempotencyRepository
	logger     *log.Entry
	now        func() time.Time
}

// NewServer конструирует сервис. Без репозитория идемпотентности мутации выполняются без кэша.
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "grpc-storefront")
	}
	return &Server{
		carts:      deps.Carts,
		checkout:   deps.Checkout,
		fulfilment: deps.Fulfilment,
		wallets:    deps.Wallets,
		idem:       deps.Idempotency,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// mutate оборачивает мутирующий вызов идемпотентностью и маппингом ошибок.
func (s *Server) mutate(ctx context.Context, method string, req *structpb.Struct, fn func(context.Context, args) (map[string]any, error)) (*structpb.Struct, error) {
	return s.withIdempotency(ctx, storefrontv1.FullMethod(method), req, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return s.query(ctx, req, fn)
	})
}

func (s *Server) query(ctx context.Context, req *structpb.Struct, fn func(context.Context, args) (map[string]any, error)) (*structpb.Struct, error) {
	fields, err := fn(ctx, argsOf(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(fields)
}

func cartResult(view cart.View, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return cartFields(view), nil
}

func orderResult(order domain.Order, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": orderFields(order)}, nil
}

// userAndProduct читает обязательные user_id и product_id.
func userAndProduct(a args) (string, string, error) {
	userID, err := a.required("user_id")
	if err != nil {
		return "", "", err
	}
	productID, err := a.required("product_id")
	if err != nil {
		return "", "", err
	}
	return userID, productID, nil
}

func userAndOrder(a args) (string, string, error) {
	userID, err := a.required("user_id")
	if err != nil {
		return "", "", err
	}
	orderID, err := a.required("order_id")
	if err != nil {
		return "", "", err
	}
	return userID, orderID, nil
}

func limitOf(a args) (int, error) {
	limit, err := a.integer("limit")
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return limit, nil
}

// Корзина

func (s *Server) GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.query(ctx, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.Get(ctx, userID))
	})
}

func (s *Server) AddCartItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodAddCartItem, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, productID, err := userAndProduct(a)
		if err != nil {
			return nil, err
		}
		qty, err := a.integer("quantity")
		if err != nil {
			return nil, err
		}
		if qty == 0 {
			qty = 1
		}
		return cartResult(s.carts.AddItem(ctx, userID, productID, qty))
	})
}

func (s *Server) IncrementCartItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodIncrementCartItem, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, productID, err := userAndProduct(a)
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.IncrementItem(ctx, userID, productID))
	})
}

func (s *Server) DecrementCartItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodDecrementCartItem, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, productID, err := userAndProduct(a)
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.DecrementItem(ctx, userID, productID))
	})
}

func (s *Server) SetCartItemQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodSetCartItemQuantity, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, productID, err := userAndProduct(a)
		if err != nil {
			return nil, err
		}
		qty, err := a.integer("quantity")
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.SetQuantity(ctx, userID, productID, qty))
	})
}

func (s *Server) RemoveCartItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodRemoveCartItem, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, productID, err := userAndProduct(a)
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.RemoveItem(ctx, userID, productID))
	})
}

func (s *Server) ApplyCoupon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodApplyCoupon, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		code, err := a.required("code")
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.ApplyCoupon(ctx, userID, code))
	})
}

func (s *Server) RemoveCoupon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodRemoveCoupon, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		return cartResult(s.carts.RemoveCoupon(ctx, userID))
	})
}

// Оформление и оплата

func (s *Server) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodPlaceOrder, req, func(ctx context.Context, a args) (map[string]any, error) {
		placement, err := s.checkout.PlaceOrder(ctx, checkout.PlaceOrderRequest{
			UserID:        a.str("user_id"),
			AddressID:     a.str("address_id"),
			PaymentMethod: domain.PaymentMethod(strings.ToUpper(a.str("payment_method"))),
		})
		if err != nil {
			return nil, err
		}
		return placementFields(placement), nil
	})
}

func (s *Server) VerifyPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodVerifyPayment, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		cb, err := a.callback()
		if err != nil {
			return nil, err
		}
		return orderResult(s.checkout.VerifyPayment(ctx, userID, orderID, cb))
	})
}

func (s *Server) RetryPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodRetryPayment, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		gw, err := s.checkout.RetryPayment(ctx, userID, orderID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"gateway": checkoutFields(gw)}, nil
	})
}

// Заказы

func (s *Server) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.query(ctx, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		detail, err := s.fulfilment.GetOrder(ctx, userID, orderID)
		if err != nil {
			return nil, err
		}
		return orderDetailFields(detail), nil
	})
}

func (s *Server) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.query(ctx, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		limit, err := limitOf(a)
		if err != nil {
			return nil, err
		}
		orders, err := s.fulfilment.ListOrders(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
		return ordersFields(orders), nil
	})
}

func (s *Server) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodCancelOrder, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		return orderResult(s.fulfilment.CancelOrder(ctx, userID, orderID, a.str("reason")))
	})
}

func (s *Server) CancelOrderItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodCancelOrderItem, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		itemID, err := a.required("item_id")
		if err != nil {
			return nil, err
		}
		return orderResult(s.fulfilment.CancelItem(ctx, userID, orderID, itemID, a.str("reason")))
	})
}

func (s *Server) RequestReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodRequestReturn, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, orderID, err := userAndOrder(a)
		if err != nil {
			return nil, err
		}
		itemID, err := a.required("item_id")
		if err != nil {
			return nil, err
		}
		request, err := s.fulfilment.RequestReturn(ctx, userID, orderID, itemID, a.str("reason"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"return": returnFields(request)}, nil
	})
}

// Администрирование

func (s *Server) ReviewReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodReviewReturn, req, func(ctx context.Context, a args) (map[string]any, error) {
		requestID, err := a.required("request_id")
		if err != nil {
			return nil, err
		}
		decision := fulfilment.ReturnDecision(strings.ToLower(a.str("decision")))
		return orderResult(s.fulfilment.ReviewReturn(ctx, requestID, decision))
	})
}

func (s *Server) ListPendingReturns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.query(ctx, req, func(ctx context.Context, a args) (map[string]any, error) {
		limit, err := limitOf(a)
		if err != nil {
			return nil, err
		}
		requests, err := s.fulfilment.ListPendingReturns(ctx, limit)
		if err != nil {
			return nil, err
		}
		return returnsFields(requests), nil
	})
}

func (s *Server) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodUpdateOrderStatus, req, func(ctx context.Context, a args) (map[string]any, error) {
		orderID, err := a.required("order_id")
		if err != nil {
			return nil, err
		}
		target := domain.OrderStatus(strings.ToUpper(a.str("status")))
		return orderResult(s.fulfilment.UpdateStatus(ctx, orderID, target))
	})
}

// Кошелёк

func (s *Server) GetWallet(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.query(ctx, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		view, err := s.wallets.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		return walletFields(view), nil
	})
}

func (s *Server) CreateDeposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodCreateDeposit, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		amount, err := a.amount("amount")
		if err != nil {
			return nil, err
		}
		gw, err := s.wallets.CreateDeposit(ctx, userID, amount)
		if err != nil {
			return nil, err
		}
		return map[string]any{"gateway": checkoutFields(gw)}, nil
	})
}

func (s *Server) VerifyDeposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, storefrontv1.MethodVerifyDeposit, req, func(ctx context.Context, a args) (map[string]any, error) {
		userID, err := a.required("user_id")
		if err != nil {
			return nil, err
		}
		cb, err := a.callback()
		if err != nil {
			return nil, err
		}
		view, err := s.wallets.VerifyDeposit(ctx, userID, cb)
		if err != nil {
			return nil, err
		}
		return walletFields(view), nil
	})
}

var _ storefrontv1.StorefrontServer = (*Server)(nil)
