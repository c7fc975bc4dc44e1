// Package storefrontv1 описывает gRPC-сервис storefront.v1.Storefront.
// Сообщения передаются как google.protobuf.Struct, поэтому кодогенерация не нужна.
package storefrontv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "storefront.v1.Storefront"

// Имена методов сервиса.
const (
	MethodGetCart             = "GetCart"
	MethodAddCartItem         = "AddCartItem"
	MethodIncrementCartItem   = "IncrementCartItem"
	MethodDecrementCartItem   = "DecrementCartItem"
	MethodSetCartItemQuantity = "SetCartItemQuantity"
	MethodRemoveCartItem      = "RemoveCartItem"
	MethodApplyCoupon         = "ApplyCoupon"
	MethodRemoveCoupon        = "RemoveCoupon"

	MethodPlaceOrder    = "PlaceOrder"
	MethodVerifyPayment = "VerifyPayment"
	MethodRetryPayment  = "RetryPayment"

	MethodGetOrder        = "GetOrder"
	MethodListOrders      = "ListOrders"
	MethodCancelOrder     = "CancelOrder"
	MethodCancelOrderItem = "CancelOrderItem"
	MethodRequestReturn   = "RequestReturn"

	MethodReviewReturn       = "ReviewReturn"
	MethodListPendingReturns = "ListPendingReturns"
	MethodUpdateOrderStatus  = "UpdateOrderStatus"

	MethodGetWallet     = "GetWallet"
	MethodCreateDeposit = "CreateDeposit"
	MethodVerifyDeposit = "VerifyDeposit"
)

// FullMethod возвращает полное имя метода вида /storefront.v1.Storefront/GetCart.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// StorefrontServer — серверная часть storefront.v1.Storefront.
type StorefrontServer interface {
	GetCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IncrementCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecrementCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetCartItemQuantity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error)

	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)

	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrderItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)

	ReviewReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingReturns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)

	GetWallet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateDeposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyDeposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedStorefrontServer отвечает Unimplemented на все методы.
type UnimplementedStorefrontServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedStorefrontServer) GetCart(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGetCart)
}
func (UnimplementedStorefrontServer) AddCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodAddCartItem)
}
func (UnimplementedStorefrontServer) IncrementCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodIncrementCartItem)
}
func (UnimplementedStorefrontServer) DecrementCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodDecrementCartItem)
}
func (UnimplementedStorefrontServer) SetCartItemQuantity(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodSetCartItemQuantity)
}
func (UnimplementedStorefrontServer) RemoveCartItem(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRemoveCartItem)
}
func (UnimplementedStorefrontServer) ApplyCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodApplyCoupon)
}
func (UnimplementedStorefrontServer) RemoveCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRemoveCoupon)
}
func (UnimplementedStorefrontServer) PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodPlaceOrder)
}
func (UnimplementedStorefrontServer) VerifyPayment(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodVerifyPayment)
}
func (UnimplementedStorefrontServer) RetryPayment(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRetryPayment)
}
func (UnimplementedStorefrontServer) GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGetOrder)
}
func (UnimplementedStorefrontServer) ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListOrders)
}
func (UnimplementedStorefrontServer) CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodCancelOrder)
}
func (UnimplementedStorefrontServer) CancelOrderItem(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodCancelOrderItem)
}
func (UnimplementedStorefrontServer) RequestReturn(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRequestReturn)
}
func (UnimplementedStorefrontServer) ReviewReturn(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodReviewReturn)
}
func (UnimplementedStorefrontServer) ListPendingReturns(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListPendingReturns)
}
func (UnimplementedStorefrontServer) UpdateOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodUpdateOrderStatus)
}
func (UnimplementedStorefrontServer) GetWallet(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodGetWallet)
}
func (UnimplementedStorefrontServer) CreateDeposit(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodCreateDeposit)
}
func (UnimplementedStorefrontServer) VerifyDeposit(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodVerifyDeposit)
}

type unaryCall func(StorefrontServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methodTable связывает имена методов с вызовами сервера; порядок задаёт ServiceDesc.
var methodTable = []struct {
	name string
	call unaryCall
}{
	{MethodGetCart, StorefrontServer.GetCart},
	{MethodAddCartItem, StorefrontServer.AddCartItem},
	{MethodIncrementCartItem, StorefrontServer.IncrementCartItem},
	{MethodDecrementCartItem, StorefrontServer.DecrementCartItem},
	{MethodSetCartItemQuantity, StorefrontServer.SetCartItemQuantity},
	{MethodRemoveCartItem, StorefrontServer.RemoveCartItem},
	{MethodApplyCoupon, StorefrontServer.ApplyCoupon},
	{MethodRemoveCoupon, StorefrontServer.RemoveCoupon},
	{MethodPlaceOrder, StorefrontServer.PlaceOrder},
	{MethodVerifyPayment, StorefrontServer.VerifyPayment},
	{MethodRetryPayment, StorefrontServer.RetryPayment},
	{MethodGetOrder, StorefrontServer.GetOrder},
	{MethodListOrders, StorefrontServer.ListOrders},
	{MethodCancelOrder, StorefrontServer.CancelOrder},
	{MethodCancelOrderItem, StorefrontServer.CancelOrderItem},
	{MethodRequestReturn, StorefrontServer.RequestReturn},
	{MethodReviewReturn, StorefrontServer.ReviewReturn},
	{MethodListPendingReturns, StorefrontServer.ListPendingReturns},
	{MethodUpdateOrderStatus, StorefrontServer.UpdateOrderStatus},
	{MethodGetWallet, StorefrontServer.GetWallet},
	{MethodCreateDeposit, StorefrontServer.CreateDeposit},
	{MethodVerifyDeposit, StorefrontServer.VerifyDeposit},
}

// Methods возвращает имена всех методов сервиса.
func Methods() []string {
	names := make([]string, 0, len(methodTable))
	for _, m := range methodTable {
		names = append(names, m.name)
	}
	return names
}

func unaryHandler(name string, call unaryCall) grpc.MethodHandler {
	fullMethod := FullMethod(name)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorefrontServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StorefrontServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func buildServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(methodTable))
	for _, m := range methodTable {
		methods = append(methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(m.name, m.call),
		})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*StorefrontServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "storefront/v1/storefront.proto",
	}
}

// Storefront_ServiceDesc — дескриптор сервиса для grpc.Server.
var Storefront_ServiceDesc = buildServiceDesc() //nolint:revive // имя как у сгенерированного кода

// RegisterStorefrontServer регистрирует реализацию на сервере.
func RegisterStorefrontServer(s grpc.ServiceRegistrar, srv StorefrontServer) {
	s.RegisterService(&Storefront_ServiceDesc, srv)
}

// StorefrontClient — клиент storefront.v1.Storefront.
type StorefrontClient interface {
	Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type storefrontClient struct {
	cc grpc.ClientConnInterface
}

func NewStorefrontClient(cc grpc.ClientConnInterface) StorefrontClient {
	return &storefrontClient{cc: cc}
}

// Call вызывает метод по короткому имени (например, MethodPlaceOrder).
func (c *storefrontClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
