package flashsalev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "flashsale.v1.FlashSaleService"

const (
	FlashSaleService_Checkout_FullMethodName        = "/" + ServiceName + "/Checkout"
	FlashSaleService_ConfirmPayment_FullMethodName  = "/" + ServiceName + "/ConfirmPayment"
	FlashSaleService_Fulfill_FullMethodName         = "/" + ServiceName + "/Fulfill"
	FlashSaleService_CancelOrder_FullMethodName     = "/" + ServiceName + "/CancelOrder"
	FlashSaleService_GetOrder_FullMethodName        = "/" + ServiceName + "/GetOrder"
	FlashSaleService_ListOrders_FullMethodName      = "/" + ServiceName + "/ListOrders"
	FlashSaleService_Redeem_FullMethodName          = "/" + ServiceName + "/Redeem"
	FlashSaleService_ProvisionCoupon_FullMethodName = "/" + ServiceName + "/ProvisionCoupon"
	FlashSaleService_GetCoupon_FullMethodName       = "/" + ServiceName + "/GetCoupon"
)

// FlashSaleServiceServer: серверная часть контракта.
type FlashSaleServiceServer interface {
	Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error)
	ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error)
	Fulfill(context.Context, *FulfillRequest) (*FulfillResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	Redeem(context.Context, *RedeemRequest) (*RedeemResponse, error)
	ProvisionCoupon(context.Context, *ProvisionCouponRequest) (*ProvisionCouponResponse, error)
	GetCoupon(context.Context, *GetCouponRequest) (*GetCouponResponse, error)
}

// UnimplementedFlashSaleServiceServer отвечает Unimplemented на все вызовы.
type UnimplementedFlashSaleServiceServer struct{}

func (UnimplementedFlashSaleServiceServer) Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Checkout not implemented")
}

func (UnimplementedFlashSaleServiceServer) ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ConfirmPayment not implemented")
}

func (UnimplementedFlashSaleServiceServer) Fulfill(context.Context, *FulfillRequest) (*FulfillResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Fulfill not implemented")
}

func (UnimplementedFlashSaleServiceServer) CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelOrder not implemented")
}

func (UnimplementedFlashSaleServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}

func (UnimplementedFlashSaleServiceServer) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListOrders not implemented")
}

func (UnimplementedFlashSaleServiceServer) Redeem(context.Context, *RedeemRequest) (*RedeemResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Redeem not implemented")
}

func (UnimplementedFlashSaleServiceServer) ProvisionCoupon(context.Context, *ProvisionCouponRequest) (*ProvisionCouponResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ProvisionCoupon not implemented")
}

func (UnimplementedFlashSaleServiceServer) GetCoupon(context.Context, *GetCouponRequest) (*GetCouponResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCoupon not implemented")
}

// RegisterFlashSaleServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterFlashSaleServiceServer(s grpc.ServiceRegistrar, srv FlashSaleServiceServer) {
	s.RegisterService(&FlashSaleService_ServiceDesc, srv)
}

// FlashSaleService_ServiceDesc описывает сервис для grpc.Server.
var FlashSaleService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlashSaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: unaryHandler(FlashSaleService_Checkout_FullMethodName, FlashSaleServiceServer.Checkout)},
		{MethodName: "ConfirmPayment", Handler: unaryHandler(FlashSaleService_ConfirmPayment_FullMethodName, FlashSaleServiceServer.ConfirmPayment)},
		{MethodName: "Fulfill", Handler: unaryHandler(FlashSaleService_Fulfill_FullMethodName, FlashSaleServiceServer.Fulfill)},
		{MethodName: "CancelOrder", Handler: unaryHandler(FlashSaleService_CancelOrder_FullMethodName, FlashSaleServiceServer.CancelOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(FlashSaleService_GetOrder_FullMethodName, FlashSaleServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(FlashSaleService_ListOrders_FullMethodName, FlashSaleServiceServer.ListOrders)},
		{MethodName: "Redeem", Handler: unaryHandler(FlashSaleService_Redeem_FullMethodName, FlashSaleServiceServer.Redeem)},
		{MethodName: "ProvisionCoupon", Handler: unaryHandler(FlashSaleService_ProvisionCoupon_FullMethodName, FlashSaleServiceServer.ProvisionCoupon)},
		{MethodName: "GetCoupon", Handler: unaryHandler(FlashSaleService_GetCoupon_FullMethodName, FlashSaleServiceServer.GetCoupon)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/flashsale/v1/service.go",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(FlashSaleServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(FlashSaleServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// FlashSaleServiceClient: клиентская часть контракта.
type FlashSaleServiceClient interface {
	Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error)
	ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*ConfirmPaymentResponse, error)
	Fulfill(ctx context.Context, in *FulfillRequest, opts ...grpc.CallOption) (*FulfillResponse, error)
	CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*CancelOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
	Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*RedeemResponse, error)
	ProvisionCoupon(ctx context.Context, in *ProvisionCouponRequest, opts ...grpc.CallOption) (*ProvisionCouponResponse, error)
	GetCoupon(ctx context.Context, in *GetCouponRequest, opts ...grpc.CallOption) (*GetCouponResponse, error)
}

type flashSaleServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFlashSaleServiceClient создаёт клиента; JSON-кодек выбирается автоматически.
func NewFlashSaleServiceClient(cc grpc.ClientConnInterface) FlashSaleServiceClient {
	return &flashSaleServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *flashSaleServiceClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, FlashSaleService_Checkout_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*ConfirmPaymentResponse, error) {
	return invoke[ConfirmPaymentResponse](ctx, c.cc, FlashSaleService_ConfirmPayment_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) Fulfill(ctx context.Context, in *FulfillRequest, opts ...grpc.CallOption) (*FulfillResponse, error) {
	return invoke[FulfillResponse](ctx, c.cc, FlashSaleService_Fulfill_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*CancelOrderResponse, error) {
	return invoke[CancelOrderResponse](ctx, c.cc, FlashSaleService_CancelOrder_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, FlashSaleService_GetOrder_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, FlashSaleService_ListOrders_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*RedeemResponse, error) {
	return invoke[RedeemResponse](ctx, c.cc, FlashSaleService_Redeem_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) ProvisionCoupon(ctx context.Context, in *ProvisionCouponRequest, opts ...grpc.CallOption) (*ProvisionCouponResponse, error) {
	return invoke[ProvisionCouponResponse](ctx, c.cc, FlashSaleService_ProvisionCoupon_FullMethodName, in, opts)
}

func (c *flashSaleServiceClient) GetCoupon(ctx context.Context, in *GetCouponRequest, opts ...grpc.CallOption) (*GetCouponResponse, error) {
	return invoke[GetCouponResponse](ctx, c.cc, FlashSaleService_GetCoupon_FullMethodName, in, opts)
}
