package grpcsvc

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/metadata"

	flashsalev1 "github.com/vladislavdragonenkov/flashsale/api/flashsale/v1"
	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
	"github.com/vladislavdragonenkov/flashsale/internal/service/checkout"
	"github.com/vladislavdragonenkov/flashsale/internal/service/identity"
)

const (
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 500

	authorizationHeader = "authorization"
	userIDHeader        = "x-user-id"
	bearerPrefix        = "bearer "
)

// FlashSaleService реализует gRPC API поверх оформления заказов и выдачи купонов.
type FlashSaleService struct {
	flashsalev1.UnimplementedFlashSaleServiceServer

	checkout  *checkout.Orchestrator
	admission *admission.Controller
	identity  identity.Resolver
	idemRepo  domain.IdempotencyRepository
	logger    *log.Entry

	idempotencyTTL time.Duration
	now            func() time.Time
}

// Option настраивает FlashSaleService.
type Option func(*FlashSaleService)

// WithIdempotencyTTL задаёт срок жизни квитанций idempotency-key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *FlashSaleService) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *FlashSaleService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFlashSaleService конструирует сервис с зависимостями. idemRepo может быть nil.
func NewFlashSaleService(
	orchestrator *checkout.Orchestrator,
	controller *admission.Controller,
	resolver identity.Resolver,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
	options ...Option,
) *FlashSaleService {
	if logger == nil {
		logger = log.WithField("component", "flashsale-service")
	}
	s := &FlashSaleService{
		checkout:       orchestrator,
		admission:      controller,
		identity:       resolver,
		idemRepo:       idemRepo,
		logger:         logger,
		idempotencyTTL: DefaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Checkout создаёт заказ вызывающего пользователя.
func (s *FlashSaleService) Checkout(ctx context.Context, req *flashsalev1.CheckoutRequest) (*flashsalev1.CheckoutResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("Checkout", err)
	}
	if req == nil {
		req = &flashsalev1.CheckoutRequest{}
	}

	return withIdempotency(s, ctx, flashsalev1.FlashSaleService_Checkout_FullMethodName, caller, req,
		func(ctx context.Context) (*flashsalev1.CheckoutResponse, error) {
			order, err := s.checkout.Checkout(ctx, caller, req.AmountMinor)
			if err != nil {
				return nil, s.toStatus("Checkout", err)
			}
			return &flashsalev1.CheckoutResponse{Order: toAPIOrder(order)}, nil
		})
}

// ConfirmPayment оплачивает заказ владельца.
func (s *FlashSaleService) ConfirmPayment(ctx context.Context, req *flashsalev1.ConfirmPaymentRequest) (*flashsalev1.ConfirmPaymentResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("ConfirmPayment", err)
	}
	if req == nil {
		req = &flashsalev1.ConfirmPaymentRequest{}
	}
	orderID := req.OrderID

	return withIdempotency(s, ctx, flashsalev1.FlashSaleService_ConfirmPayment_FullMethodName, caller, req,
		func(ctx context.Context) (*flashsalev1.ConfirmPaymentResponse, error) {
			if _, err := s.ownedOrder(caller, orderID); err != nil {
				return nil, s.toStatus("ConfirmPayment", err)
			}
			order, err := s.checkout.ConfirmPayment(ctx, orderID)
			if err != nil {
				return nil, s.toStatus("ConfirmPayment", err)
			}
			return &flashsalev1.ConfirmPaymentResponse{Order: toAPIOrder(order)}, nil
		})
}

// Fulfill вызывается службой доставки и не требует пользователя.
func (s *FlashSaleService) Fulfill(ctx context.Context, req *flashsalev1.FulfillRequest) (*flashsalev1.FulfillResponse, error) {
	var orderID string
	if req != nil {
		orderID = req.OrderID
	}

	order, err := s.checkout.Fulfill(ctx, orderID)
	if err != nil {
		return nil, s.toStatus("Fulfill", err)
	}
	return &flashsalev1.FulfillResponse{Order: toAPIOrder(order), TrackingToken: order.TrackingToken}, nil
}

// CancelOrder отменяет заказ владельца.
func (s *FlashSaleService) CancelOrder(ctx context.Context, req *flashsalev1.CancelOrderRequest) (*flashsalev1.CancelOrderResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("CancelOrder", err)
	}
	if req == nil {
		req = &flashsalev1.CancelOrderRequest{}
	}

	return withIdempotency(s, ctx, flashsalev1.FlashSaleService_CancelOrder_FullMethodName, caller, req,
		func(ctx context.Context) (*flashsalev1.CancelOrderResponse, error) {
			if _, err := s.ownedOrder(caller, req.OrderID); err != nil {
				return nil, s.toStatus("CancelOrder", err)
			}
			order, err := s.checkout.Cancel(ctx, req.OrderID, req.Reason)
			if err != nil {
				return nil, s.toStatus("CancelOrder", err)
			}
			return &flashsalev1.CancelOrderResponse{Order: toAPIOrder(order)}, nil
		})
}

// GetOrder возвращает заказ и его таймлайн.
func (s *FlashSaleService) GetOrder(ctx context.Context, req *flashsalev1.GetOrderRequest) (*flashsalev1.GetOrderResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("GetOrder", err)
	}
	var orderID string
	if req != nil {
		orderID = req.OrderID
	}

	order, err := s.ownedOrder(caller, orderID)
	if err != nil {
		return nil, s.toStatus("GetOrder", err)
	}

	return &flashsalev1.GetOrderResponse{
		Order:    toAPIOrder(order),
		Timeline: s.buildTimeline(order.ID),
	}, nil
}

// ListOrders возвращает заказы вызывающего пользователя.
func (s *FlashSaleService) ListOrders(ctx context.Context, req *flashsalev1.ListOrdersRequest) (*flashsalev1.ListOrdersResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("ListOrders", err)
	}
	if req == nil {
		req = &flashsalev1.ListOrdersRequest{}
	}

	sortBy, err := domain.ParseOrderSortField(req.SortBy)
	if err != nil {
		return nil, s.toStatus("ListOrders", err)
	}
	limit := int(req.PageSize)
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	if limit > maxListOrdersLimit {
		limit = maxListOrdersLimit
	}

	orders, err := s.checkout.Orders(caller, domain.OrderListOptions{
		Limit:     limit,
		SortBy:    sortBy,
		Ascending: req.Ascending,
	})
	if err != nil {
		return nil, s.toStatus("ListOrders", err)
	}

	result := make([]*flashsalev1.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toAPIOrder(order))
	}
	return &flashsalev1.ListOrdersResponse{Orders: result}, nil
}

// Redeem выдаёт купон вызывающему пользователю.
func (s *FlashSaleService) Redeem(ctx context.Context, req *flashsalev1.RedeemRequest) (*flashsalev1.RedeemResponse, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, s.toStatus("Redeem", err)
	}
	if req == nil {
		req = &flashsalev1.RedeemRequest{}
	}

	return withIdempotency(s, ctx, flashsalev1.FlashSaleService_Redeem_FullMethodName, caller, req,
		func(ctx context.Context) (*flashsalev1.RedeemResponse, error) {
			redemption, err := s.admission.Redeem(ctx, req.Code, caller)
			if err != nil {
				return nil, s.toStatus("Redeem", err)
			}
			return &flashsalev1.RedeemResponse{
				Code:       redemption.Code,
				Discount:   redemption.Discount,
				RedeemedAt: redemption.RedeemedAt,
			}, nil
		})
}

// ProvisionCoupon заводит купон (операторский вызов).
func (s *FlashSaleService) ProvisionCoupon(_ context.Context, req *flashsalev1.ProvisionCouponRequest) (*flashsalev1.ProvisionCouponResponse, error) {
	if req == nil {
		return nil, s.toStatus("ProvisionCoupon", domain.ErrCouponCodeRequired)
	}

	coupon, err := s.admission.Provision(domain.Coupon{
		Code:     req.Code,
		Discount: req.Discount,
		Capacity: req.Capacity,
	})
	if err != nil {
		return nil, s.toStatus("ProvisionCoupon", err)
	}
	return &flashsalev1.ProvisionCouponResponse{Coupon: toAPICoupon(coupon)}, nil
}

// GetCoupon возвращает остаток купона.
func (s *FlashSaleService) GetCoupon(_ context.Context, req *flashsalev1.GetCouponRequest) (*flashsalev1.GetCouponResponse, error) {
	var code string
	if req != nil {
		code = req.Code
	}

	coupon, err := s.admission.Coupon(code)
	if err != nil {
		return nil, s.toStatus("GetCoupon", err)
	}
	return &flashsalev1.GetCouponResponse{Coupon: toAPICoupon(coupon)}, nil
}

// authenticate достаёт пользователя из metadata запроса.
func (s *FlashSaleService) authenticate(ctx context.Context) (string, error) {
	if s.identity == nil {
		return "", domain.ErrUnauthorized
	}

	var creds identity.Credentials
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(authorizationHeader); len(values) > 0 {
			value := strings.TrimSpace(values[0])
			if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
				creds.BearerToken = strings.TrimSpace(value[len(bearerPrefix):])
			}
		}
		if values := md.Get(userIDHeader); len(values) > 0 {
			creds.UserID = strings.TrimSpace(values[0])
		}
	}

	return s.identity.Resolve(ctx, creds)
}

// ownedOrder скрывает чужие заказы под NOT_FOUND.
func (s *FlashSaleService) ownedOrder(caller, orderID string) (domain.Order, error) {
	order, err := s.checkout.Order(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.OwnerID != caller {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"caller":   caller,
		}).Warn("order access denied for non-owner")
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *FlashSaleService) buildTimeline(orderID string) []*flashsalev1.TimelineEvent {
	events, err := s.checkout.Timeline(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	result := make([]*flashsalev1.TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, &flashsalev1.TimelineEvent{
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return result
}

func toAPIOrder(order domain.Order) *flashsalev1.Order {
	return &flashsalev1.Order{
		ID:            order.ID,
		OwnerID:       order.OwnerID,
		Status:        string(order.Status),
		AmountMinor:   order.AmountMinor,
		TrackingToken: order.TrackingToken,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func toAPICoupon(coupon domain.Coupon) *flashsalev1.Coupon {
	return &flashsalev1.Coupon{
		Code:      coupon.Code,
		Discount:  coupon.Discount,
		Capacity:  coupon.Capacity,
		Granted:   coupon.Granted,
		Remaining: coupon.Remaining(),
	}
}
