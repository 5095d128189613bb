package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	flashsalev1 "github.com/vladislavdragonenkov/flashsale/api/flashsale/v1"
	"github.com/vladislavdragonenkov/flashsale/internal/service/identity"
)

const (
	idempotencyHeader = "idempotency-key"
	userIDHeader      = "x-user-id"
	scenarioMethod    = "scenario"
	tokenTTL          = time.Hour
)

// Исчерпание купона и повторная выдача ожидаемы в распродаже и не считаются сбоем.
var redeemOutcomes = []codes.Code{codes.ResourceExhausted, codes.AlreadyExists}

// scenario: шаги одного пользователя против сервиса.
type scenario struct {
	client flashsalev1.FlashSaleServiceClient
	cfg    config
	userID string
	col    *collector
}

func scenarioUser(cfg config, runID string, index int) string {
	if cfg.jwtSecret == "" {
		return cfg.userID
	}
	return fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
}

// runScenario проходит шаги режима; итог сценария пишется под scenarioMethod.
func runScenario(ctx context.Context, client flashsalev1.FlashSaleServiceClient, cfg config, index int, runID string, col *collector) (err error) {
	started := time.Now()
	defer func() { col.record(scenarioMethod, time.Since(started), grpcCode(err), err == nil) }()

	s := scenario{client: client, cfg: cfg, userID: scenarioUser(cfg, runID, index), col: col}
	if cfg.mode == modeRedeem {
		return s.redeem(ctx)
	}

	orderID, err := s.checkout(ctx, fmt.Sprintf("lt-checkout-%s-%d", runID, index))
	if err != nil || cfg.mode == modeCheckout {
		return err
	}
	if err := s.confirmPayment(ctx, orderID); err != nil {
		return err
	}
	switch cfg.mode {
	case modeCheckoutPayFulfill:
		return s.fulfill(ctx, orderID)
	case modeCheckoutPayCancel:
		return s.cancel(ctx, orderID)
	}
	return nil
}

// call выполняет один RPC с таймаутом и идентичностью пользователя и
// записывает его исход. Коды из tolerated засчитываются как успех.
func (s scenario) call(ctx context.Context, method, idempotencyKey string, rpc func(context.Context) error, tolerated ...codes.Code) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	ctx, err := withCaller(ctx, s.cfg, s.userID, idempotencyKey)
	if err != nil {
		return err
	}
	err = rpc(ctx)
	code := grpcCode(err)
	ok := err == nil || slices.Contains(tolerated, code)
	s.col.record(method, time.Since(started), code, ok)
	if ok {
		return nil
	}
	return err
}

func (s scenario) redeem(ctx context.Context) error {
	return s.call(ctx, "Redeem", "", func(ctx context.Context) error {
		_, err := s.client.Redeem(ctx, &flashsalev1.RedeemRequest{Code: s.cfg.couponCode})
		return err
	}, redeemOutcomes...)
}

func (s scenario) checkout(ctx context.Context, key string) (string, error) {
	var orderID string
	err := s.call(ctx, "Checkout", key, func(ctx context.Context) error {
		resp, err := s.client.Checkout(ctx, &flashsalev1.CheckoutRequest{AmountMinor: s.cfg.amountMinor})
		if err != nil {
			return err
		}
		if resp.Order == nil || resp.Order.ID == "" {
			return status.Error(codes.Internal, "checkout returned no order id")
		}
		orderID = resp.Order.ID
		return nil
	})
	return orderID, err
}

func (s scenario) confirmPayment(ctx context.Context, orderID string) error {
	return s.call(ctx, "ConfirmPayment", "", func(ctx context.Context) error {
		_, err := s.client.ConfirmPayment(ctx, &flashsalev1.ConfirmPaymentRequest{OrderID: orderID})
		return err
	})
}

func (s scenario) fulfill(ctx context.Context, orderID string) error {
	return s.call(ctx, "Fulfill", "", func(ctx context.Context) error {
		resp, err := s.client.Fulfill(ctx, &flashsalev1.FulfillRequest{OrderID: orderID})
		if err == nil && resp.TrackingToken == "" {
			return status.Error(codes.Internal, "fulfill returned no tracking token")
		}
		return err
	})
}

func (s scenario) cancel(ctx context.Context, orderID string) error {
	return s.call(ctx, "CancelOrder", "", func(ctx context.Context) error {
		_, err := s.client.CancelOrder(ctx, &flashsalev1.CancelOrderRequest{OrderID: orderID, Reason: "load-cancel"})
		return err
	})
}

// withCaller подписывает запрос JWT или x-user-id и добавляет idempotency-key.
func withCaller(ctx context.Context, cfg config, userID, idempotencyKey string) (context.Context, error) {
	var pairs []string
	if cfg.jwtSecret != "" {
		token, err := identity.IssueToken(cfg.jwtSecret, cfg.jwtIssuer, userID, tokenTTL)
		if err != nil {
			return ctx, fmt.Errorf("issue token for %s: %w", userID, err)
		}
		pairs = append(pairs, "authorization", "Bearer "+token)
	} else {
		pairs = append(pairs, userIDHeader, userID)
	}
	if idempotencyKey != "" {
		pairs = append(pairs, idempotencyHeader, idempotencyKey)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...), nil
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}
