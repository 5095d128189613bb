package flashsalev1

import "time"

// Order: представление заказа в API.
type Order struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Status        string    `json:"status"`
	AmountMinor   int64     `json:"amount_minor"`
	TrackingToken string    `json:"tracking_token,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TimelineEvent: запись аудита заказа.
type TimelineEvent struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Coupon: состояние купона.
type Coupon struct {
	Code      string `json:"code"`
	Discount  int64  `json:"discount"`
	Capacity  int64  `json:"capacity"`
	Granted   int64  `json:"granted"`
	Remaining int64  `json:"remaining"`
}

type CheckoutRequest struct {
	AmountMinor int64 `json:"amount_minor"`
}

type CheckoutResponse struct {
	Order *Order `json:"order"`
}

type ConfirmPaymentRequest struct {
	OrderID string `json:"order_id"`
}

type ConfirmPaymentResponse struct {
	Order *Order `json:"order"`
}

type FulfillRequest struct {
	OrderID string `json:"order_id"`
}

type FulfillResponse struct {
	Order         *Order `json:"order"`
	TrackingToken string `json:"tracking_token"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type CancelOrderResponse struct {
	Order *Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order    *Order           `json:"order"`
	Timeline []*TimelineEvent `json:"timeline"`
}

// ListOrdersRequest: SortBy принимает created_at, amount или status.
type ListOrdersRequest struct {
	PageSize  int32  `json:"page_size,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	Ascending bool   `json:"ascending,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type RedeemRequest struct {
	Code string `json:"code"`
}

type RedeemResponse struct {
	Code       string    `json:"code"`
	Discount   int64     `json:"discount"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type ProvisionCouponRequest struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
	Capacity int64  `json:"capacity"`
}

type ProvisionCouponResponse struct {
	Coupon *Coupon `json:"coupon"`
}

type GetCouponRequest struct {
	Code string `json:"code"`
}

type GetCouponResponse struct {
	Coupon *Coupon `json:"coupon"`
}
