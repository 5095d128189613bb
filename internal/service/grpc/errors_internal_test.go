package grpcsvc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestToStatus_MapsEveryKind(t *testing.T) {
	s := NewFlashSaleService(nil, nil, nil, nil, nil)

	tests := []struct {
		err    error
		code   codes.Code
		reason domain.ErrorKind
	}{
		{err: domain.ErrOrderNotFound, code: codes.NotFound, reason: domain.KindNotFound},
		{err: fmt.Errorf("%w: pending -> shipped", domain.ErrInvalidStateTransition), code: codes.FailedPrecondition, reason: domain.KindInvalidState},
		{err: domain.ErrCouponExhausted, code: codes.ResourceExhausted, reason: domain.KindExhausted},
		{err: domain.ErrCouponAlreadyRedeemed, code: codes.AlreadyExists, reason: domain.KindAlreadyRedeemed},
		{err: domain.ErrVerificationFailed, code: codes.PermissionDenied, reason: domain.KindVerificationFailed},
		{err: domain.ErrUnauthorized, code: codes.Unauthenticated, reason: domain.KindUnauthorized},
		{err: domain.ErrSortFieldInvalid, code: codes.InvalidArgument, reason: domain.KindValidation},
		{err: domain.ErrPaymentDeclined, code: codes.FailedPrecondition, reason: domain.KindPaymentDeclined},
		{err: domain.ErrDependencyUnavailable, code: codes.Unavailable, reason: domain.KindUnavailable},
		{err: domain.ErrOrderVersionConflict, code: codes.Aborted, reason: domain.KindConflict},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := s.toStatus("test", tt.err)
			require.Equal(t, tt.code, status.Code(err))
			require.Equal(t, string(tt.reason), ReasonOf(err))

			delay, retryable := RetryDelayOf(err)
			wantRetry := tt.code == codes.Unavailable || tt.code == codes.Aborted
			require.Equal(t, wantRetry, retryable)
			if wantRetry {
				require.Equal(t, RetryDelay, delay)
			}
		})
	}
}

func TestToStatus_HidesInternalDetails(t *testing.T) {
	s := NewFlashSaleService(nil, nil, nil, nil, nil)

	err := s.toStatus("test", errors.New("pq: connection refused to 10.0.0.1"))
	st := status.Convert(err)
	require.Equal(t, codes.Internal, st.Code())
	require.Equal(t, "internal error", st.Message())
	require.Equal(t, string(domain.KindInternal), ReasonOf(err))

	passthrough := status.Error(codes.Aborted, "busy")
	require.Equal(t, passthrough, s.toStatus("test", passthrough))
	require.NoError(t, s.toStatus("test", nil))
}

func TestFailureFromReceipt(t *testing.T) {
	err := failureFromReceipt(domain.IdempotencyReceipt{
		State: domain.ReceiptRejected,
		Code:  int(codes.NotFound),
		Reply: []byte(`{"message":"order not found","reason":"NOT_FOUND"}`),
	})
	require.Equal(t, codes.NotFound, status.Code(err))
	require.Equal(t, "NOT_FOUND", ReasonOf(err))
	require.Equal(t, "order not found", status.Convert(err).Message())

	err = failureFromReceipt(domain.IdempotencyReceipt{Code: int(codes.FailedPrecondition)})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "previous request")

	err = failureFromReceipt(domain.IdempotencyReceipt{Reply: []byte("garbage"), Code: 99})
	require.Equal(t, codes.Internal, status.Code(err))
	require.Empty(t, ReasonOf(err))
}

func TestRequestFingerprint(t *testing.T) {
	a, err := requestFingerprint(map[string]int{"amount": 1})
	require.NoError(t, err)
	b, err := requestFingerprint(map[string]int{"amount": 1})
	require.NoError(t, err)
	c, err := requestFingerprint(map[string]int{"amount": 2})
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)

	_, err = requestFingerprint(nil)
	require.Error(t, err)
}
