package grpcsvc

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// ErrorDomain: значение ErrorInfo.Domain во всех ошибках API.
const ErrorDomain = "flashsale"

// RetryDelay: подсказка клиенту (RetryInfo) для Unavailable и Aborted.
const RetryDelay = 500 * time.Millisecond

var kindCodes = map[domain.ErrorKind]codes.Code{
	domain.KindNotFound:           codes.NotFound,
	domain.KindInvalidState:       codes.FailedPrecondition,
	domain.KindExhausted:          codes.ResourceExhausted,
	domain.KindAlreadyRedeemed:    codes.AlreadyExists,
	domain.KindVerificationFailed: codes.PermissionDenied,
	domain.KindUnauthorized:       codes.Unauthenticated,
	domain.KindValidation:         codes.InvalidArgument,
	domain.KindAlreadyExists:      codes.AlreadyExists,
	domain.KindPaymentDeclined:    codes.FailedPrecondition,
	domain.KindUnavailable:        codes.Unavailable,
	domain.KindConflict:           codes.Aborted,
	domain.KindInternal:           codes.Internal,
}

// CodeForKind возвращает gRPC-код для класса ошибки.
func CodeForKind(kind domain.ErrorKind) codes.Code {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return codes.Internal
}

// toStatus переводит доменную ошибку в gRPC-статус с ErrorInfo.
// Текст внутренних ошибок клиенту не отдаётся.
func (s *FlashSaleService) toStatus(operation string, err error) error {
	if err == nil {
		return nil
	}
	var withStatus interface{ GRPCStatus() *status.Status }
	if errors.As(err, &withStatus) {
		return err
	}

	kind := domain.KindOf(err)
	message := err.Error()
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"kind":      kind,
	})
	switch kind {
	case domain.KindInternal:
		entry.Error("request failed")
		message = "internal error"
	case domain.KindUnavailable, domain.KindConflict:
		entry.Warn("request failed")
	default:
		entry.Debug("request rejected")
	}

	return statusWithReason(CodeForKind(kind), message, string(kind))
}

func statusWithReason(code codes.Code, message, reason string) error {
	st := status.New(code, message)
	if reason == "" {
		return st.Err()
	}
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{
		Reason: reason,
		Domain: ErrorDomain,
	}}
	if code == codes.Unavailable || code == codes.Aborted {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(RetryDelay)})
	}
	detailed, err := st.WithDetails(details...)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ReasonOf достаёт ErrorInfo.Reason из gRPC-ошибки.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}

// RetryDelayOf достаёт RetryInfo из gRPC-ошибки.
func RetryDelayOf(err error) (time.Duration, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok {
			return info.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}
