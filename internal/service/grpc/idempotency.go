package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const idempotencyKeyHeader = "idempotency-key"

// DefaultIdempotencyTTL: сколько живёт квитанция, если WithIdempotencyTTL не задан.
const DefaultIdempotencyTTL = 24 * time.Hour

// storedFailure сохраняется в квитанции отклонённого запроса.
type storedFailure struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// withIdempotency выполняет handler не более одного раза на ключ пользователя.
// Ключ адресуется тройкой (caller, method, idempotency-key); без заголовка
// запрос выполняется как обычно.
func withIdempotency[T any](
	s *FlashSaleService,
	ctx context.Context,
	method string,
	caller string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	key := domain.NewIdempotencyKey(caller, method, incomingIdempotencyKey(ctx))
	if key.Key == "" {
		return handler(ctx)
	}
	fields := log.Fields{"method": method, "user_id": caller, "idempotency_key": key.Key}

	fingerprint, err := requestFingerprint(req)
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("failed to fingerprint idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	receipt, err := s.idemRepo.Reserve(key, fingerprint, s.now().Add(s.idempotencyTTL))
	if err != nil {
		return replayReceipt[T](s, receipt, err, fields)
	}

	resp, runErr := handler(ctx)
	s.settle(key, resp, runErr, fields)
	if runErr != nil {
		return nil, runErr
	}
	return resp, nil
}

func replayReceipt[T any](s *FlashSaleService, receipt domain.IdempotencyReceipt, reserveErr error, fields log.Fields) (*T, error) {
	switch {
	case errors.Is(reserveErr, domain.ErrIdempotencyFingerprintMismatch):
		return nil, s.toStatus("idempotency", reserveErr)
	case !errors.Is(reserveErr, domain.ErrIdempotencyKeyTaken):
		s.logger.WithError(reserveErr).WithFields(fields).Warn("failed to reserve idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch receipt.State {
	case domain.ReceiptSucceeded:
		resp := new(T)
		if err := json.Unmarshal(receipt.Reply, resp); err != nil || len(receipt.Reply) == 0 {
			s.logger.WithError(err).WithFields(fields).Warn("failed to decode stored idempotent response")
			return nil, status.Error(codes.Internal, "failed to decode stored idempotent response")
		}
		s.logger.WithFields(fields).Debug("idempotent response replayed")
		return resp, nil
	case domain.ReceiptRejected:
		return nil, failureFromReceipt(receipt)
	default:
		return nil, s.toStatus("idempotency", reserveErr)
	}
}

// settle сохраняет итог запроса. Повторяемые ошибки (Unavailable, Aborted)
// не запоминаются: ключ освобождается и повтор выполнит запрос заново.
func (s *FlashSaleService) settle(key domain.IdempotencyKey, resp any, runErr error, fields log.Fields) {
	entry := s.logger.WithFields(fields)

	if runErr != nil {
		st := status.Convert(runErr)
		code := st.Code()
		if code == codes.Unavailable || code == codes.Aborted {
			s.release(key, entry)
			return
		}
		if code == codes.OK {
			code = codes.Internal
		}
		reply, err := json.Marshal(storedFailure{Message: st.Message(), Reason: ReasonOf(runErr)})
		if err != nil {
			entry.WithError(err).Warn("failed to encode idempotent failure")
		}
		if err := s.idemRepo.Settle(key, domain.ReceiptRejected, reply, int(code)); err != nil {
			entry.WithError(err).Warn("failed to store idempotent failure")
			s.release(key, entry)
		}
		return
	}

	reply, err := json.Marshal(resp)
	if err != nil {
		entry.WithError(err).Warn("failed to encode idempotent response")
		s.release(key, entry)
		return
	}
	if err := s.idemRepo.Settle(key, domain.ReceiptSucceeded, reply, int(codes.OK)); err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
		s.release(key, entry)
	}
}

// release снимает in_flight, если итог сохранить не удалось: иначе ключ
// блокировал бы повторы до истечения TTL.
func (s *FlashSaleService) release(key domain.IdempotencyKey, entry *log.Entry) {
	if err := s.idemRepo.Release(key); err != nil {
		entry.WithError(err).Warn("failed to release idempotency key")
	}
}

func failureFromReceipt(receipt domain.IdempotencyReceipt) error {
	code := codes.Internal
	if c, ok := grpcCode(receipt.Code); ok && c != codes.OK {
		code = c
	}

	var failure storedFailure
	if err := json.Unmarshal(receipt.Reply, &failure); err != nil {
		failure = storedFailure{}
	}
	if failure.Message == "" {
		failure.Message = "previous request with the same idempotency key failed"
	}
	return statusWithReason(code, failure.Message, failure.Reason)
}

func grpcCode(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func incomingIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(idempotencyKeyHeader); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// requestFingerprint: sha256 тела запроса. Пользователь и метод уже входят в ключ.
func requestFingerprint(req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
