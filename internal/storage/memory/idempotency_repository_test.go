package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

const checkoutMethod = "/flashsale.v1.FlashSaleService/Checkout"

func TestIdempotencyRepository_ReserveAndSettle(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	key := domain.NewIdempotencyKey("U1", checkoutMethod, "cart-1")
	expires := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	reserved, err := repo.Reserve(key, "fp-1", expires)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if reserved.State != domain.ReceiptInFlight || !reserved.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected receipt %+v", reserved)
	}

	if err := repo.Settle(key, domain.ReceiptSucceeded, []byte(`{"order":{"id":"o-1"}}`), 0); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	got, err := repo.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != domain.ReceiptSucceeded || string(got.Reply) != `{"order":{"id":"o-1"}}` {
		t.Fatalf("unexpected settled receipt %+v", got)
	}

	if err := repo.Settle(key, domain.ReceiptInFlight, nil, 0); !errors.Is(err, domain.ErrIdempotencyStateInvalid) {
		t.Fatalf("expected ErrIdempotencyStateInvalid, got %v", err)
	}
	missing := domain.NewIdempotencyKey("U1", checkoutMethod, "nope")
	if err := repo.Settle(missing, domain.ReceiptRejected, nil, 5); !errors.Is(err, domain.ErrIdempotencyReceiptNotFound) {
		t.Fatalf("expected ErrIdempotencyReceiptNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_KeysAreScopedPerUserAndMethod(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	expires := time.Now().UTC().Add(time.Hour)

	if _, err := repo.Reserve(domain.NewIdempotencyKey("U1", checkoutMethod, "k"), "fp-a", expires); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	_, err := repo.Reserve(domain.NewIdempotencyKey("U1", checkoutMethod, "k"), "fp-a", expires)
	if !errors.Is(err, domain.ErrIdempotencyKeyTaken) {
		t.Fatalf("expected ErrIdempotencyKeyTaken, got %v", err)
	}
	existing, err := repo.Reserve(domain.NewIdempotencyKey("U1", checkoutMethod, "k"), "fp-b", expires)
	if !errors.Is(err, domain.ErrIdempotencyFingerprintMismatch) {
		t.Fatalf("expected ErrIdempotencyFingerprintMismatch, got %v", err)
	}
	if existing.Fingerprint != "fp-a" {
		t.Fatalf("expected existing receipt to be returned, got %+v", existing)
	}

	if _, err := repo.Reserve(domain.NewIdempotencyKey("U2", checkoutMethod, "k"), "fp-a", expires); err != nil {
		t.Fatalf("same key for another user must be free: %v", err)
	}
	if _, err := repo.Reserve(domain.NewIdempotencyKey("U1", "/flashsale.v1.FlashSaleService/Redeem", "k"), "fp-a", expires); err != nil {
		t.Fatalf("same key for another method must be free: %v", err)
	}

	if _, err := repo.Reserve(domain.NewIdempotencyKey("U1", checkoutMethod, " "), "fp", expires); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.Reserve(domain.NewIdempotencyKey("U1", checkoutMethod, "x"), "", expires); !errors.Is(err, domain.ErrIdempotencyFingerprintRequired) {
		t.Fatalf("expected ErrIdempotencyFingerprintRequired, got %v", err)
	}
}

func TestIdempotencyRepository_ReleaseAndExpiry(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	inFlight := domain.NewIdempotencyKey("U1", checkoutMethod, "retry-me")
	if _, err := repo.Reserve(inFlight, "fp", now.Add(time.Hour)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Release(inFlight); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := repo.Reserve(inFlight, "fp", now.Add(time.Hour)); err != nil {
		t.Fatalf("released key must be reusable: %v", err)
	}

	settled := domain.NewIdempotencyKey("U1", checkoutMethod, "settled")
	if _, err := repo.Reserve(settled, "fp", now.Add(time.Hour)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Settle(settled, domain.ReceiptRejected, []byte(`{"message":"declined"}`), 9); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if err := repo.Release(settled); err != nil {
		t.Fatalf("Release of settled receipt failed: %v", err)
	}
	if got, err := repo.Get(settled); err != nil || got.State != domain.ReceiptRejected || got.Code != 9 {
		t.Fatalf("settled receipt must survive release, got %+v err=%v", got, err)
	}

	expired := domain.NewIdempotencyKey("U1", checkoutMethod, "stale")
	if _, err := repo.Reserve(expired, "fp-old", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Reserve expired failed: %v", err)
	}
	if _, err := repo.Reserve(expired, "fp-new", now.Add(time.Hour)); err != nil {
		t.Fatalf("expired receipt must be overwritten: %v", err)
	}
	if _, err := repo.Reserve(domain.NewIdempotencyKey("U2", checkoutMethod, "stale"), "fp", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}
	if _, err := repo.Get(domain.NewIdempotencyKey("U2", checkoutMethod, "stale")); !errors.Is(err, domain.ErrIdempotencyReceiptNotFound) {
		t.Fatalf("expected expired receipt to be deleted, got %v", err)
	}
}
