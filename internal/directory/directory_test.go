package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/careline/concierge/internal/verify"
)

func TestLookupByAnyHandle(t *testing.T) {
	t.Parallel()
	b := SeedDemo()
	ctx := context.Background()

	for _, handle := range []string{"555-1234", "dana@example.com", "ACCT-80231", "  Dana@Example.com "} {
		res, err := b.Lookup(ctx, handle)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", handle, err)
		}
		if !res.Found || res.CustomerID != "C-1001" {
			t.Fatalf("Lookup(%q) = %+v", handle, res)
		}
	}

	res, err := b.Lookup(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if res.Found {
		t.Fatalf("expected miss, got %+v", res)
	}
}

func TestVerifyFactor(t *testing.T) {
	t.Parallel()
	b := SeedDemo()
	ctx := context.Background()

	ok, err := b.VerifyFactor(ctx, "555-1234", verify.FactorSSN, "1234")
	if err != nil || !ok {
		t.Fatalf("expected SSN match, got %v (%v)", ok, err)
	}
	ok, err = b.VerifyFactor(ctx, "555-1234", verify.FactorDOB, "1990-04-02")
	if err != nil || !ok {
		t.Fatalf("expected DOB match, got %v (%v)", ok, err)
	}
	ok, _ = b.VerifyFactor(ctx, "555-1234", verify.FactorSSN, "0000")
	if ok {
		t.Fatalf("expected SSN mismatch")
	}
	if _, err := b.VerifyFactor(ctx, "unknown", verify.FactorSSN, "1234"); err == nil {
		t.Fatalf("expected error for unknown identifier")
	}
}

func TestPaymentUpdatesBalanceAndLedger(t *testing.T) {
	t.Parallel()
	b := SeedDemo()

	before, err := b.Balance("C-1001")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	tx, err := b.SubmitPayment("C-1001", 100, "test payment")
	if err != nil {
		t.Fatalf("SubmitPayment failed: %v", err)
	}
	if tx.Amount != -100 {
		t.Fatalf("expected debit of 100, got %v", tx.Amount)
	}
	after, _ := b.Balance("C-1001")
	if after != before-100 {
		t.Fatalf("balance not debited: %v -> %v", before, after)
	}
	txs, _ := b.Transactions("C-1001", 0)
	if txs[len(txs)-1].Memo != "test payment" {
		t.Fatalf("payment not recorded: %+v", txs)
	}

	if _, err := b.SubmitPayment("C-1001", -5, "bad"); err == nil {
		t.Fatalf("expected rejection of non-positive amount")
	}
}

func TestDeactivatedCustomerIsInactive(t *testing.T) {
	t.Parallel()
	b := SeedDemo()
	b.Deactivate("C-1001")

	if _, err := b.Balance("C-1001"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if _, err := b.Balance("C-9999"); !errors.Is(err, ErrUnknownCustomer) {
		t.Fatalf("expected ErrUnknownCustomer, got %v", err)
	}
}

func TestUpdateContactReindexesHandle(t *testing.T) {
	t.Parallel()
	b := SeedDemo()
	ctx := context.Background()

	if err := b.UpdateContact("C-1001", "phone", "555-0000"); err != nil {
		t.Fatalf("UpdateContact failed: %v", err)
	}
	res, _ := b.Lookup(ctx, "555-0000")
	if !res.Found || res.CustomerID != "C-1001" {
		t.Fatalf("new handle not indexed: %+v", res)
	}
	res, _ = b.Lookup(ctx, "555-1234")
	if res.Found {
		t.Fatalf("old handle should be gone")
	}
	if err := b.UpdateContact("C-1001", "shoe_size", "44"); err == nil {
		t.Fatalf("expected unsupported field error")
	}
}
