package wallet

import (
	"context"
	"errors"
	"testing"
)

func newSQLiteWallet(t *testing.T) *SQLiteService {
	t.Helper()
	s, err := NewSQLiteService(":memory:", 10000)
	if err != nil {
		t.Fatalf("NewSQLiteService err: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_DebitCreditRoundTrip(t *testing.T) {
	s := newSQLiteWallet(t)
	ctx := context.Background()

	balance, err := s.Debit(ctx, 7, 2500, "bet", "bet_1")
	if err != nil {
		t.Fatalf("Debit err: %v", err)
	}
	if balance != 7500 {
		t.Fatalf("expected 7500, got %d", balance)
	}

	balance, err = s.Credit(ctx, 7, 5000, "cashout", "bet_1")
	if err != nil {
		t.Fatalf("Credit err: %v", err)
	}
	if balance != 12500 {
		t.Fatalf("expected 12500, got %d", balance)
	}

	stored, err := s.Balance(ctx, 7)
	if err != nil {
		t.Fatalf("Balance err: %v", err)
	}
	if stored != 12500 {
		t.Fatalf("stored balance %d", stored)
	}
}

func TestSQLite_ReplaySafeEntries(t *testing.T) {
	s := newSQLiteWallet(t)
	ctx := context.Background()

	first, err := s.Debit(ctx, 7, 1000, "bet", "bet_1")
	if err != nil {
		t.Fatalf("Debit err: %v", err)
	}
	replay, err := s.Debit(ctx, 7, 1000, "bet", "bet_1")
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if replay != first {
		t.Fatalf("replay balance %d, want %d", replay, first)
	}

	balance, _ := s.Balance(ctx, 7)
	if balance != 9000 {
		t.Fatalf("entry applied twice: %d", balance)
	}
}

func TestSQLite_RefundedAttemptDoesNotBlockNextDebit(t *testing.T) {
	s := newSQLiteWallet(t)
	ctx := context.Background()

	if _, err := s.Debit(ctx, 7, 1000, "bet", "bet_1"); err != nil {
		t.Fatalf("Debit err: %v", err)
	}
	if _, err := s.Credit(ctx, 7, 1000, "refund", "bet_1"); err != nil {
		t.Fatalf("refund err: %v", err)
	}

	// A later attempt with its own bet ID applies a real debit instead of
	// replaying the compensated entry.
	balance, err := s.Debit(ctx, 7, 1000, "bet", "bet_2")
	if err != nil {
		t.Fatalf("Debit bet_2 err: %v", err)
	}
	if balance != 9000 {
		t.Fatalf("fresh attempt did not debit: %d", balance)
	}
}

func TestSQLite_InsufficientFunds(t *testing.T) {
	s := newSQLiteWallet(t)
	ctx := context.Background()
	if _, err := s.Debit(ctx, 7, 10001, "bet", "bet_1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, _ := s.Balance(ctx, 7)
	if balance != 10000 {
		t.Fatalf("failed debit mutated balance: %d", balance)
	}
}
