package wallet

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Service is the balance-ledger contract consumed by the round scheduler.
// Debit and Credit are idempotent per (userID, ref, reason): replaying an
// entry with the same key applies nothing and returns the balance recorded
// at apply time, which makes scheduler retries safe. The caller picks the
// ref scope: the scheduler uses the bet ID for wager entries, so a revoked
// placement and a fresh one never collide on the same key.
type Service interface {
	Debit(ctx context.Context, userID uint64, amount int64, reason, ref string) (newBalance int64, err error)
	Credit(ctx context.Context, userID uint64, amount int64, reason, ref string) (newBalance int64, err error)
	Balance(ctx context.Context, userID uint64) (int64, error)
	Close() error
}
