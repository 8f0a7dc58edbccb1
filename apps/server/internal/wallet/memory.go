package wallet

import (
	"context"
	"sync"
)

const defaultStartingBalance int64 = 100000 // 1000.00 in cents

type entryKey struct {
	UserID uint64
	Ref    string
	Reason string
}

// Manager is the in-memory wallet for single-binary deployment. Accounts
// are seeded with a starting balance on first touch; every applied entry is
// remembered so replays return the balance recorded at apply time.
type Manager struct {
	mu sync.Mutex

	startingBalance int64
	balances        map[uint64]int64
	entries         map[entryKey]int64 // key -> balance after apply
}

func NewManager(startingBalance int64) *Manager {
	if startingBalance < 0 {
		startingBalance = defaultStartingBalance
	}
	return &Manager{
		startingBalance: startingBalance,
		balances:        make(map[uint64]int64),
		entries:         make(map[entryKey]int64),
	}
}

func (m *Manager) Close() error { return nil }

func (m *Manager) touchLocked(userID uint64) int64 {
	if balance, exists := m.balances[userID]; exists {
		return balance
	}
	m.balances[userID] = m.startingBalance
	return m.startingBalance
}

func (m *Manager) Debit(_ context.Context, userID uint64, amount int64, reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey{UserID: userID, Ref: ref, Reason: reason}
	if recorded, exists := m.entries[key]; exists {
		return recorded, nil
	}

	balance := m.touchLocked(userID)
	if balance < amount {
		return balance, ErrInsufficientFunds
	}
	balance -= amount
	m.balances[userID] = balance
	m.entries[key] = balance
	return balance, nil
}

func (m *Manager) Credit(_ context.Context, userID uint64, amount int64, reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey{UserID: userID, Ref: ref, Reason: reason}
	if recorded, exists := m.entries[key]; exists {
		return recorded, nil
	}

	balance := m.touchLocked(userID) + amount
	m.balances[userID] = balance
	m.entries[key] = balance
	return balance, nil
}

func (m *Manager) Balance(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touchLocked(userID), nil
}
