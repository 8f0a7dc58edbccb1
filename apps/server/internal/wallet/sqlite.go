package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "crash_local.db"

type SQLiteService struct {
	db              *sql.DB
	startingBalance int64
}

func NewSQLiteServiceFromEnv() (*SQLiteService, error) {
	dbPath, err := walletLocalDatabasePathFromEnv()
	if err != nil {
		return nil, err
	}
	return NewSQLiteService(dbPath, startingBalanceFromEnv())
}

func NewSQLiteService(dbPath string, startingBalance int64) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if startingBalance < 0 {
		startingBalance = defaultStartingBalance
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteWalletSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{db: db, startingBalance: startingBalance}, nil
}

func ensureSQLiteWalletSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS wallet_accounts (
    user_id INTEGER PRIMARY KEY,
    balance INTEGER NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS wallet_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    ref TEXT NOT NULL,
    reason TEXT NOT NULL,
    amount INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (user_id, ref, reason)
);
`)
	return err
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// apply runs one idempotent ledger entry. delta is negative for debits.
func (s *SQLiteService) apply(ctx context.Context, userID uint64, delta int64, reason, ref string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Idempotency: a replayed entry returns the balance recorded at apply time.
	var recorded int64
	err = tx.QueryRowContext(ctx, `
SELECT balance_after FROM wallet_entries
WHERE user_id = ? AND ref = ? AND reason = ?
`, userID, ref, reason).Scan(&recorded)
	if err == nil {
		return recorded, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO wallet_accounts (user_id, balance) VALUES (?, ?)
ON CONFLICT (user_id) DO NOTHING
`, userID, s.startingBalance); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
SELECT balance FROM wallet_accounts WHERE user_id = ?
`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	if delta < 0 && balance+delta < 0 {
		return balance, ErrInsufficientFunds
	}
	balance += delta

	if _, err := tx.ExecContext(ctx, `
UPDATE wallet_accounts SET balance = ?, updated_at = datetime('now') WHERE user_id = ?
`, balance, userID); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO wallet_entries (user_id, ref, reason, amount, balance_after)
VALUES (?, ?, ?, ?, ?)
`, userID, ref, reason, delta, balance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteService) Debit(ctx context.Context, userID uint64, amount int64, reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amount, reason, ref)
}

func (s *SQLiteService) Credit(ctx context.Context, userID uint64, amount int64, reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, userID, amount, reason, ref)
}

func (s *SQLiteService) Balance(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
SELECT balance FROM wallet_accounts WHERE user_id = ?
`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return s.startingBalance, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func walletLocalDatabasePathFromEnv() (string, error) {
	if v := strings.TrimSpace(os.Getenv("WALLET_SQLITE_PATH")); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("LOCAL_DATA_DIR")); v != "" {
		return filepath.Join(v, defaultLocalDBName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crash-lite", defaultLocalDBName), nil
}
