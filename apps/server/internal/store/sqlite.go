package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "crash_history.db"

type SQLiteService struct {
	db *sql.DB
}

func NewSQLiteServiceFromEnv() (*SQLiteService, error) {
	dbPath, err := storeLocalDatabasePathFromEnv()
	if err != nil {
		return nil, err
	}
	return NewSQLiteService(dbPath)
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
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
	if err := ensureSQLiteStoreSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{db: db}, nil
}

func ensureSQLiteStoreSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rounds (
    id TEXT PRIMARY KEY,
    sequence INTEGER NOT NULL,
    phase TEXT NOT NULL,
    server_seed TEXT NOT NULL DEFAULT '',
    server_seed_hash TEXT NOT NULL,
    client_seed TEXT NOT NULL,
    nonce INTEGER NOT NULL,
    crash_point INTEGER NOT NULL DEFAULT 0,
    betting_opens_at INTEGER NOT NULL,
    flight_starts_at INTEGER NOT NULL DEFAULT 0,
    crashed_at INTEGER NOT NULL DEFAULT 0,
    total_bets INTEGER NOT NULL DEFAULT 0,
    total_wagered INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_rounds_sequence ON rounds (sequence DESC);
CREATE TABLE IF NOT EXISTS bets (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    round_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    auto_cashout INTEGER NOT NULL DEFAULT 0,
    cashed_out INTEGER NOT NULL DEFAULT 0,
    cashout_multiplier INTEGER NOT NULL DEFAULT 0,
    cashout_time_ms INTEGER NOT NULL DEFAULT 0,
    payout INTEGER NOT NULL DEFAULT 0,
    profit INTEGER NOT NULL DEFAULT 0,
    placed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bets_user ON bets (user_id, placed_at DESC);
`)
	return err
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) upsertRound(ctx context.Context, r RoundRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rounds (id, sequence, phase, server_seed, server_seed_hash, client_seed, nonce,
                    crash_point, betting_opens_at, flight_starts_at, crashed_at, total_bets, total_wagered)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    phase = excluded.phase,
    server_seed = excluded.server_seed,
    crash_point = excluded.crash_point,
    flight_starts_at = excluded.flight_starts_at,
    crashed_at = excluded.crashed_at,
    total_bets = excluded.total_bets,
    total_wagered = excluded.total_wagered
`, r.ID, r.Sequence, r.Phase, r.ServerSeed, r.ServerSeedHash, r.ClientSeed, r.Nonce,
		r.CrashPoint, unixMs(r.BettingOpensAt), unixMs(r.FlightStartsAt), unixMs(r.CrashedAt),
		r.TotalBets, r.TotalWagered)
	return err
}

func (s *SQLiteService) CreateRound(ctx context.Context, r RoundRecord) error {
	return s.upsertRound(ctx, r)
}

func (s *SQLiteService) UpdateRound(ctx context.Context, r RoundRecord) error {
	return s.upsertRound(ctx, r)
}

func (s *SQLiteService) upsertBet(ctx context.Context, b BetRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bets (id, user_id, round_id, amount, auto_cashout, cashed_out,
                  cashout_multiplier, cashout_time_ms, payout, profit, placed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    cashed_out = excluded.cashed_out,
    cashout_multiplier = excluded.cashout_multiplier,
    cashout_time_ms = excluded.cashout_time_ms,
    payout = excluded.payout,
    profit = excluded.profit
`, b.ID, b.UserID, b.RoundID, b.Amount, b.AutoCashout, boolToInt(b.CashedOut),
		b.CashoutMultiplier, b.CashoutTimeMs, b.Payout, b.Profit, unixMs(b.PlacedAt))
	return err
}

func (s *SQLiteService) CreateBet(ctx context.Context, b BetRecord) error {
	return s.upsertBet(ctx, b)
}

func (s *SQLiteService) UpdateBet(ctx context.Context, b BetRecord) error {
	return s.upsertBet(ctx, b)
}

func (s *SQLiteService) ListRecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, sequence, phase, server_seed, server_seed_hash, client_seed, nonce,
       crash_point, betting_opens_at, flight_starts_at, crashed_at, total_bets, total_wagered
FROM rounds
ORDER BY sequence DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds := []RoundRecord{}
	for rows.Next() {
		var r RoundRecord
		var opensMs, flightMs, crashedMs int64
		if err := rows.Scan(&r.ID, &r.Sequence, &r.Phase, &r.ServerSeed, &r.ServerSeedHash,
			&r.ClientSeed, &r.Nonce, &r.CrashPoint, &opensMs, &flightMs, &crashedMs,
			&r.TotalBets, &r.TotalWagered); err != nil {
			return nil, err
		}
		r.BettingOpensAt = fromUnixMs(opensMs)
		r.FlightStartsAt = fromUnixMs(flightMs)
		r.CrashedAt = fromUnixMs(crashedMs)
		rounds = append(rounds, r)
	}
	return redactUnresolved(rounds), rows.Err()
}

func (s *SQLiteService) ListUserBets(ctx context.Context, userID uint64, limit int) ([]BetRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, round_id, amount, auto_cashout, cashed_out,
       cashout_multiplier, cashout_time_ms, payout, profit, placed_at
FROM bets
WHERE user_id = ?
ORDER BY placed_at DESC
LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []BetRecord{}
	for rows.Next() {
		var b BetRecord
		var cashedOut int
		var placedMs int64
		if err := rows.Scan(&b.ID, &b.UserID, &b.RoundID, &b.Amount, &b.AutoCashout,
			&cashedOut, &b.CashoutMultiplier, &b.CashoutTimeMs, &b.Payout, &b.Profit,
			&placedMs); err != nil {
			return nil, err
		}
		b.CashedOut = cashedOut != 0
		b.PlacedAt = fromUnixMs(placedMs)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func storeLocalDatabasePathFromEnv() (string, error) {
	if v := strings.TrimSpace(os.Getenv("STORE_SQLITE_PATH")); v != "" {
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
