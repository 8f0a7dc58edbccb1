package store

import (
	"context"
	"time"
)

// RoundRecord is the durable projection of a round. The server seed and
// crash point columns stay empty until the round crashes; the read side
// additionally blanks them for any row whose phase is not "crashed" so a
// partially-written row can never leak an unrevealed seed.
type RoundRecord struct {
	ID             string    `json:"id"`
	Sequence       uint64    `json:"sequence"`
	Phase          string    `json:"phase"`
	ServerSeed     string    `json:"server_seed,omitempty"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	Nonce          uint64    `json:"nonce"`
	CrashPoint     int64     `json:"crash_point,omitempty"`
	BettingOpensAt time.Time `json:"betting_opens_at"`
	FlightStartsAt time.Time `json:"flight_starts_at,omitempty"`
	CrashedAt      time.Time `json:"crashed_at,omitempty"`
	TotalBets      int       `json:"total_bets"`
	TotalWagered   int64     `json:"total_wagered"`
}

type BetRecord struct {
	ID                string    `json:"id"`
	UserID            uint64    `json:"user_id"`
	RoundID           string    `json:"round_id"`
	Amount            int64     `json:"amount"`
	AutoCashout       int64     `json:"auto_cashout,omitempty"`
	CashedOut         bool      `json:"cashed_out"`
	CashoutMultiplier int64     `json:"cashout_multiplier,omitempty"`
	CashoutTimeMs     int64     `json:"cashout_time_ms,omitempty"`
	Payout            int64     `json:"payout"`
	Profit            int64     `json:"profit"`
	PlacedAt          time.Time `json:"placed_at"`
}

// Service is the durable round/bet archive. All writes are retry-safe
// upserts keyed on the record ID, so the scheduler may replay any write
// after a timeout without corrupting history.
type Service interface {
	Close() error
	CreateRound(ctx context.Context, r RoundRecord) error
	UpdateRound(ctx context.Context, r RoundRecord) error
	CreateBet(ctx context.Context, b BetRecord) error
	UpdateBet(ctx context.Context, b BetRecord) error
	ListRecentRounds(ctx context.Context, limit int) ([]RoundRecord, error)
	ListUserBets(ctx context.Context, userID uint64, limit int) ([]BetRecord, error)
}

type noopService struct{}

// NewNoopService returns a store that drops every write; used in memory
// mode where the in-process state is the only state.
func NewNoopService() Service { return &noopService{} }

func (n *noopService) Close() error                                    { return nil }
func (n *noopService) CreateRound(context.Context, RoundRecord) error  { return nil }
func (n *noopService) UpdateRound(context.Context, RoundRecord) error  { return nil }
func (n *noopService) CreateBet(context.Context, BetRecord) error      { return nil }
func (n *noopService) UpdateBet(context.Context, BetRecord) error      { return nil }
func (n *noopService) ListRecentRounds(context.Context, int) ([]RoundRecord, error) {
	return []RoundRecord{}, nil
}
func (n *noopService) ListUserBets(context.Context, uint64, int) ([]BetRecord, error) {
	return []BetRecord{}, nil
}

// redactUnresolved blanks seed material on any round that has not crashed.
func redactUnresolved(rounds []RoundRecord) []RoundRecord {
	for i := range rounds {
		if rounds[i].Phase != "crashed" {
			rounds[i].ServerSeed = ""
			rounds[i].CrashPoint = 0
		}
	}
	return rounds
}
