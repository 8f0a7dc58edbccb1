package scheduler

import (
	"crash-lite/crash"

	"crash-lite/apps/server/internal/store"
)

// Server->client message types.
const (
	MsgSnapshot    = "snapshot"
	MsgRoundOpen   = "round_open"
	MsgFlightStart = "flight_start"
	MsgTick        = "tick"
	MsgBetPlaced   = "bet_placed"
	MsgCashout     = "cashout"
	MsgCrash       = "crash"
	MsgError       = "error"
)

// Client->server message types.
const (
	ClientPlaceBet = "place_bet"
	ClientCashOut  = "cash_out"
	ClientSnapshot = "snapshot"
)

// ServerEnvelope is the wire frame for every scheduler push. Seq is a
// monotonic server sequence so clients can discard stale frames.
type ServerEnvelope struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	TsMs int64  `json:"ts_ms"`

	Snapshot *crash.Snapshot `json:"snapshot,omitempty"`
	Tick     *TickPayload    `json:"tick,omitempty"`
	Bet      *BetPayload     `json:"bet,omitempty"`
	Cashout  *CashoutPayload `json:"cashout,omitempty"`
	Error    *ErrorPayload   `json:"error,omitempty"`
}

type TickPayload struct {
	RoundID    string `json:"round_id"`
	Multiplier int64  `json:"multiplier"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

type BetPayload struct {
	View    crash.BetView `json:"view"`
	RoundID string        `json:"round_id"`
	Balance int64         `json:"balance,omitempty"`
}

type CashoutPayload struct {
	View    crash.BetView `json:"view"`
	RoundID string        `json:"round_id"`
	Auto    bool          `json:"auto"`
	Balance int64         `json:"balance,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientEnvelope is the wire frame for gateway commands.
type ClientEnvelope struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount,omitempty"`
	AutoCashout int64  `json:"auto_cashout,omitempty"`
}

// roundRecord projects an engine round for the archive. Seed material is
// written only once the round has crashed; the store's read side re-checks,
// this keeps it out of the row entirely until reveal.
func roundRecord(r crash.Round) store.RoundRecord {
	rec := store.RoundRecord{
		ID:             r.ID,
		Sequence:       r.Sequence,
		Phase:          r.Phase.String(),
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		Nonce:          r.Nonce,
		BettingOpensAt: r.BettingOpensAt,
		FlightStartsAt: r.FlightStartsAt,
		CrashedAt:      r.CrashedAt,
		TotalBets:      r.TotalBets,
		TotalWagered:   r.TotalWagered,
	}
	if r.Phase == crash.PhaseCrashed {
		rec.ServerSeed = r.ServerSeed
		rec.CrashPoint = r.CrashPoint
	}
	return rec
}

func betRecord(b crash.Bet) store.BetRecord {
	return store.BetRecord{
		ID:                b.ID,
		UserID:            b.UserID,
		RoundID:           b.RoundID,
		Amount:            b.Amount,
		AutoCashout:       b.AutoCashout,
		CashedOut:         b.CashedOut,
		CashoutMultiplier: b.CashoutMultiplier,
		CashoutTimeMs:     b.CashoutTimeMs,
		Payout:            b.Payout,
		Profit:            b.Profit,
		PlacedAt:          b.PlacedAt,
	}
}

func betView(b crash.Bet, owner bool) crash.BetView {
	v := crash.BetView{
		ID:                b.ID,
		UserID:            b.UserID,
		Amount:            b.Amount,
		CashedOut:         b.CashedOut,
		CashoutMultiplier: b.CashoutMultiplier,
		Payout:            b.Payout,
		Profit:            b.Profit,
	}
	if owner {
		v.AutoCashout = b.AutoCashout
	}
	return v
}
