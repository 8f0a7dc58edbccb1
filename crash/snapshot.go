package crash

import "time"

// BetView is the broadcast projection of a Bet. AutoCashout is only
// populated for the bet's owner; other players never see a pending
// threshold.
type BetView struct {
	ID                string `json:"id"`
	UserID            uint64 `json:"user_id"`
	Amount            int64  `json:"amount"`
	AutoCashout       int64  `json:"auto_cashout,omitempty"`
	CashedOut         bool   `json:"cashed_out"`
	CashoutMultiplier int64  `json:"cashout_multiplier,omitempty"`
	Payout            int64  `json:"payout"`
	Profit            int64  `json:"profit"`
}

// Snapshot is the broadcast projection of the current round. It never
// carries the server seed or the crash point while the round is unresolved.
type Snapshot struct {
	RoundID           string `json:"round_id"`
	Sequence          uint64 `json:"sequence"`
	Phase             string `json:"phase"`
	Multiplier        int64  `json:"multiplier"`
	BettingTimeLeftMs int64  `json:"betting_time_left_ms"`

	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`

	// Revealed only once the round has crashed.
	ServerSeed string `json:"server_seed,omitempty"`
	CrashPoint int64  `json:"crash_point,omitempty"`

	TotalBets     int   `json:"total_bets"`
	TotalWagered  int64 `json:"total_wagered"`
	ActivePlayers int   `json:"active_players"`

	YourBet *BetView `json:"your_bet,omitempty"`
}

// Snapshot builds the shared (no-viewer) projection.
func (g *Game) Snapshot(now time.Time) Snapshot {
	return g.SnapshotFor(0, now)
}

// SnapshotFor builds the projection for one viewer, including their own bet
// with its auto-cashout threshold.
func (g *Game) SnapshotFor(userID uint64, now time.Time) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Snapshot{Phase: PhasePreparing.String(), Multiplier: BaseMultiplier}
	}

	s := Snapshot{
		RoundID:        g.round.ID,
		Sequence:       g.round.Sequence,
		Phase:          g.round.Phase.String(),
		Multiplier:     g.liveMult,
		ServerSeedHash: g.round.ServerSeedHash,
		ClientSeed:     g.round.ClientSeed,
		Nonce:          g.round.Nonce,
		TotalBets:      g.round.TotalBets,
		TotalWagered:   g.round.TotalWagered,
	}

	if g.round.Phase == PhaseBetting {
		left := g.round.BettingClosesAt.Sub(now).Milliseconds()
		if left < 0 {
			left = 0
		}
		s.BettingTimeLeftMs = left
	}
	if g.round.Phase == PhaseCrashed {
		s.ServerSeed = g.round.ServerSeed
		s.CrashPoint = g.round.CrashPoint
	}

	for _, bet := range g.bets {
		if !bet.CashedOut {
			s.ActivePlayers++
		}
	}

	if userID != 0 {
		if bet, exists := g.bets[userID]; exists {
			view := betViewOf(bet, true)
			s.YourBet = &view
		}
	}
	return s
}

func betViewOf(bet *Bet, owner bool) BetView {
	v := BetView{
		ID:                bet.ID,
		UserID:            bet.UserID,
		Amount:            bet.Amount,
		CashedOut:         bet.CashedOut,
		CashoutMultiplier: bet.CashoutMultiplier,
		Payout:            bet.Payout,
		Profit:            bet.Profit,
	}
	if owner {
		v.AutoCashout = bet.AutoCashout
	}
	return v
}
