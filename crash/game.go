package crash

import (
	"sort"
	"sync"
	"time"
)

// Round is the authoritative record of one crash round.
type Round struct {
	ID       string
	Sequence uint64
	Phase    Phase

	// Commit-reveal material. ServerSeed must never leave the engine
	// before CrashedAt is set.
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	Nonce          uint64

	// CrashPoint is fixed at flight start (hundredths) and concealed from
	// snapshots until the round crashes.
	CrashPoint int64

	BettingOpensAt  time.Time
	BettingClosesAt time.Time
	FlightStartsAt  time.Time
	CrashedAt       time.Time

	TotalBets    int
	TotalWagered int64
}

// Bet is a single wager. Append-only: it is mutated exactly once, at
// cashout or at loss resolution, and never deleted after the round settles.
type Bet struct {
	ID      string
	UserID  uint64
	RoundID string

	Amount      int64 // cents
	AutoCashout int64 // hundredths; 0 = none

	CashedOut         bool
	CashoutMultiplier int64
	CashoutTimeMs     int64
	Payout            int64
	Profit            int64

	PlacedAt time.Time
}

// Game owns the current round and its bets. It is a pure state machine:
// no timers, no I/O. The scheduler is the sole writer of phase and clock;
// every mutation goes through a method under the engine mutex.
type Game struct {
	mu   sync.Mutex
	cfg  Config
	fair *Fairness

	round    *Round
	bets     map[uint64]*Bet
	sequence uint64
	liveMult int64
}

func NewGame(cfg Config) (*Game, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Game{
		cfg:      cfg,
		fair:     NewFairness(cfg),
		bets:     make(map[uint64]*Bet),
		liveMult: BaseMultiplier,
	}, nil
}

func (g *Game) Config() Config { return g.cfg }

// OpenBetting creates the next round and publishes its commitment. The
// previous round's bets are discarded (they were settled at crash). Returns
// a *FairnessError if seed material cannot be produced, in which case no
// round is created.
func (g *Game) OpenBetting(roundID string, now time.Time, window time.Duration) (Round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round != nil && g.round.Phase != PhaseCrashed {
		return Round{}, ErrInvalid("previous round still in progress")
	}

	commit, err := g.fair.Commit()
	if err != nil {
		return Round{}, err
	}

	g.sequence++
	g.round = &Round{
		ID:              roundID,
		Sequence:        g.sequence,
		Phase:           PhaseBetting,
		ServerSeed:      commit.ServerSeed,
		ServerSeedHash:  commit.ServerSeedHash,
		ClientSeed:      commit.ClientSeed,
		Nonce:           commit.Nonce,
		BettingOpensAt:  now,
		BettingClosesAt: now.Add(window),
	}
	g.bets = make(map[uint64]*Bet)
	g.liveMult = BaseMultiplier
	return *g.round, nil
}

// StartFlight closes betting and fixes the crash point from the
// already-committed seed material. The crash point stays internal.
func (g *Game) StartFlight(now time.Time) (Round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Round{}, ErrNoRound
	}
	if g.round.Phase != PhaseBetting {
		return Round{}, ErrInvalid("round is not in betting phase")
	}

	g.round.Phase = PhaseFlying
	g.round.FlightStartsAt = now
	g.round.CrashPoint = g.fair.DeriveCrashPoint(g.round.ServerSeed, g.round.ClientSeed, g.round.Nonce)
	g.liveMult = BaseMultiplier
	return *g.round, nil
}

// Tick recomputes the live multiplier for a flight-clock tick. The returned
// multiplier is capped at the crash point, so on the terminal tick the
// auto-cashout sweep pays at most the crash multiplier and exact ties cash
// out rather than lose. reached reports that the curve hit the crash point.
func (g *Game) Tick(now time.Time) (mult int64, reached bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return 0, false, ErrNoRound
	}
	if g.round.Phase != PhaseFlying {
		return 0, false, ErrNotFlying
	}

	elapsed := now.Sub(g.round.FlightStartsAt).Milliseconds()
	mult = MultiplierAt(elapsed)
	if mult >= g.round.CrashPoint {
		mult = g.round.CrashPoint
		reached = true
	}
	g.liveMult = mult
	return mult, reached, nil
}

// Crash ends the flight. After Crash the server seed may be revealed and
// ResolveLosses settles the remaining bets.
func (g *Game) Crash(now time.Time) (Round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Round{}, ErrNoRound
	}
	if g.round.Phase != PhaseFlying {
		return Round{}, ErrNotFlying
	}

	g.round.Phase = PhaseCrashed
	g.round.CrashedAt = now
	g.liveMult = g.round.CrashPoint
	return *g.round, nil
}

// PlaceBet validates and records one wager. At most one bet per user per
// round; rejected calls cause no state change. The caller debits the wallet
// before calling and revokes with RevokeBet if downstream persistence fails.
func (g *Game) PlaceBet(betID string, userID uint64, amount, autoCashout int64, now time.Time) (Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Bet{}, ErrNoRound
	}
	if g.round.Phase != PhaseBetting {
		return Bet{}, ErrBettingClosed
	}
	if amount < g.cfg.MinBet || amount > g.cfg.MaxBet {
		return Bet{}, ErrInvalid("bet amount out of bounds")
	}
	if autoCashout != 0 && autoCashout < g.cfg.MinAutoCashout {
		return Bet{}, ErrInvalid("auto-cashout below minimum")
	}
	if _, exists := g.bets[userID]; exists {
		return Bet{}, ErrBetExists
	}

	bet := &Bet{
		ID:          betID,
		UserID:      userID,
		RoundID:     g.round.ID,
		Amount:      amount,
		AutoCashout: autoCashout,
		PlacedAt:    now,
	}
	g.bets[userID] = bet
	g.round.TotalBets++
	g.round.TotalWagered += amount
	return *bet, nil
}

// CanPlaceBet runs PlaceBet's validation without mutating anything, so the
// scheduler can reject a doomed request before touching the wallet.
func (g *Game) CanPlaceBet(userID uint64, amount, autoCashout int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return ErrNoRound
	}
	if g.round.Phase != PhaseBetting {
		return ErrBettingClosed
	}
	if amount < g.cfg.MinBet || amount > g.cfg.MaxBet {
		return ErrInvalid("bet amount out of bounds")
	}
	if autoCashout != 0 && autoCashout < g.cfg.MinAutoCashout {
		return ErrInvalid("auto-cashout below minimum")
	}
	if _, exists := g.bets[userID]; exists {
		return ErrBetExists
	}
	return nil
}

// RevokeBet removes a just-placed bet so its debit can be compensated.
// Only legal while betting is open and the bet has not settled.
func (g *Game) RevokeBet(userID uint64) (Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Bet{}, ErrNoRound
	}
	if g.round.Phase != PhaseBetting {
		return Bet{}, ErrBettingClosed
	}
	bet, exists := g.bets[userID]
	if !exists {
		return Bet{}, ErrNoActiveBet
	}

	delete(g.bets, userID)
	g.round.TotalBets--
	g.round.TotalWagered -= bet.Amount
	return *bet, nil
}

// CashOut settles a live bet at the given multiplier. The multiplier comes
// from the scheduler's flight clock, never from the client, and is clamped
// to the crash point defensively.
func (g *Game) CashOut(userID uint64, multiplier int64, now time.Time) (Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return Bet{}, ErrNoRound
	}
	if g.round.Phase != PhaseFlying {
		return Bet{}, ErrNotFlying
	}
	bet, exists := g.bets[userID]
	if !exists {
		return Bet{}, ErrNoActiveBet
	}
	if bet.CashedOut {
		return Bet{}, ErrAlreadyCashedOut
	}

	g.settleCashoutLocked(bet, multiplier, now)
	return *bet, nil
}

// SweepAutoCashouts cashes out every live bet whose threshold is at or
// below the tick multiplier, through the same accounting as CashOut.
// Results are ordered by userID so settlement is deterministic.
func (g *Game) SweepAutoCashouts(multiplier int64, now time.Time) ([]Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return nil, ErrNoRound
	}
	if g.round.Phase != PhaseFlying {
		return nil, ErrNotFlying
	}

	var results []Bet
	for _, bet := range g.bets {
		if bet.CashedOut || bet.AutoCashout == 0 {
			continue
		}
		if bet.AutoCashout <= multiplier {
			g.settleCashoutLocked(bet, multiplier, now)
			results = append(results, *bet)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].UserID < results[j].UserID })
	return results, nil
}

func (g *Game) settleCashoutLocked(bet *Bet, multiplier int64, now time.Time) {
	if multiplier < BaseMultiplier {
		multiplier = BaseMultiplier
	}
	if g.round.CrashPoint > 0 && multiplier > g.round.CrashPoint {
		multiplier = g.round.CrashPoint
	}
	bet.CashedOut = true
	bet.CashoutMultiplier = multiplier
	bet.CashoutTimeMs = now.Sub(g.round.FlightStartsAt).Milliseconds()
	bet.Payout = bet.Amount * multiplier / 100
	bet.Profit = bet.Payout - bet.Amount
}

// ResolveLosses marks every still-active bet as lost after the crash.
// payout=0, profit=-amount, written exactly once.
func (g *Game) ResolveLosses() ([]Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round == nil {
		return nil, ErrNoRound
	}
	if g.round.Phase != PhaseCrashed {
		return nil, ErrRoundEnded
	}

	var losers []Bet
	for _, bet := range g.bets {
		if bet.CashedOut {
			continue
		}
		bet.Payout = 0
		bet.Profit = -bet.Amount
		losers = append(losers, *bet)
	}
	sort.Slice(losers, func(i, j int) bool { return losers[i].UserID < losers[j].UserID })
	return losers, nil
}

// LiveMultiplier returns the multiplier of the most recent flight tick.
func (g *Game) LiveMultiplier() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveMult
}

// Phase returns the current round phase; PhasePreparing when no round exists.
func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.round == nil {
		return PhasePreparing
	}
	return g.round.Phase
}

// CurrentRound returns a copy of the current round, if any.
func (g *Game) CurrentRound() (Round, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.round == nil {
		return Round{}, false
	}
	return *g.round, true
}

// BetOf returns a copy of the user's bet for the current round, if any.
func (g *Game) BetOf(userID uint64) (Bet, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bet, exists := g.bets[userID]
	if !exists {
		return Bet{}, false
	}
	return *bet, true
}

// Bets returns copies of all bets of the current round, ordered by userID.
func (g *Game) Bets() []Bet {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Bet, 0, len(g.bets))
	for _, bet := range g.bets {
		out = append(out, *bet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
