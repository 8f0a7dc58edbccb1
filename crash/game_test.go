package crash

import (
	"errors"
	"testing"
	"time"
)

const bettingWindow = 10 * time.Second

func newTestGame(t *testing.T) (*Game, Round, time.Time) {
	t.Helper()
	g, err := NewGame(DefaultConfig())
	if err != nil {
		t.Fatalf("NewGame err: %v", err)
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	round, err := g.OpenBetting("round_1", now, bettingWindow)
	if err != nil {
		t.Fatalf("OpenBetting err: %v", err)
	}
	return g, round, now
}

// pinCrashPoint overrides the derived crash point so scenario tests are
// deterministic. White-box by design; derivation itself is covered in
// fairness_test.go.
func pinCrashPoint(g *Game, mult int64) {
	g.mu.Lock()
	g.round.CrashPoint = mult
	g.mu.Unlock()
}

func TestOpenBetting_PublishesCommitmentBeforeWagers(t *testing.T) {
	g, round, _ := newTestGame(t)

	if round.Phase != PhaseBetting {
		t.Fatalf("expected betting phase, got %v", round.Phase)
	}
	if round.ServerSeedHash == "" || round.ClientSeed == "" || round.Nonce == 0 {
		t.Fatalf("commitment missing at betting open: %+v", round)
	}
	if HashServerSeed(round.ServerSeed) != round.ServerSeedHash {
		t.Fatalf("commitment does not bind the server seed")
	}
	if round.CrashPoint != 0 {
		t.Fatalf("crash point must not be fixed before flight start")
	}
	if g.Phase() != PhaseBetting {
		t.Fatalf("unexpected phase: %v", g.Phase())
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	g, _, now := newTestGame(t)

	cases := []struct {
		name   string
		amount int64
		auto   int64
	}{
		{"zero amount", 0, 0},
		{"below min", 99, 0},
		{"above max", 100001, 0},
		{"auto at 1.00", 1000, 100},
	}
	for _, tc := range cases {
		_, err := g.PlaceBet("bet_x", 7, tc.amount, tc.auto, now)
		if !IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if round, _ := g.CurrentRound(); round.TotalBets != 0 || round.TotalWagered != 0 {
		t.Fatalf("rejected bets mutated totals: %+v", round)
	}
}

func TestPlaceBet_SingleBetPerUser(t *testing.T) {
	g, _, now := newTestGame(t)

	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); err != nil {
		t.Fatalf("first bet rejected: %v", err)
	}
	if _, err := g.PlaceBet("bet_2", 7, 1000, 0, now); !errors.Is(err, ErrBetExists) {
		t.Fatalf("expected ErrBetExists, got %v", err)
	}

	round, _ := g.CurrentRound()
	if round.TotalBets != 1 || round.TotalWagered != 1000 {
		t.Fatalf("totals wrong after duplicate: %+v", round)
	}
}

func TestPlaceBet_RejectedOutsideBettingPhase(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.StartFlight(now.Add(bettingWindow)); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); !errors.Is(err, ErrBettingClosed) {
		t.Fatalf("expected ErrBettingClosed, got %v", err)
	}
}

func TestRevokeBet_RestoresTotals(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1500, 0, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}
	bet, err := g.RevokeBet(7)
	if err != nil {
		t.Fatalf("RevokeBet err: %v", err)
	}
	if bet.Amount != 1500 {
		t.Fatalf("revoked wrong bet: %+v", bet)
	}
	round, _ := g.CurrentRound()
	if round.TotalBets != 0 || round.TotalWagered != 0 {
		t.Fatalf("totals not restored: %+v", round)
	}
	if _, err := g.PlaceBet("bet_2", 7, 1500, 0, now); err != nil {
		t.Fatalf("re-bet after revoke rejected: %v", err)
	}
}

func TestStartFlight_FixesCrashPointFromCommittedSeed(t *testing.T) {
	g, round, now := newTestGame(t)

	flight, err := g.StartFlight(now.Add(bettingWindow))
	if err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	if flight.Phase != PhaseFlying {
		t.Fatalf("expected flying phase, got %v", flight.Phase)
	}
	want := DeriveCrashPoint(round.ServerSeed, round.ClientSeed, round.Nonce,
		g.Config().HouseEdge, g.Config().MinMultiplier, g.Config().MaxMultiplier)
	if flight.CrashPoint != want {
		t.Fatalf("crash point %d not derived from committed seed (want %d)", flight.CrashPoint, want)
	}
}

func TestCashOut_PayoutAndProfit(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}
	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	pinCrashPoint(g, 500)

	bet, err := g.CashOut(7, 150, flightStart.Add(2*time.Second))
	if err != nil {
		t.Fatalf("CashOut err: %v", err)
	}
	if !bet.CashedOut || bet.CashoutMultiplier != 150 {
		t.Fatalf("unexpected settle: %+v", bet)
	}
	if bet.Payout != 1500 || bet.Profit != 500 {
		t.Fatalf("payout math wrong: payout=%d profit=%d", bet.Payout, bet.Profit)
	}
	if bet.CashoutTimeMs != 2000 {
		t.Fatalf("unexpected cashout time: %d", bet.CashoutTimeMs)
	}

	if _, err := g.CashOut(7, 200, flightStart.Add(3*time.Second)); !errors.Is(err, ErrAlreadyCashedOut) {
		t.Fatalf("expected ErrAlreadyCashedOut, got %v", err)
	}
}

func TestCashOut_RejectedOutsideFlight(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}
	if _, err := g.CashOut(7, 150, now); !errors.Is(err, ErrNotFlying) {
		t.Fatalf("expected ErrNotFlying during betting, got %v", err)
	}
	if _, err := g.CashOut(99, 150, now); !errors.Is(err, ErrNotFlying) {
		t.Fatalf("expected phase check before bet lookup, got %v", err)
	}
}

// The example scenario: A bets 10.00 with auto-cashout 2.00, flight passes
// 1.00 -> 1.50 -> 2.00 -> crash; A is swept at 2.00 for payout 20.00,
// profit 10.00; B never cashes out and loses their stake.
func TestFlightScenario_AutoCashoutAndLosses(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_a", 1, 1000, 200, now); err != nil {
		t.Fatalf("bet A err: %v", err)
	}
	if _, err := g.PlaceBet("bet_b", 2, 500, 0, now); err != nil {
		t.Fatalf("bet B err: %v", err)
	}

	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	pinCrashPoint(g, 230)

	// Tick below the threshold: nothing settles.
	swept, err := g.SweepAutoCashouts(150, flightStart.Add(time.Duration(FlightDuration(150))*time.Millisecond))
	if err != nil {
		t.Fatalf("sweep err: %v", err)
	}
	if len(swept) != 0 {
		t.Fatalf("premature sweep: %+v", swept)
	}

	// Tick at the threshold: A settles at the tick multiplier.
	at200 := flightStart.Add(time.Duration(FlightDuration(200)) * time.Millisecond)
	swept, err = g.SweepAutoCashouts(200, at200)
	if err != nil {
		t.Fatalf("sweep err: %v", err)
	}
	if len(swept) != 1 || swept[0].UserID != 1 {
		t.Fatalf("expected only A swept, got %+v", swept)
	}
	if swept[0].Payout != 2000 || swept[0].Profit != 1000 {
		t.Fatalf("A settle wrong: %+v", swept[0])
	}

	if _, err := g.Crash(at200.Add(time.Second)); err != nil {
		t.Fatalf("Crash err: %v", err)
	}
	losers, err := g.ResolveLosses()
	if err != nil {
		t.Fatalf("ResolveLosses err: %v", err)
	}
	if len(losers) != 1 || losers[0].UserID != 2 {
		t.Fatalf("expected only B lost, got %+v", losers)
	}
	if losers[0].Payout != 0 || losers[0].Profit != -500 {
		t.Fatalf("loss settle wrong: %+v", losers[0])
	}
}

// Auto-cashout wins exact ties against the crash: the terminal tick is
// capped at the crash point and the sweep runs before the transition.
func TestTick_TerminalTiePaysAutoCashout(t *testing.T) {
	g, _, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}
	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}

	// White-box: pin the threshold to the derived crash point.
	g.mu.Lock()
	crashPoint := g.round.CrashPoint
	g.bets[7].AutoCashout = crashPoint
	g.mu.Unlock()

	terminal := flightStart.Add(time.Duration(FlightDuration(crashPoint)) * time.Millisecond)
	mult, reached, err := g.Tick(terminal)
	if err != nil {
		t.Fatalf("Tick err: %v", err)
	}
	if !reached {
		t.Fatalf("expected terminal tick at crash point %d", crashPoint)
	}
	if mult != crashPoint {
		t.Fatalf("terminal tick not capped: %d vs crash %d", mult, crashPoint)
	}

	swept, err := g.SweepAutoCashouts(mult, terminal)
	if err != nil {
		t.Fatalf("sweep err: %v", err)
	}
	if len(swept) != 1 || !swept[0].CashedOut || swept[0].CashoutMultiplier != crashPoint {
		t.Fatalf("tie not cashed out: %+v", swept)
	}

	if _, err := g.Crash(terminal); err != nil {
		t.Fatalf("Crash err: %v", err)
	}
	losers, err := g.ResolveLosses()
	if err != nil {
		t.Fatalf("ResolveLosses err: %v", err)
	}
	if len(losers) != 0 {
		t.Fatalf("tie bet resolved as loss: %+v", losers)
	}
}

func TestConservation_TotalsMatchBets(t *testing.T) {
	g, _, now := newTestGame(t)

	amounts := []int64{1000, 2500, 700, 100}
	for i, amount := range amounts {
		userID := uint64(i + 1)
		auto := int64(0)
		if i%2 == 0 {
			auto = 150
		}
		if _, err := g.PlaceBet("bet", userID, amount, auto, now); err != nil {
			t.Fatalf("bet %d err: %v", userID, err)
		}
	}

	round, _ := g.CurrentRound()
	var wagered int64
	for _, a := range amounts {
		wagered += a
	}
	if round.TotalWagered != wagered || round.TotalBets != len(amounts) {
		t.Fatalf("totals drifted: %+v", round)
	}

	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	pinCrashPoint(g, 400)
	swept, err := g.SweepAutoCashouts(150, flightStart.Add(time.Second))
	if err != nil {
		t.Fatalf("sweep err: %v", err)
	}
	for _, bet := range swept {
		if bet.Payout != bet.Amount*bet.CashoutMultiplier/100 {
			t.Fatalf("payout not amount*multiplier: %+v", bet)
		}
		if bet.Profit != bet.Payout-bet.Amount {
			t.Fatalf("profit not payout-amount: %+v", bet)
		}
	}
}

func TestSnapshot_HidesSecretsUntilCrash(t *testing.T) {
	g, round, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1000, 250, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}

	snap := g.SnapshotFor(7, now.Add(time.Second))
	if snap.ServerSeed != "" || snap.CrashPoint != 0 {
		t.Fatalf("secrets leaked pre-crash: %+v", snap)
	}
	if snap.ServerSeedHash != round.ServerSeedHash {
		t.Fatalf("commitment missing from snapshot")
	}
	if snap.BettingTimeLeftMs <= 0 || snap.BettingTimeLeftMs > bettingWindow.Milliseconds() {
		t.Fatalf("unexpected betting countdown: %d", snap.BettingTimeLeftMs)
	}
	if snap.YourBet == nil || snap.YourBet.AutoCashout != 250 {
		t.Fatalf("owner bet missing threshold: %+v", snap.YourBet)
	}

	// Another viewer gets no bet view at all.
	other := g.SnapshotFor(8, now.Add(time.Second))
	if other.YourBet != nil {
		t.Fatalf("foreign bet leaked: %+v", other.YourBet)
	}

	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	mid := g.Snapshot(flightStart.Add(time.Second))
	if mid.ServerSeed != "" || mid.CrashPoint != 0 {
		t.Fatalf("secrets leaked in flight: %+v", mid)
	}

	g.mu.Lock()
	crashPoint := g.round.CrashPoint
	g.mu.Unlock()
	terminal := flightStart.Add(time.Duration(FlightDuration(crashPoint)) * time.Millisecond)
	if _, _, err := g.Tick(terminal); err != nil {
		t.Fatalf("Tick err: %v", err)
	}
	if _, err := g.Crash(terminal); err != nil {
		t.Fatalf("Crash err: %v", err)
	}

	final := g.Snapshot(terminal)
	if final.ServerSeed != round.ServerSeed || final.CrashPoint != crashPoint {
		t.Fatalf("seed not revealed after crash: %+v", final)
	}
	if HashServerSeed(final.ServerSeed) != final.ServerSeedHash {
		t.Fatalf("revealed seed does not match commitment")
	}
}

func TestOpenBetting_NextRoundResetsState(t *testing.T) {
	g, first, now := newTestGame(t)
	if _, err := g.PlaceBet("bet_1", 7, 1000, 0, now); err != nil {
		t.Fatalf("PlaceBet err: %v", err)
	}
	flightStart := now.Add(bettingWindow)
	if _, err := g.StartFlight(flightStart); err != nil {
		t.Fatalf("StartFlight err: %v", err)
	}
	if _, err := g.Crash(flightStart.Add(time.Second)); err != nil {
		t.Fatalf("Crash err: %v", err)
	}
	if _, err := g.ResolveLosses(); err != nil {
		t.Fatalf("ResolveLosses err: %v", err)
	}

	next, err := g.OpenBetting("round_2", flightStart.Add(5*time.Second), bettingWindow)
	if err != nil {
		t.Fatalf("OpenBetting err: %v", err)
	}
	if next.Sequence != first.Sequence+1 {
		t.Fatalf("sequence not monotonic: %d then %d", first.Sequence, next.Sequence)
	}
	if next.TotalBets != 0 || next.TotalWagered != 0 {
		t.Fatalf("totals carried over: %+v", next)
	}
	if _, exists := g.BetOf(7); exists {
		t.Fatalf("stale bet survived into next round")
	}
	if next.ServerSeedHash == first.ServerSeedHash {
		t.Fatalf("seed material reused")
	}
}
