package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crash-lite/crash"

	"crash-lite/apps/server/internal/store"
	"crash-lite/apps/server/internal/wallet"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BettingWindow = 60 * time.Millisecond
	cfg.Cooldown = 20 * time.Millisecond
	cfg.TickInterval = 5 * time.Millisecond
	cfg.OpTimeout = time.Second
	// Cap flights at 3.00x so no test waits on a long tail.
	cfg.Engine.MaxMultiplier = 300
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *wallet.Manager) {
	t.Helper()
	w := wallet.NewManager(10000)
	s, err := New(cfg, w, store.NewNoopService(), nil, nil)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, w
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func (s *Scheduler) phase() string {
	env := s.SnapshotFor(0)
	return env.Snapshot.Phase
}

func TestScheduler_RoundLifecycle(t *testing.T) {
	cfg := testConfig()
	// Leave the crashed snapshot observable before the next round opens.
	cfg.Cooldown = 300 * time.Millisecond
	s, _ := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	env := s.SnapshotFor(0)
	if env.Snapshot.ServerSeedHash == "" || env.Snapshot.ClientSeed == "" {
		t.Fatalf("betting snapshot missing commitment: %+v", env.Snapshot)
	}
	if env.Snapshot.ServerSeed != "" || env.Snapshot.CrashPoint != 0 {
		t.Fatalf("commitment leaked seed material: %+v", env.Snapshot)
	}
	firstRound := env.Snapshot.RoundID

	// A 1.00x crash ends the flight within one tick, so wait on the
	// terminal phase rather than on observing "flying".
	waitFor(t, 10*time.Second, func() bool { return s.phase() == "crashed" }, "crashed phase")

	env = s.SnapshotFor(0)
	if env.Snapshot.ServerSeed == "" || env.Snapshot.CrashPoint == 0 {
		t.Fatalf("crashed snapshot did not reveal seed: %+v", env.Snapshot)
	}
	derived := crash.DeriveCrashPoint(env.Snapshot.ServerSeed, env.Snapshot.ClientSeed,
		env.Snapshot.Nonce, s.cfg.Engine.HouseEdge, s.cfg.Engine.MinMultiplier, s.cfg.Engine.MaxMultiplier)
	if derived != env.Snapshot.CrashPoint {
		t.Fatalf("revealed crash point %d does not verify (derived %d)", env.Snapshot.CrashPoint, derived)
	}

	// Cooldown elapses and a fresh round opens with a new commitment.
	waitFor(t, 2*time.Second, func() bool {
		e := s.SnapshotFor(0)
		return e.Snapshot.Phase == "betting" && e.Snapshot.RoundID != firstRound
	}, "next round")
}

func TestScheduler_BetRejectedOutsideBetting(t *testing.T) {
	cfg := testConfig()
	cfg.BettingWindow = 40 * time.Millisecond
	// Floor the crash point so the flight lasts long enough to observe.
	cfg.Engine.MinMultiplier = 150
	s, w := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "flying" }, "flying phase")

	reply := s.PlaceBet(7, 1000, 0)
	if !errors.Is(reply.Err, crash.ErrBettingClosed) && !errors.Is(reply.Err, crash.ErrNoRound) {
		t.Fatalf("expected betting-closed rejection, got %v", reply.Err)
	}
	balance, _ := w.Balance(context.Background(), 7)
	if balance != 10000 {
		t.Fatalf("rejected bet touched wallet: %d", balance)
	}
}

func TestScheduler_LossDebitsStake(t *testing.T) {
	cfg := testConfig()
	// Clamp the crash point to 1.00x so every uncashed bet loses on the
	// first flight tick.
	cfg.Engine.MinMultiplier = 100
	cfg.Engine.MaxMultiplier = 100
	s, w := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	reply := s.PlaceBet(7, 1000, 0)
	if reply.Err != nil {
		t.Fatalf("PlaceBet err: %v", reply.Err)
	}
	if reply.Balance != 9000 {
		t.Fatalf("balance after bet %d", reply.Balance)
	}

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "crashed" }, "crashed phase")

	balance, _ := w.Balance(context.Background(), 7)
	if balance != 9000 {
		t.Fatalf("losing bet balance %d, want 9000", balance)
	}
}

func TestScheduler_AutoCashoutCredits(t *testing.T) {
	cfg := testConfig()
	// Crash point at least 1.50x, so an auto-cashout at the 1.01x floor
	// always settles before the crash.
	cfg.Engine.MinMultiplier = 150
	// Keep the settled bet visible; the next round would reset it.
	cfg.Cooldown = 5 * time.Second
	s, w := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	reply := s.PlaceBet(7, 1000, 101)
	if reply.Err != nil {
		t.Fatalf("PlaceBet err: %v", reply.Err)
	}

	waitFor(t, 10*time.Second, func() bool {
		e := s.SnapshotFor(7)
		return e.Snapshot.YourBet != nil && e.Snapshot.YourBet.CashedOut
	}, "auto cashout")

	e := s.SnapshotFor(7)
	bet := e.Snapshot.YourBet
	if bet.CashoutMultiplier < 101 {
		t.Fatalf("auto cashout below threshold: %d", bet.CashoutMultiplier)
	}
	wantPayout := 1000 * bet.CashoutMultiplier / 100
	if bet.Payout != wantPayout {
		t.Fatalf("payout %d, want %d", bet.Payout, wantPayout)
	}

	balance, _ := w.Balance(context.Background(), 7)
	if balance != 10000-1000+bet.Payout {
		t.Fatalf("balance %d after payout %d", balance, bet.Payout)
	}
}

func TestScheduler_ManualCashout(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.MinMultiplier = 150
	s, w := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")
	if reply := s.PlaceBet(7, 1000, 0); reply.Err != nil {
		t.Fatalf("PlaceBet err: %v", reply.Err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "flying" }, "flying phase")

	reply := s.CashOut(7)
	if reply.Err != nil {
		t.Fatalf("CashOut err: %v", reply.Err)
	}
	if reply.Multiplier < 100 || reply.Multiplier > 300 {
		t.Fatalf("cashout multiplier %d outside [100,300]", reply.Multiplier)
	}
	wantPayout := 1000 * reply.Multiplier / 100
	if reply.Bet.Payout != wantPayout {
		t.Fatalf("payout %d, want %d", reply.Bet.Payout, wantPayout)
	}

	// Second cashout for the same bet is rejected.
	again := s.CashOut(7)
	if !errors.Is(again.Err, crash.ErrAlreadyCashedOut) && !errors.Is(again.Err, crash.ErrNotFlying) {
		t.Fatalf("duplicate cashout: %v", again.Err)
	}

	balance, _ := w.Balance(context.Background(), 7)
	if balance != 10000-1000+wantPayout {
		t.Fatalf("balance %d", balance)
	}
}

func TestScheduler_OneBetPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.BettingWindow = 500 * time.Millisecond
	s, _ := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.PlaceBet(7, 1000, 0).Err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, crash.ErrBetExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("expected exactly one accepted bet, got ok=%d dup=%d", ok, dup)
	}
}

func TestScheduler_InsufficientFundsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.BettingWindow = 500 * time.Millisecond
	cfg.Engine.MaxBet = 100000
	s, _ := newTestScheduler(t, cfg)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	reply := s.PlaceBet(7, 50000, 0)
	if !errors.Is(reply.Err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", reply.Err)
	}
}

// flakyStore fails bet archiving while fail is set; everything else passes
// through to the wrapped service.
type flakyStore struct {
	store.Service
	fail atomic.Bool
}

func (f *flakyStore) CreateBet(ctx context.Context, b store.BetRecord) error {
	if f.fail.Load() {
		return errors.New("archive unavailable")
	}
	return f.Service.CreateBet(ctx, b)
}

func TestScheduler_PersistFailureRefundsAndRetryDebits(t *testing.T) {
	cfg := testConfig()
	cfg.BettingWindow = 800 * time.Millisecond
	fs := &flakyStore{Service: store.NewNoopService()}
	fs.fail.Store(true)

	w := wallet.NewManager(10000)
	s, err := New(cfg, w, fs, nil, nil)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	// Archiving is down: the attempt is revoked and the stake refunded.
	reply := s.PlaceBet(7, 1000, 0)
	if reply.Err == nil {
		t.Fatalf("expected persist failure, bet accepted: %+v", reply.Bet)
	}
	env := s.SnapshotFor(7)
	if env.Snapshot.YourBet != nil || env.Snapshot.TotalBets != 0 {
		t.Fatalf("revoked bet still visible: %+v", env.Snapshot)
	}
	balance, _ := w.Balance(context.Background(), 7)
	if balance != 10000 {
		t.Fatalf("refund did not restore stake: %d", balance)
	}

	// Archiving recovers: the retry must place a real bet with a real
	// debit, not replay the refunded attempt's ledger entry.
	fs.fail.Store(false)
	reply = s.PlaceBet(7, 1000, 0)
	if reply.Err != nil {
		t.Fatalf("retry after recovery err: %v", reply.Err)
	}
	if reply.Balance != 9000 {
		t.Fatalf("retry balance %d, want 9000", reply.Balance)
	}
	env = s.SnapshotFor(7)
	if env.Snapshot.YourBet == nil || env.Snapshot.YourBet.Amount != 1000 {
		t.Fatalf("retried bet missing from snapshot: %+v", env.Snapshot)
	}
	balance, _ = w.Balance(context.Background(), 7)
	if balance != 9000 {
		t.Fatalf("retried bet did not debit: %d", balance)
	}
}

type failingSeedSource struct{}

func (failingSeedSource) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestScheduler_SeedFailureKeepsPreparing(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.SeedSource = failingSeedSource{}
	s, _ := newTestScheduler(t, cfg)

	time.Sleep(100 * time.Millisecond)
	if phase := s.phase(); phase != "preparing" {
		t.Fatalf("expected preparing while commitment fails, got %q", phase)
	}
}

func TestScheduler_SnapshotFrameIsValidEnvelope(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	waitFor(t, 2*time.Second, func() bool { return s.phase() == "betting" }, "betting phase")

	frame := s.SnapshotFrame(0)
	var env ServerEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Type != MsgSnapshot || env.Seq == 0 || env.Snapshot == nil {
		t.Fatalf("bad envelope: %+v", env)
	}
}
