package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"crash-lite/crash"

	"crash-lite/apps/server/internal/store"
	"crash-lite/apps/server/internal/wallet"
)

// Scheduler drives the round state machine with an actor model: one
// goroutine owns the engine clock and every wager mutation, commands arrive
// on the event channel and are answered on per-event reply channels.
type Scheduler struct {
	cfg  Config
	game *crash.Game

	wallet wallet.Service
	store  store.Service

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once

	events chan Event
	done   chan struct{}

	serverSeq atomic.Uint64

	// nextRoundAt schedules the next betting window; also used as the
	// retry deadline when seed commitment fails.
	nextRoundAt time.Time

	// Callbacks to push frames to connected clients.
	broadcast func(data []byte)
	sendTo    func(userID uint64, data []byte)
}

// Config contains scheduler pacing and the engine parameters.
type Config struct {
	BettingWindow time.Duration
	Cooldown      time.Duration
	TickInterval  time.Duration
	OpTimeout     time.Duration
	Engine        crash.Config
}

func DefaultConfig() Config {
	return Config{
		BettingWindow: 10 * time.Second,
		Cooldown:      3 * time.Second,
		TickInterval:  75 * time.Millisecond,
		OpTimeout:     3 * time.Second,
		Engine:        crash.DefaultConfig(),
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BettingWindow = durationFromEnv("BETTING_WINDOW", cfg.BettingWindow)
	cfg.Cooldown = durationFromEnv("ROUND_COOLDOWN", cfg.Cooldown)
	cfg.TickInterval = durationFromEnv("TICK_INTERVAL", cfg.TickInterval)
	return cfg
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Event types for the actor message queue.
type EventType int

const (
	EventPlaceBet EventType = iota
	EventCashOut
	EventClose
)

// Event is a command to the scheduler actor.
type Event struct {
	Type        EventType
	UserID      uint64
	Amount      int64
	AutoCashout int64
	Timestamp   time.Time
	Response    chan Reply
}

// Reply answers one command.
type Reply struct {
	Bet        crash.Bet
	Multiplier int64
	Balance    int64
	Err        error
}

var ErrSchedulerClosed = errors.New("scheduler closed")

// seedRetryDelay paces OpenBetting retries after a commitment failure.
const seedRetryDelay = 1 * time.Second

func New(cfg Config, walletService wallet.Service, storeService store.Service,
	broadcastFn func(data []byte), sendToFn func(userID uint64, data []byte)) (*Scheduler, error) {

	if cfg.BettingWindow <= 0 || cfg.Cooldown < 0 || cfg.TickInterval <= 0 {
		return nil, errors.New("invalid scheduler timing config")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 3 * time.Second
	}

	game, err := crash.NewGame(cfg.Engine)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:         cfg,
		game:        game,
		wallet:      walletService,
		store:       storeService,
		events:      make(chan Event, 256),
		done:        make(chan struct{}),
		nextRoundAt: time.Now(),
		broadcast:   broadcastFn,
		sendTo:      sendToFn,
	}

	go s.run()

	log.Printf("[Scheduler] Started (betting=%s, cooldown=%s, tick=%s)",
		cfg.BettingWindow, cfg.Cooldown, cfg.TickInterval)
	return s, nil
}

// run is the main actor loop.
func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.events:
			reply := s.handleEvent(event)
			if event.Response != nil {
				event.Response <- reply
			}
		case <-ticker.C:
			s.tick()
		case <-s.done:
			log.Printf("[Scheduler] Actor stopped")
			return
		}
	}
}

func (s *Scheduler) handleEvent(e Event) Reply {
	if s.isClosed() && e.Type != EventClose {
		return Reply{Err: ErrSchedulerClosed}
	}

	switch e.Type {
	case EventPlaceBet:
		return s.handlePlaceBet(e)
	case EventCashOut:
		return s.handleCashOut(e)
	case EventClose:
		s.stop()
		return Reply{}
	default:
		return Reply{Err: crash.ErrInvalid("unknown event type")}
	}
}

// tick advances the round state machine on the actor clock.
func (s *Scheduler) tick() {
	if s.isClosed() {
		return
	}
	now := time.Now()

	switch s.game.Phase() {
	case crash.PhasePreparing, crash.PhaseCrashed:
		if !now.Before(s.nextRoundAt) {
			s.openBetting(now)
		}
	case crash.PhaseBetting:
		round, ok := s.game.CurrentRound()
		if ok && !now.Before(round.BettingClosesAt) {
			s.startFlight(now)
		}
	case crash.PhaseFlying:
		s.flightTick(now)
	}
}

func (s *Scheduler) openBetting(now time.Time) {
	roundID := "round_" + uuid.NewString()
	round, err := s.game.OpenBetting(roundID, now, s.cfg.BettingWindow)
	if err != nil {
		// Seed commitment failed: stay in preparing and retry shortly.
		log.Printf("[Scheduler] open betting failed: %v", err)
		s.nextRoundAt = now.Add(seedRetryDelay)
		return
	}

	s.persistWithRetry("create round", func(ctx context.Context) error {
		return s.store.CreateRound(ctx, roundRecord(round))
	})

	log.Printf("[Scheduler] Round %d open for betting (hash=%s nonce=%d)",
		round.Sequence, round.ServerSeedHash[:12], round.Nonce)
	s.broadcastSnapshot(MsgRoundOpen, now)
}

func (s *Scheduler) startFlight(now time.Time) {
	round, err := s.game.StartFlight(now)
	if err != nil {
		log.Printf("[Scheduler] start flight failed: %v", err)
		return
	}

	s.persistWithRetry("update round", func(ctx context.Context) error {
		return s.store.UpdateRound(ctx, roundRecord(round))
	})

	log.Printf("[Scheduler] Round %d flying (%d bets, %d wagered)",
		round.Sequence, round.TotalBets, round.TotalWagered)
	s.broadcastSnapshot(MsgFlightStart, now)
}

func (s *Scheduler) flightTick(now time.Time) {
	mult, reached, err := s.game.Tick(now)
	if err != nil {
		return
	}
	round, _ := s.game.CurrentRound()

	// Auto-cashouts settle before any crash transition, so a threshold
	// equal to the crash point pays out.
	swept, err := s.game.SweepAutoCashouts(mult, now)
	if err == nil {
		for _, bet := range swept {
			s.settlePayout(bet, true)
		}
	}

	s.push(s.envelope(ServerEnvelope{
		Type: MsgTick,
		Tick: &TickPayload{
			RoundID:    round.ID,
			Multiplier: mult,
			ElapsedMs:  now.Sub(round.FlightStartsAt).Milliseconds(),
		},
	}))

	if reached {
		s.crash(now)
	}
}

func (s *Scheduler) crash(now time.Time) {
	round, err := s.game.Crash(now)
	if err != nil {
		log.Printf("[Scheduler] crash transition failed: %v", err)
		return
	}

	losers, err := s.game.ResolveLosses()
	if err != nil {
		log.Printf("[Scheduler] resolve losses failed: %v", err)
	}
	for _, bet := range losers {
		rec := betRecord(bet)
		s.persistWithRetry("update bet", func(ctx context.Context) error {
			return s.store.UpdateBet(ctx, rec)
		})
	}

	// Final round write reveals the server seed and crash point.
	s.persistWithRetry("update round", func(ctx context.Context) error {
		return s.store.UpdateRound(ctx, roundRecord(round))
	})

	log.Printf("[Scheduler] Round %d crashed at %s (%d losers)",
		round.Sequence, crash.FormatMultiplier(round.CrashPoint), len(losers))
	s.broadcastSnapshot(MsgCrash, now)
	s.nextRoundAt = now.Add(s.cfg.Cooldown)
}

func (s *Scheduler) handlePlaceBet(e Event) Reply {
	now := e.Timestamp

	// Pre-validate so a doomed request never touches the wallet.
	if err := s.game.CanPlaceBet(e.UserID, e.Amount, e.AutoCashout); err != nil {
		return Reply{Err: err}
	}
	round, ok := s.game.CurrentRound()
	if !ok {
		return Reply{Err: crash.ErrNoRound}
	}

	// Wallet entries are keyed by the bet ID, so each placement attempt is
	// its own idempotency unit: a refunded attempt leaves no entry a later
	// attempt could replay against, while retries of this attempt stay safe.
	betID := "bet_" + uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	balance, err := s.wallet.Debit(ctx, e.UserID, e.Amount, crash.ReasonBet, betID)
	cancel()
	if err != nil {
		return Reply{Err: err}
	}

	bet, err := s.game.PlaceBet(betID, e.UserID, e.Amount, e.AutoCashout, now)
	if err != nil {
		// Engine refused after the debit (phase flipped between checks);
		// compensate immediately.
		s.refund(e.UserID, e.Amount, betID)
		return Reply{Err: err}
	}

	rec := betRecord(bet)
	if persistErr := s.persistWithRetry("create bet", func(ctx context.Context) error {
		return s.store.CreateBet(ctx, rec)
	}); persistErr != nil {
		if _, revokeErr := s.game.RevokeBet(e.UserID); revokeErr != nil {
			log.Printf("[Scheduler] revoke after persist failure: %v", revokeErr)
		}
		s.refund(e.UserID, e.Amount, betID)
		return Reply{Err: persistErr}
	}

	log.Printf("[Scheduler] User %d bet %d on round %d (auto=%d)",
		e.UserID, bet.Amount, round.Sequence, bet.AutoCashout)

	// Public frame omits the auto-cashout threshold; the owner's copy
	// carries it plus the new balance.
	s.push(s.envelope(ServerEnvelope{
		Type: MsgBetPlaced,
		Bet:  &BetPayload{View: betView(bet, false), RoundID: round.ID},
	}))
	s.pushTo(e.UserID, s.envelope(ServerEnvelope{
		Type: MsgBetPlaced,
		Bet:  &BetPayload{View: betView(bet, true), RoundID: round.ID, Balance: balance},
	}))

	return Reply{Bet: bet, Balance: balance}
}

func (s *Scheduler) handleCashOut(e Event) Reply {
	// The settlement multiplier is the actor's flight clock; nothing the
	// client sent is consulted.
	mult := s.game.LiveMultiplier()
	bet, err := s.game.CashOut(e.UserID, mult, e.Timestamp)
	if err != nil {
		return Reply{Err: err}
	}

	balance, creditErr := s.settlePayout(bet, false)
	// The bet stays settled either way (cashedOut is monotonic); a failed
	// credit is surfaced so the caller knows the balance is not yet final.
	return Reply{Bet: bet, Multiplier: bet.CashoutMultiplier, Balance: balance, Err: creditErr}
}

// settlePayout credits a cashed-out bet, archives it, and pushes frames.
// The credit is idempotent on (user, bet ID, reason), so retries after a
// timeout cannot double-pay.
func (s *Scheduler) settlePayout(bet crash.Bet, auto bool) (int64, error) {
	var balance int64
	creditErr := s.withRetry(func(ctx context.Context) error {
		var err error
		balance, err = s.wallet.Credit(ctx, bet.UserID, bet.Payout, crash.ReasonCashout, bet.ID)
		return err
	})
	if creditErr != nil {
		// The bet stays settled in the engine and the archive; the entry
		// ledger reconciles the missing credit on the next replay.
		log.Printf("[Scheduler] credit failed for user %d round %s: %v", bet.UserID, bet.RoundID, creditErr)
	}

	rec := betRecord(bet)
	s.persistWithRetry("update bet", func(ctx context.Context) error {
		return s.store.UpdateBet(ctx, rec)
	})

	log.Printf("[Scheduler] User %d cashed out at %s for %d (auto=%v)",
		bet.UserID, crash.FormatMultiplier(bet.CashoutMultiplier), bet.Payout, auto)

	s.push(s.envelope(ServerEnvelope{
		Type:    MsgCashout,
		Cashout: &CashoutPayload{View: betView(bet, false), RoundID: bet.RoundID, Auto: auto},
	}))
	s.pushTo(bet.UserID, s.envelope(ServerEnvelope{
		Type:    MsgCashout,
		Cashout: &CashoutPayload{View: betView(bet, true), RoundID: bet.RoundID, Auto: auto, Balance: balance},
	}))
	return balance, creditErr
}

func (s *Scheduler) refund(userID uint64, amount int64, betID string) {
	err := s.withRetry(func(ctx context.Context) error {
		_, creditErr := s.wallet.Credit(ctx, userID, amount, crash.ReasonRefund, betID)
		return creditErr
	})
	if err != nil {
		log.Printf("[Scheduler] refund failed for user %d bet %s: %v", userID, betID, err)
	}
}

// persistWithRetry runs one archive write with a timeout and a single
// retry. Archive failures never abort round flow (the engine is the source
// of truth mid-round), except for bet creation where the caller compensates.
func (s *Scheduler) persistWithRetry(op string, fn func(ctx context.Context) error) error {
	err := s.withRetry(fn)
	if err != nil {
		log.Printf("[Scheduler] %s failed: %v", op, err)
	}
	return err
}

func (s *Scheduler) withRetry(fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
		err = fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// PlaceBet submits a wager command and waits for settlement of the command.
func (s *Scheduler) PlaceBet(userID uint64, amount, autoCashout int64) Reply {
	return s.SubmitEvent(Event{
		Type:        EventPlaceBet,
		UserID:      userID,
		Amount:      amount,
		AutoCashout: autoCashout,
	})
}

// CashOut submits a manual cashout command.
func (s *Scheduler) CashOut(userID uint64) Reply {
	return s.SubmitEvent(Event{
		Type:   EventCashOut,
		UserID: userID,
	})
}

func (s *Scheduler) SubmitEvent(e Event) Reply {
	e.Timestamp = time.Now()
	if e.Response == nil {
		e.Response = make(chan Reply, 1)
	}

	if s.isClosed() {
		return Reply{Err: ErrSchedulerClosed}
	}

	select {
	case s.events <- e:
	case <-s.done:
		return Reply{Err: ErrSchedulerClosed}
	}

	select {
	case reply := <-e.Response:
		return reply
	case <-s.done:
		return Reply{Err: ErrSchedulerClosed}
	}
}

// SnapshotFor builds the current projection for one viewer. Read-only, so
// it bypasses the actor queue.
func (s *Scheduler) SnapshotFor(userID uint64) ServerEnvelope {
	snap := s.game.SnapshotFor(userID, time.Now())
	return s.envelope(ServerEnvelope{Type: MsgSnapshot, Snapshot: &snap})
}

// SnapshotFrame is SnapshotFor marshalled for the wire.
func (s *Scheduler) SnapshotFrame(userID uint64) []byte {
	return marshal(s.SnapshotFor(userID))
}

func (s *Scheduler) broadcastSnapshot(msgType string, now time.Time) {
	snap := s.game.Snapshot(now)
	s.push(s.envelope(ServerEnvelope{Type: msgType, Snapshot: &snap}))
}

func (s *Scheduler) envelope(e ServerEnvelope) ServerEnvelope {
	e.Seq = s.serverSeq.Add(1)
	e.TsMs = time.Now().UnixMilli()
	return e
}

func (s *Scheduler) push(e ServerEnvelope) {
	if s.broadcast == nil {
		return
	}
	s.broadcast(marshal(e))
}

func (s *Scheduler) pushTo(userID uint64, e ServerEnvelope) {
	if s.sendTo == nil {
		return
	}
	s.sendTo(userID, marshal(e))
}

func marshal(e ServerEnvelope) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Scheduler] marshal failed: %v", err)
		return nil
	}
	return data
}

func (s *Scheduler) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Stop shuts down the scheduler actor.
func (s *Scheduler) Stop() {
	s.stop()
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
