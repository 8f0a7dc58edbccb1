package crash

import "strconv"

// Phase 回合阶段
type Phase byte

const (
	PhasePreparing Phase = 0
	PhaseBetting   Phase = 1
	PhaseFlying    Phase = 2
	PhaseCrashed   Phase = 3
)

var PhaseDictionary = map[Phase]string{
	PhasePreparing: "preparing",
	PhaseBetting:   "betting",
	PhaseFlying:    "flying",
	PhaseCrashed:   "crashed",
}

func (p Phase) String() string {
	if s, ok := PhaseDictionary[p]; ok {
		return s
	}
	return "unknown"
}

// PhaseFromString maps a persisted phase name back to its enum value.
func PhaseFromString(s string) Phase {
	for p, name := range PhaseDictionary {
		if name == s {
			return p
		}
	}
	return PhasePreparing
}

// Wallet entry reasons. Debits/credits are idempotent per
// (userID, roundID, reason), so each reason may be applied at most once
// per user per round.
const (
	ReasonBet     = "bet"
	ReasonCashout = "cashout"
	ReasonRefund  = "refund"
)

// BaseMultiplier is 1.00x in hundredths. All multipliers in the engine are
// int64 hundredths: 230 means 2.30x.
const BaseMultiplier int64 = 100

// FormatMultiplier renders a multiplier in hundredths as "2.30".
func FormatMultiplier(m int64) string {
	whole := m / 100
	frac := m % 100
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + pad2(frac)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
