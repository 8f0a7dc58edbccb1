package crash

import "errors"

var (
	ErrNoRound          = errors.New("no active round")
	ErrBettingClosed    = errors.New("betting window closed")
	ErrBetExists        = errors.New("bet already placed this round")
	ErrNoActiveBet      = errors.New("no active bet")
	ErrAlreadyCashedOut = errors.New("bet already cashed out")
	ErrNotFlying        = errors.New("round is not in flight")
	ErrRoundEnded       = errors.New("round already ended")
)

// ValidationError reports a rejected request that caused no state change.
type ValidationError string

func (e ValidationError) Error() string { return "validation: " + string(e) }

func ErrInvalid(msg string) error { return ValidationError(msg) }

// IsValidation reports whether err is a request-validation rejection.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// FairnessError wraps a seed/derivation failure. A round must never open
// betting without a valid commitment, so the scheduler treats this as fatal
// to the round and retries from PREPARING.
type FairnessError struct {
	Err error
}

func (e *FairnessError) Error() string { return "fairness: " + e.Err.Error() }
func (e *FairnessError) Unwrap() error { return e.Err }
