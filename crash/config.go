package crash

import (
	"fmt"
	"io"
)

type Config struct {
	// Wager bounds, in cents.
	MinBet int64
	MaxBet int64

	// Smallest accepted auto-cashout threshold, in hundredths.
	// Must be strictly above 1.00x.
	MinAutoCashout int64

	// House edge applied to crash-point derivation, e.g. 0.01 for 1%.
	HouseEdge float64

	// Crash-point clamp, in hundredths.
	MinMultiplier int64
	MaxMultiplier int64

	// Optional entropy source for server seeds (nil => crypto/rand).
	SeedSource io.Reader
}

func DefaultConfig() Config {
	return Config{
		MinBet:         100,
		MaxBet:         100000,
		MinAutoCashout: 101,
		HouseEdge:      0.01,
		MinMultiplier:  100,
		MaxMultiplier:  100000,
	}
}

func (c Config) validate() error {
	if c.MinBet <= 0 {
		return fmt.Errorf("MinBet must be > 0")
	}
	if c.MaxBet < c.MinBet {
		return fmt.Errorf("invalid bet bounds: min=%d max=%d", c.MinBet, c.MaxBet)
	}
	if c.MinAutoCashout <= BaseMultiplier {
		return fmt.Errorf("MinAutoCashout must be > %d", BaseMultiplier)
	}
	if c.HouseEdge < 0 || c.HouseEdge >= 1 {
		return fmt.Errorf("HouseEdge must be in [0,1): %v", c.HouseEdge)
	}
	if c.MinMultiplier < BaseMultiplier {
		return fmt.Errorf("MinMultiplier must be >= %d", BaseMultiplier)
	}
	if c.MaxMultiplier < c.MinMultiplier {
		return fmt.Errorf("invalid multiplier clamp: min=%d max=%d", c.MinMultiplier, c.MaxMultiplier)
	}
	return nil
}
