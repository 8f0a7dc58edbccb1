package crash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sync"
)

const serverSeedBytes = 32

// Commitment is the seed material for one round. The public triple
// (ServerSeedHash, ClientSeed, Nonce) is published before any wager is
// accepted; ServerSeed stays secret until the round crashes.
type Commitment struct {
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	Nonce          uint64
}

// Fairness generates commit-reveal seed material and derives crash points.
// Client seeds form a chain: each round's client seed is the SHA-256 of the
// previous round's server-seed hash, so a round's public material is pinned
// by the round before it.
type Fairness struct {
	mu sync.Mutex

	houseEdge float64
	minMult   int64
	maxMult   int64
	entropy   io.Reader

	nonce    uint64
	prevHash string
}

func NewFairness(cfg Config) *Fairness {
	entropy := cfg.SeedSource
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Fairness{
		houseEdge: cfg.HouseEdge,
		minMult:   cfg.MinMultiplier,
		maxMult:   cfg.MaxMultiplier,
		entropy:   entropy,
	}
}

// Commit produces the seed material for the next round.
func (f *Fairness) Commit() (Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seed := make([]byte, serverSeedBytes)
	if _, err := io.ReadFull(f.entropy, seed); err != nil {
		return Commitment{}, &FairnessError{Err: fmt.Errorf("generate server seed: %w", err)}
	}
	serverSeed := hex.EncodeToString(seed)
	serverSeedHash := HashServerSeed(serverSeed)

	var clientSeed string
	if f.prevHash == "" {
		genesis := make([]byte, 16)
		if _, err := io.ReadFull(f.entropy, genesis); err != nil {
			return Commitment{}, &FairnessError{Err: fmt.Errorf("generate genesis client seed: %w", err)}
		}
		clientSeed = hex.EncodeToString(genesis)
	} else {
		chained := sha256.Sum256([]byte(f.prevHash))
		clientSeed = hex.EncodeToString(chained[:])
	}

	f.nonce++
	f.prevHash = serverSeedHash

	return Commitment{
		ServerSeed:     serverSeed,
		ServerSeedHash: serverSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          f.nonce,
	}, nil
}

// DeriveCrashPoint derives the round's crash multiplier from committed seed
// material, applying this engine's house edge and clamp.
func (f *Fairness) DeriveCrashPoint(serverSeed, clientSeed string, nonce uint64) int64 {
	return DeriveCrashPoint(serverSeed, clientSeed, nonce, f.houseEdge, f.minMult, f.maxMult)
}

// HashServerSeed returns the published commitment for a server seed.
func HashServerSeed(serverSeed string) string {
	h := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(h[:])
}

// DeriveCrashPoint maps (serverSeed, clientSeed, nonce) to a crash
// multiplier in hundredths. Pure: identical inputs always yield the
// identical multiplier, which is what makes post-hoc verification possible
// once the server seed is revealed.
//
// The first 8 digest bytes are normalized to r in [0,1) and mapped through
// the house-edge-adjusted inverse CDF (1-edge)/(1-r), then clamped and
// floored to hundredths.
func DeriveCrashPoint(serverSeed, clientSeed string, nonce uint64, houseEdge float64, minMult, maxMult int64) int64 {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", serverSeed, clientSeed, nonce)))
	u := binary.BigEndian.Uint64(digest[:8])

	// Top 53 bits => exactly representable in a float64, r < 1 strictly.
	r := float64(u>>11) / float64(uint64(1)<<53)
	m := (1 - houseEdge) / (1 - r)

	mult := int64(math.Floor(m * 100))
	if mult < minMult {
		mult = minMult
	}
	if mult > maxMult {
		mult = maxMult
	}
	return mult
}
