package broker

import (
	"math/rand/v2"
	"sync"
	"time"
)

// totalWeight is the sum of all tier weights (1+2+3+4+5).
const totalWeight = 15

// Sampler draws tiers by weighted lottery. Draws are independent and every
// tier has a non-zero chance on each call.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler builds a Sampler over src. A nil src seeds from the clock.
func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &Sampler{rng: rand.New(src)}
}

// Pick draws one tier.
func (s *Sampler) Pick() Priority {
	s.mu.Lock()
	roll := s.rng.IntN(totalWeight) + 1
	s.mu.Unlock()
	return tierForRoll(roll)
}

// tierForRoll maps a roll in [1,15] onto cumulative weight buckets.
func tierForRoll(roll int) Priority {
	switch {
	case roll <= 1:
		return OnlyWhenIdle
	case roll <= 3:
		return Low
	case roll <= 6:
		return Normal
	case roll <= 10:
		return High
	default:
		return RealTime
	}
}
