package common

import (
	"math/rand"
	"sync"
)

// Rand abstracts jitter generation so backoff scheduling (§4.5) can be
// driven deterministically in tests instead of calling math/rand directly.
type Rand interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64
}

// LockedRand is the production Rand implementation. It guards a
// *rand.Rand with a mutex because the worker pool's concurrent slots all
// draw jitter from the same source.
type LockedRand struct {
	mu  sync.Mutex
	src *rand.Rand
}

// NewLockedRand returns a LockedRand seeded from seed.
func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{src: rand.New(rand.NewSource(seed))}
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}
