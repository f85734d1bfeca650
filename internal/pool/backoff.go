package pool

import (
	"math/rand"
	"time"
)

// Backoff computes restart delays: exponential doubling from Base up to Cap,
// with ±20% jitter so a herd of tenants never restarts in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the jittered delay for the given consecutive failure count
// (1-based). failures <= 1 yields roughly Base.
func (b Backoff) Delay(failures int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 5 * time.Minute
	}

	d := base
	for i := 1; i < failures && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}

	// ±20%
	span := int64(d) * 2 / 5
	jitter := time.Duration(rand.Int63n(span+1) - span/2)
	return d + jitter
}
