// Package retry decides whether a transiently failed execution runs again
// and after how long.
package retry

import (
	"math"
	"time"
)

const (
	DefaultBaseDelay   = time.Minute
	DefaultMaxAttempts = 5
)

// Decision is the outcome of Policy.Decide. A zero Decision means give up.
type Decision struct {
	Retry bool
	Delay time.Duration
}

func GiveUp() Decision { return Decision{} }

func RetryAfter(d time.Duration) Decision { return Decision{Retry: true, Delay: d} }

// Policy is exponential backoff without jitter: attempt a waits
// BaseDelay * 2^a, and any attempt >= MaxAttempts gives up. It holds no
// state, so the same attempt always yields the same decision.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
	// MaxDelay caps a single delay. Zero caps only at maxBackoff.
	MaxDelay time.Duration
}

// maxBackoff bounds doubling so large attempt counts never overflow.
const maxBackoff = time.Duration(math.MaxInt64 / 2)

func Default() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) Decide(attempt int) Decision {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= p.MaxAttempts {
		return GiveUp()
	}
	limit := maxBackoff
	if p.MaxDelay > 0 && p.MaxDelay < limit {
		limit = p.MaxDelay
	}
	d := min(p.BaseDelay, limit)
	for i := 0; i < attempt && d < limit; i++ {
		if d > limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	return RetryAfter(d)
}

// After decides what follows the n-th failed execution, counting from 1.
// Execution n is retry index n-1, so the first retry waits BaseDelay and
// the job gives up once n executions reach MaxAttempts.
func (p Policy) After(n int) Decision {
	if n >= p.MaxAttempts {
		return GiveUp()
	}
	return p.Decide(n - 1)
}
