package pipeline

import (
	"math/rand"
	"time"

	"mediaforge/internal/models"
)

// KindPolicy bounds one asset kind's processing attempts. The soft deadline
// cancels the pipeline context so the job fails cleanly; the hard deadline is
// enforced a layer up and kills the worker slot outright.
type KindPolicy struct {
	SoftDeadline time.Duration
	HardDeadline time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// RetryPolicy maps asset kinds to their attempt budgets.
type RetryPolicy map[models.AssetKind]KindPolicy

// DefaultRetryPolicy gives video the longest leash; images and documents are
// expected to finish in minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		models.KindImage: {
			SoftDeadline: 2 * time.Minute,
			HardDeadline: 4 * time.Minute,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffCap:   2 * time.Minute,
		},
		models.KindAudio: {
			SoftDeadline: 5 * time.Minute,
			HardDeadline: 7 * time.Minute,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffCap:   2 * time.Minute,
		},
		models.KindFile: {
			SoftDeadline: 5 * time.Minute,
			HardDeadline: 7 * time.Minute,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffCap:   2 * time.Minute,
		},
		models.KindVideo: {
			SoftDeadline: 45 * time.Minute,
			HardDeadline: 47 * time.Minute,
			MaxAttempts:  4,
			BackoffBase:  2 * time.Second,
			BackoffCap:   2 * time.Minute,
		},
	}
}

// For returns the policy for kind, falling back to the file policy for
// anything unrecognised.
func (p RetryPolicy) For(kind models.AssetKind) KindPolicy {
	if policy, ok := p[kind]; ok {
		return policy
	}
	return p[models.KindFile]
}

// Backoff returns the delay before the given attempt (1-based) is retried:
// exponential doubling from the base, capped, with 10% jitter so a burst of
// failures does not retry in lockstep.
func (p KindPolicy) Backoff(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	cap := p.BackoffCap
	if cap <= 0 {
		cap = 2 * time.Minute
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}
