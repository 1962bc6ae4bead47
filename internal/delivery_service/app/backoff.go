package app

import (
	"math/rand"
	"time"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// ExponentialBackoff returns a full-jitter backoff: a uniform delay in [0, min(maxDelay, base*2^(attempt-1))].
func ExponentialBackoff(base, maxDelay time.Duration) domain.BackoffFunc {
	return exponentialBackoff(base, maxDelay, rand.Int63n)
}

func exponentialBackoff(base, maxDelay time.Duration, jitter func(n int64) int64) domain.BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		ceiling := maxDelay
		// base << 20 already exceeds any sane cap.
		if shift := attempt - 1; shift < 20 {
			if d := base << shift; d > 0 && d < maxDelay {
				ceiling = d
			}
		}
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(jitter(int64(ceiling) + 1))
	}
}
