package llm

import (
	"golang.org/x/time/rate"
)

// newLimiter converts a requests-per-minute budget into a token-bucket
// limiter. Burst capacity is a fifth of the per-minute budget, floored at 5,
// so short phase bursts do not stall behind the steady rate.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 5 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
