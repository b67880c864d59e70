package jobqueue

import "time"

// MaxBackoff caps every retry delay.
const MaxBackoff = time.Hour

// Backoff grows linearly with attempts, min(step*attempts, max).
// attempts below 1 count as 1.
func Backoff(step time.Duration, attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if step <= 0 {
		return 0
	}
	if step > max/time.Duration(attempts) {
		return max
	}
	return step * time.Duration(attempts)
}
