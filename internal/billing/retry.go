package billing

import "time"

// RetryDecision is the outcome of a failed attempt: either the invoice stays
// pending with a scheduled next retry, or automatic collection is exhausted.
type RetryDecision struct {
	RetryCount  int
	Terminal    bool
	NextRetryAt *time.Time
}

// decideRetry increments the retry counter and decides between scheduling the
// next attempt and exhausting automatic collection. retryCount is the count
// before this failure.
func decideRetry(retryCount, maxAttempts int, now time.Time, interval time.Duration) RetryDecision {
	next := retryCount + 1
	if next >= maxAttempts {
		return RetryDecision{RetryCount: next, Terminal: true}
	}
	at := now.Add(interval)
	return RetryDecision{RetryCount: next, NextRetryAt: &at}
}
