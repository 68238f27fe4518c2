package esclient

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultRetryBase = 250 * time.Millisecond

// retrySchedule doubles the wait after every attempt up to ceiling. A Retry-After
// hint from the store replaces the scheduled wait for that attempt only.
type retrySchedule struct {
	next    time.Duration
	ceiling time.Duration
}

func newRetrySchedule(base, ceiling time.Duration) *retrySchedule {
	if base <= 0 {
		base = defaultRetryBase
	}
	return &retrySchedule{next: base, ceiling: max(ceiling, base)}
}

func (s *retrySchedule) delay(hint time.Duration) time.Duration {
	wait := s.next
	if hint > 0 {
		wait = min(hint, s.ceiling)
	}
	s.next = min(s.next*2, s.ceiling)
	return wait
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// It returns 0 when the header is absent, malformed or already in the past.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil || !at.After(now) {
		return 0
	}
	return at.Sub(now)
}
