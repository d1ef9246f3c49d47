package alert

import (
	"strconv"
	"strings"
	"time"

	"github.com/flapguard/flapguard/internal/storage"
)

const rateLimitPrefix = ".rate_limit_"

// RateLimiter is a per-alert-type cooldown gate backed by one persisted
// unix timestamp per type. Two identifiers sending under the same alert
// type share a cooldown bucket; callers that want per-instance cooldowns
// compose the identifier into the type key.
type RateLimiter struct {
	dir      *storage.Dir
	cooldown time.Duration
	now      func() time.Time // injectable for deterministic tests
}

// NewRateLimiter creates a RateLimiter with the given cooldown window.
func NewRateLimiter(dir *storage.Dir, cooldown time.Duration) *RateLimiter {
	return &RateLimiter{dir: dir, cooldown: cooldown, now: time.Now}
}

// WithNow overrides the limiter's clock. Tests use it to pin timestamps.
func (l *RateLimiter) WithNow(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Allow reports whether a send under alertType is currently permitted:
// true when no prior send is recorded or the cooldown has elapsed. A
// corrupt timestamp file counts as no prior send.
func (l *RateLimiter) Allow(alertType string) (bool, error) {
	data, ok, err := l.dir.Read(rateLimitPrefix + alertType)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	last, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true, nil
	}
	return l.now().Unix()-last >= int64(l.cooldown/time.Second), nil
}

// Record persists now as the last send time for alertType.
func (l *RateLimiter) Record(alertType string) error {
	ts := strconv.FormatInt(l.now().Unix(), 10)
	return l.dir.Write(rateLimitPrefix+alertType, []byte(ts))
}

// Lock takes the per-type advisory lock so an allow-deliver-record
// sequence cannot interleave with another process sending under the same
// alert type.
func (l *RateLimiter) Lock(alertType string) (func(), error) {
	return l.dir.Lock(rateLimitPrefix + alertType)
}
