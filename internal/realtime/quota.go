package realtime

import (
	"sync"
	"time"
)

// eventQuota meters one connection's inbound events: up to burst at once,
// then one per interval/burst. It tracks the theoretical arrival time of
// the next event rather than a token count.
type eventQuota struct {
	mu        sync.Mutex
	spacing   time.Duration
	tolerance time.Duration
	next      time.Time
	now       func() time.Time
}

func newEventQuota(burst int, interval time.Duration) *eventQuota {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	spacing := interval / time.Duration(burst)
	return &eventQuota{
		spacing:   spacing,
		tolerance: spacing * time.Duration(burst-1),
		now:       time.Now,
	}
}

// take spends one event, reporting false when the connection is over quota.
func (q *eventQuota) take() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	next := q.next
	if next.Before(now) {
		next = now
	}
	if next.Sub(now) > q.tolerance {
		return false
	}
	q.next = next.Add(q.spacing)
	return true
}
