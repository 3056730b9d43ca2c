package ratelimit

import (
	"database/sql"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerGroup is an in-process admission control: one rate.Limiter per rate
// group, all sharing the same limit and burst. Unlike Buckets it keeps no
// durable state, so it only smooths the acquisition rate of a single
// process.
type PerGroup struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPerGroup creates per-group admission allowing limit events per second
// with the given burst.
func NewPerGroup(limit rate.Limit, burst int) *PerGroup {
	return &PerGroup{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Admit implements queue.Admission. The transaction is unused; this
// implementation is purely in-memory.
func (p *PerGroup) Admit(_ *sql.Tx, rateGroup string, now time.Time) (bool, error) {
	p.mu.Lock()
	limiter, ok := p.limiters[rateGroup]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[rateGroup] = limiter
	}
	p.mu.Unlock()

	return limiter.AllowN(now, 1), nil
}
