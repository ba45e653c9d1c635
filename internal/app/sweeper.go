package app

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires timed-out sessions. Each cycle is best-effort
// and idempotent; cancelling the context stops scheduling further cycles
// while an in-flight cycle finishes its current write.
type Sweeper struct {
	service  *SessionService
	interval time.Duration
	limit    int
}

func NewSweeper(service *SessionService, interval time.Duration, limit int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	return &Sweeper{service: service, interval: interval, limit: limit}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.service.SweepExpired(ctx, s.limit)
			if err != nil {
				log.Printf("expiry sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("expired %d timed-out sessions", swept)
			}
		}
	}
}
