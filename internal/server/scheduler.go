package server

import (
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/ebcs/coach/internal/session"
)

// Sweeper drops expired sessions from the in-memory store on a cron
// schedule. Redis handles expiry natively, so the sweeper only runs for
// the in-memory flavor.
type Sweeper struct {
	Store    *session.InMemoryStore
	CronSpec string
	Stop     chan struct{}
	Logger   *log.Logger

	lastRun *time.Time
}

func (s *Sweeper) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if isDue(s.CronSpec, s.lastRun) {
					now := time.Now()
					s.lastRun = &now
					if dropped := s.Store.Sweep(); dropped > 0 {
						s.Logger.Printf("swept %d expired sessions", dropped)
					}
				}
			}
		}
	}()
}

// isDue determines if a cron spec is due given the last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
