package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	core "github.com/mohammad-safakhou/coach/internal/agent/core"
	"github.com/mohammad-safakhou/coach/internal/store"
)

const scheduledGoal = "Generate my daily learning digest"

// Scheduler fires scheduled digest runs. A redis lock per user keeps
// multiple replicas from running the same digest.
type Scheduler struct {
	Store      *store.Store
	Rdb        *redis.Client
	Controller *core.AgentController
	Stop       chan struct{}
	Logger     *log.Logger
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	schedules, err := s.Store.ListSchedules(ctx)
	if err != nil {
		s.Logger.Printf("list schedules: %v", err)
		return
	}
	for _, schedule := range schedules {
		last, _ := s.Store.LatestDigestTime(ctx, schedule.UserID)
		if !isDue(schedule.ScheduleCron, last) {
			continue
		}

		// distributed lock to avoid duplicate runs
		if s.Rdb != nil {
			lockKey := "sched:lock:" + schedule.UserID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		go func(userID string) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			runCtx, cancel := context.WithTimeout(context.Background(), sessionRunTimeout)
			defer cancel()
			session := s.Controller.Run(runCtx, scheduledGoal, userID, false)
			s.Logger.Printf("scheduled digest for user %s finished: %s", userID, session.Status)
		}(schedule.UserID)
	}
}

// isDue determines whether a schedule should fire now given its last
// digest time. Supports "@daily", "@hourly" and standard 5-field cron
// expressions.
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
			// Invalid expressions degrade to @daily.
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
