package ego

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"
)

// Sweep policy.
const (
	autoApplyInterval   = time.Hour
	autoApplyFloor      = 0.8
	autoApplyBatch      = 10
	cleanupInterval     = 24 * time.Hour
	cleanupCeiling      = 0.3
	cleanupAge          = 30 * 24 * time.Hour
	scheduleCheckEvery  = time.Hour
)

// Scheduler drives the engine's periodic work: hourly auto-apply of
// high-confidence insights, daily cleanup of stale ones, and the
// cron-gated consolidation run.
type Scheduler struct {
	Engine *Engine
	Stop   chan struct{}

	ConsolidationCron string
}

func NewScheduler(engine *Engine, consolidationCron string) *Scheduler {
	if consolidationCron == "" {
		consolidationCron = "@daily"
	}
	return &Scheduler{Engine: engine, Stop: make(chan struct{}), ConsolidationCron: consolidationCron}
}

func (s *Scheduler) Start() {
	go s.loop(autoApplyInterval, s.autoApplyTick)
	go s.loop(cleanupInterval, s.cleanupTick)
	go s.loop(scheduleCheckEvery, s.consolidationTick)
}

func (s *Scheduler) loop(interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	for {
		select {
		case <-s.Stop:
			ticker.Stop()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tick(ctx)
			cancel()
		}
	}
}

func (s *Scheduler) autoApplyTick(ctx context.Context) {
	if !s.acquireLock(ctx, "ego:autoapply:lock") {
		return
	}
	insights, err := s.Engine.Store.UnappliedInsights(ctx, autoApplyFloor, autoApplyBatch)
	if err != nil {
		s.Engine.Logger.Printf("auto-apply sweep: %v", err)
		return
	}
	for _, ins := range insights {
		if err := s.Engine.ApplyInsight(ctx, ins.ID); err != nil {
			s.Engine.Logger.Printf("auto-apply %s: %v", ins.ID, err)
		}
	}
}

func (s *Scheduler) cleanupTick(ctx context.Context) {
	if !s.acquireLock(ctx, "ego:cleanup:lock") {
		return
	}
	n, err := s.Engine.Store.DeleteStaleInsights(ctx, cleanupCeiling, cleanupAge)
	if err != nil {
		s.Engine.Logger.Printf("cleanup sweep: %v", err)
		return
	}
	if n > 0 {
		s.Engine.Logger.Printf("cleanup sweep removed %d stale insights", n)
	}
}

// consolidationTick fires a consolidation run when the configured
// schedule is due relative to the last completed run.
func (s *Scheduler) consolidationTick(ctx context.Context) {
	last, err := s.Engine.Store.LatestConsolidationTime(ctx)
	if err != nil {
		s.Engine.Logger.Printf("consolidation schedule: %v", err)
		return
	}
	if !isDue(s.ConsolidationCron, last) {
		return
	}
	if !s.acquireLock(ctx, "ego:consolidate:lock") {
		return
	}
	rec, err := s.Engine.Store.CreateConsolidation(ctx)
	if err != nil {
		s.Engine.Logger.Printf("create consolidation: %v", err)
		return
	}
	if err := s.Engine.RunConsolidation(ctx, rec.ID); err != nil {
		s.Engine.Logger.Printf("consolidation %s: %v", rec.ID, err)
	}
}

func (s *Scheduler) acquireLock(ctx context.Context, key string) bool {
	if s.Engine.Rdb == nil {
		return true
	}
	ok, err := s.Engine.Rdb.SetNX(ctx, key, "1", 2*time.Minute).Result()
	if err != nil {
		s.Engine.Logger.Printf("lock %s: %v", key, err)
		return false
	}
	return ok
}

// isDue determines whether the schedule should fire now given the last
// run time. Supports "@daily", "@hourly" and 5-field cron expressions.
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
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
