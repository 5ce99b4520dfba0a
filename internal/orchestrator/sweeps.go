package orchestrator

import (
	"context"
	"time"
)

func (o *Orchestrator) Start() {
	go o.loop(o.StallInterval, o.stallTick)
	go o.loop(o.IntrospectionInterval, o.introspectionTick)
}

func (o *Orchestrator) loop(interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	for {
		select {
		case <-o.Stop:
			ticker.Stop()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tick(ctx)
			cancel()
		}
	}
}

// stallTick bounds the lifetime of tasks abandoned by a crashed
// worker. Anything still processing past the age threshold is forced
// to failed.
func (o *Orchestrator) stallTick(ctx context.Context) {
	if !o.acquireLock(ctx, "orch:stall:lock") {
		return
	}
	ids, err := o.Store.FailStalledProcessingTasks(ctx, o.StallThreshold)
	if err != nil {
		o.Logger.Printf("stall sweep: %v", err)
		return
	}
	if len(ids) > 0 {
		stalledTasks.Add(float64(len(ids)))
		o.Logger.Printf("stall sweep failed %d tasks", len(ids))
	}
}

// introspectionTick hands the most recently active conversations to
// the ego service for quality analysis.
func (o *Orchestrator) introspectionTick(ctx context.Context) {
	if !o.acquireLock(ctx, "orch:introspect:lock") {
		return
	}
	convs, err := o.Store.RecentConversations(ctx, o.IntrospectionWindow, recentConvLimit)
	if err != nil {
		o.Logger.Printf("introspection sweep: %v", err)
		return
	}
	for _, conv := range convs {
		if err := o.Ego.Introspect(ctx, conv.ID); err != nil {
			o.Logger.Printf("introspect conversation %s: %v", conv.ID, err)
		}
	}
}

func (o *Orchestrator) acquireLock(ctx context.Context, key string) bool {
	if o.Rdb == nil {
		return true
	}
	ok, err := o.Rdb.SetNX(ctx, key, "1", 2*time.Minute).Result()
	if err != nil {
		o.Logger.Printf("lock %s: %v", key, err)
		return false
	}
	return ok
}
