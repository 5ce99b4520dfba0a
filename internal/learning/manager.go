// Package learning turns raw input, feedback and crawled web content
// into knowledge rows, tracked through the learning task ledger.
package learning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/DmitriStark/MyAI/internal/store"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "myai_learning_tasks_processed_total",
		Help: "Learning tasks finished, by type and outcome.",
	}, []string{"type", "outcome"})
	tasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "myai_learning_tasks_retried_total",
		Help: "Failed learning tasks reset and replayed by the retry sweep.",
	})
)

type Manager struct {
	Store  *store.Store
	Rdb    *redis.Client
	Logger *log.Logger

	RetryInterval time.Duration
	RetryWindow   time.Duration
	RetryBatch    int

	stop chan struct{}
}

func NewManager(st *store.Store, rdb *redis.Client) *Manager {
	return &Manager{
		Store:         st,
		Rdb:           rdb,
		Logger:        log.New(log.Writer(), "[LEARNING] ", log.LstdFlags),
		RetryInterval: time.Minute,
		RetryWindow:   time.Hour,
		RetryBatch:    5,
		stop:          make(chan struct{}),
	}
}

// Enqueue records a learning task and processes it in the background.
func (m *Manager) Enqueue(ctx context.Context, taskType, sourceID, sourceType string) (store.LearningTaskRecord, error) {
	task, err := m.Store.CreateLearningTask(ctx, taskType, sourceID, sourceType)
	if err != nil {
		return store.LearningTaskRecord{}, err
	}
	go m.run(task)
	return task, nil
}

// run executes one task end to end, recording outcome on the ledger.
func (m *Manager) run(task store.LearningTaskRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := m.Store.SetLearningTaskStatus(ctx, task.ID, store.TaskStatusProcessing, ""); err != nil {
		m.Logger.Printf("task %s: mark processing: %v", task.ID, err)
		return
	}

	var err error
	switch task.Type {
	case store.LearningTaskUserInput:
		err = m.ProcessUserInput(ctx, task)
	case store.LearningTaskFeedback, store.LearningTaskFeedbackUpdate:
		err = m.ProcessFeedback(ctx, task)
	case store.LearningTaskWebContent:
		err = m.ProcessWebContent(ctx, task)
	default:
		err = fmt.Errorf("unknown task type %q", task.Type)
	}

	if err != nil {
		m.Logger.Printf("task %s (%s): %v", task.ID, task.Type, err)
		if serr := m.Store.SetLearningTaskStatus(ctx, task.ID, store.TaskStatusFailed, err.Error()); serr != nil {
			m.Logger.Printf("task %s: mark failed: %v", task.ID, serr)
		}
		tasksProcessed.WithLabelValues(task.Type, "failed").Inc()
		return
	}
	if err := m.Store.SetLearningTaskProgress(ctx, task.ID, 1.0); err != nil {
		m.Logger.Printf("task %s: final progress: %v", task.ID, err)
	}
	if err := m.Store.SetLearningTaskStatus(ctx, task.ID, store.TaskStatusCompleted, ""); err != nil {
		m.Logger.Printf("task %s: mark completed: %v", task.ID, err)
	}
	tasksProcessed.WithLabelValues(task.Type, "completed").Inc()
}

// Start launches the retry sweep and the queued web source sweep.
func (m *Manager) Start() {
	go m.loop(m.RetryInterval, m.retryTick)
	go m.loop(5*time.Minute, m.webSourceTick)
}

func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) loop(interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	for {
		select {
		case <-m.stop:
			ticker.Stop()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tick(ctx)
			cancel()
		}
	}
}

// retryTick resets recently failed tasks to pending and replays their
// operation from the persisted source reference. Batch size bounds the
// load per tick; tasks that keep failing drop out once the window
// passes. Tasks that failed on permanently bad input are retried the
// same way until then.
func (m *Manager) retryTick(ctx context.Context) {
	if !m.acquireLock(ctx, "learning:retry:lock") {
		return
	}
	tasks, err := m.Store.RecentFailedLearningTasks(ctx, m.RetryWindow, m.RetryBatch)
	if err != nil {
		m.Logger.Printf("retry sweep: %v", err)
		return
	}
	for _, task := range tasks {
		if err := m.Store.ResetLearningTask(ctx, task.ID); err != nil {
			m.Logger.Printf("retry sweep: reset %s: %v", task.ID, err)
			continue
		}
		tasksRetried.Inc()
		task.Status = store.TaskStatusPending
		task.Progress = 0
		go m.run(task)
	}
}

// webSourceTick picks up queued learning sources and turns each into a
// web content task.
func (m *Manager) webSourceTick(ctx context.Context) {
	if !m.acquireLock(ctx, "learning:web:lock") {
		return
	}
	sources, err := m.Store.QueuedLearningSources(ctx, 5)
	if err != nil {
		m.Logger.Printf("web sweep: %v", err)
		return
	}
	for _, src := range sources {
		if _, err := m.Enqueue(ctx, store.LearningTaskWebContent, src.ID, "learning_source"); err != nil {
			m.Logger.Printf("web sweep: enqueue %s: %v", src.ID, err)
		}
	}
}

// acquireLock takes a short-lived advisory lock so only one replica
// runs a sweep tick. Without redis the sweep always runs.
func (m *Manager) acquireLock(ctx context.Context, key string) bool {
	if m.Rdb == nil {
		return true
	}
	ok, err := m.Rdb.SetNX(ctx, key, "1", 2*time.Minute).Result()
	if err != nil {
		m.Logger.Printf("lock %s: %v", key, err)
		return false
	}
	return ok
}
