// Package orchestrator drives one message through the pipeline and
// runs the sweeps that keep the task ledger honest.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/DmitriStark/MyAI/internal/client"
	"github.com/DmitriStark/MyAI/internal/store"
)

var (
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "myai_pipeline_runs_total",
		Help: "Message pipeline runs, by outcome.",
	}, []string{"outcome"})
	stalledTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "myai_stalled_tasks_total",
		Help: "Processing tasks failed by the stall sweep.",
	})
)

// FallbackReply is persisted when response generation fails, so the
// user always gets an assistant message even on a broken pipeline run.
const FallbackReply = "I'm sorry, I'm having trouble processing your message right now. Please try again later."

const (
	serviceLearning = "learning"
	serviceResponse = "response"

	pipelineTimeout = 5 * time.Minute
	recentConvLimit = 10
)

type Orchestrator struct {
	Store    *store.Store
	Rdb      *redis.Client
	Logger   *log.Logger
	Learning *client.Learning
	Response *client.Response
	Ego      *client.Ego
	Stop     chan struct{}

	StallInterval         time.Duration
	StallThreshold        time.Duration
	IntrospectionInterval time.Duration
	IntrospectionWindow   time.Duration
}

func New(st *store.Store, rdb *redis.Client, learning *client.Learning, response *client.Response, ego *client.Ego) *Orchestrator {
	return &Orchestrator{
		Store:    st,
		Rdb:      rdb,
		Logger:   log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		Learning: learning,
		Response: response,
		Ego:      ego,
		Stop:     make(chan struct{}),

		StallInterval:         5 * time.Minute,
		StallThreshold:        10 * time.Minute,
		IntrospectionInterval: 30 * time.Minute,
		IntrospectionWindow:   24 * time.Hour,
	}
}

// Enqueue registers pipeline work for a message. Enqueueing a message
// that already has an active task returns that task with created
// false; only a freshly created task starts a pipeline run.
func (o *Orchestrator) Enqueue(ctx context.Context, messageID string) (store.ProcessingTaskRecord, bool, error) {
	task, created, err := o.Store.CreateProcessingTask(ctx, messageID, map[string]string{
		serviceLearning: store.TaskStatusPending,
		serviceResponse: store.TaskStatusPending,
	})
	if err != nil {
		return store.ProcessingTaskRecord{}, false, err
	}
	if created {
		go o.run(task)
	}
	return task, created, nil
}

func (o *Orchestrator) run(task store.ProcessingTaskRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()
	if err := o.ProcessMessage(ctx, task); err != nil {
		o.Logger.Printf("task %s (message %s): %v", task.ID, task.MessageID, err)
	}
}

// ProcessMessage runs learning then response generation for one task.
// Learning goes first so freshly learned facts are visible to the
// same-turn reply. Any step failing marks the task failed; a response
// failure additionally persists a fallback assistant message.
func (o *Orchestrator) ProcessMessage(ctx context.Context, task store.ProcessingTaskRecord) error {
	if _, err := o.Store.TransitionProcessingTask(ctx, task.ID, store.TaskStatusProcessing); err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	msg, ok, err := o.Store.GetMessage(ctx, task.MessageID)
	if err != nil {
		o.failTask(ctx, task.ID)
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		o.failTask(ctx, task.ID)
		return fmt.Errorf("message %s: %w", task.MessageID, store.ErrNotFound)
	}

	if err := o.learningStep(ctx, task.ID, msg); err != nil {
		o.failTask(ctx, task.ID)
		return fmt.Errorf("learning step: %w", err)
	}
	if err := o.responseStep(ctx, task.ID, msg); err != nil {
		o.failTask(ctx, task.ID)
		o.persistFallback(ctx, msg)
		return fmt.Errorf("response step: %w", err)
	}

	if err := o.Store.MarkMessageProcessed(ctx, msg.ID); err != nil {
		o.Logger.Printf("mark message %s processed: %v", msg.ID, err)
	}
	if _, err := o.Store.TransitionProcessingTask(ctx, task.ID, store.TaskStatusCompleted); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	pipelineRuns.WithLabelValues(store.TaskStatusCompleted).Inc()

	// non-critical side channel, failure is logged and dropped
	if err := o.Ego.NotifyMessage(ctx, msg.ID); err != nil {
		o.Logger.Printf("notify ego about message %s: %v", msg.ID, err)
	}
	return nil
}

func (o *Orchestrator) learningStep(ctx context.Context, taskID string, msg store.MessageRecord) error {
	o.setServiceStatus(ctx, taskID, serviceLearning, store.TaskStatusProcessing)
	_, err := o.Learning.Learn(ctx, client.LearnRequest{
		Content:        msg.Content,
		Source:         "user",
		Type:           store.LearningTaskUserInput,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	if err != nil {
		o.setServiceStatus(ctx, taskID, serviceLearning, store.TaskStatusFailed)
		return err
	}
	o.setServiceStatus(ctx, taskID, serviceLearning, store.TaskStatusCompleted)
	return nil
}

func (o *Orchestrator) responseStep(ctx context.Context, taskID string, msg store.MessageRecord) error {
	o.setServiceStatus(ctx, taskID, serviceResponse, store.TaskStatusProcessing)
	_, err := o.Response.Generate(ctx, client.GenerateRequest{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		o.setServiceStatus(ctx, taskID, serviceResponse, store.TaskStatusFailed)
		return err
	}
	o.setServiceStatus(ctx, taskID, serviceResponse, store.TaskStatusCompleted)
	return nil
}

func (o *Orchestrator) failTask(ctx context.Context, taskID string) {
	if _, err := o.Store.TransitionProcessingTask(ctx, taskID, store.TaskStatusFailed); err != nil {
		o.Logger.Printf("fail task %s: %v", taskID, err)
	}
	pipelineRuns.WithLabelValues(store.TaskStatusFailed).Inc()
}

func (o *Orchestrator) persistFallback(ctx context.Context, msg store.MessageRecord) {
	_, err := o.Store.CreateMessage(ctx, store.MessageRecord{
		ConversationID: msg.ConversationID,
		Sender:         store.SenderAssistant,
		Content:        FallbackReply,
	})
	if err != nil {
		o.Logger.Printf("persist fallback for message %s: %v", msg.ID, err)
	}
}

func (o *Orchestrator) setServiceStatus(ctx context.Context, taskID, service, status string) {
	if err := o.Store.SetProcessingServiceStatus(ctx, taskID, service, status); err != nil {
		o.Logger.Printf("task %s: set %s=%s: %v", taskID, service, status, err)
	}
}
