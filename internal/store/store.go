package store

import (
	"context"
	"database/sql"
	"errors"
	"math"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned by lookups that target a specific row.
var ErrNotFound = errors.New("not found")

// ErrTaskTerminal is returned when a transition is requested on a task
// already in a terminal state.
var ErrTaskTerminal = errors.New("task already in terminal state")

// ErrProgressDecrease is returned when a progress update would move an
// active task's progress backwards.
var ErrProgressDecrease = errors.New("progress must not decrease")

// Task statuses shared by processing and learning tasks.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCanceled   = "canceled"
)

// Learning task types.
const (
	LearningTaskUserInput      = "user_input"
	LearningTaskFeedback       = "feedback"
	LearningTaskFeedbackUpdate = "feedback_update"
	LearningTaskWebContent     = "web_content"
)

// Knowledge types.
const (
	KnowledgeTypeUserInput   = "user_input"
	KnowledgeTypeEntity      = "entity"
	KnowledgeTypeConcept     = "concept"
	KnowledgeTypeFact        = "fact"
	KnowledgeTypeFeedback    = "feedback"
	KnowledgeTypeOverride    = "override"
	KnowledgeTypeWebContent  = "web_content"
	KnowledgeTypeSynthesized = "synthesized"
	KnowledgeTypeGap         = "knowledge_gap"
)

// Learning source statuses.
const (
	SourceStatusQueued     = "queued"
	SourceStatusProcessing = "processing"
	SourceStatusProcessed  = "processed"
	SourceStatusFailed     = "failed"
)

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func taskStatusTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// ClampConfidence bounds a confidence value to [0,1]. Every confidence
// write in the store goes through this.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
