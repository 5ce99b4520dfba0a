package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{3.7, 1},
	}
	for _, c := range cases {
		if got := ClampConfidence(c.in); got != c.want {
			t.Fatalf("ClampConfidence(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCreateProcessingTaskReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	mock.ExpectBegin()
	selectQuery := regexp.QuoteMeta(`
SELECT id, message_id, status, services, created_at, updated_at, completed_at FROM processing_tasks
WHERE message_id=$1 AND status IN ('pending','processing')
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`)
	mock.ExpectQuery(selectQuery).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "status", "services", "created_at", "updated_at", "completed_at"}).
			AddRow("task-1", "msg-1", "processing", []byte(`{"learning":"processing"}`), now, now, nil))
	mock.ExpectCommit()

	rec, created, err := st.CreateProcessingTask(context.Background(), "msg-1", nil)
	if err != nil {
		t.Fatalf("CreateProcessingTask: %v", err)
	}
	if created {
		t.Fatalf("expected existing task, got created=true")
	}
	if rec.ID != "task-1" {
		t.Fatalf("expected task-1, got %s", rec.ID)
	}
	if rec.Services["learning"] != "processing" {
		t.Fatalf("services not decoded: %v", rec.Services)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionProcessingTaskRejectsTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM processing_tasks WHERE id=$1 FOR UPDATE`)).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err = st.TransitionProcessingTask(context.Background(), "task-1", "canceled")
	if !errors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected ErrTaskTerminal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetLearningTaskProgressRejectsDecrease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT progress, status FROM learning_tasks WHERE id=$1 FOR UPDATE`)).
		WithArgs("lt-1").
		WillReturnRows(sqlmock.NewRows([]string{"progress", "status"}).AddRow(0.5, "processing"))
	mock.ExpectRollback()

	err = st.SetLearningTaskProgress(context.Background(), "lt-1", 0.3)
	if !errors.Is(err, ErrProgressDecrease) {
		t.Fatalf("expected ErrProgressDecrease, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdjustKnowledgeConfidenceClamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
UPDATE knowledge
SET confidence = GREATEST(0, LEAST(1, confidence + $2)), updated_at = now()
WHERE id=$1
RETURNING confidence
`)
	mock.ExpectQuery(query).
		WithArgs("k-1", -0.25).
		WillReturnRows(sqlmock.NewRows([]string{"confidence"}).AddRow(0.0))

	conf, err := st.AdjustKnowledgeConfidence(context.Background(), "k-1", -0.25)
	if err != nil {
		t.Fatalf("AdjustKnowledgeConfidence: %v", err)
	}
	if conf != 0 {
		t.Fatalf("expected clamped 0, got %v", conf)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateInsightDeduplicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	payload := InsightPayload{Similarity: &SimilarityInsight{
		Knowledge1ID:      "k-1",
		Knowledge2ID:      "k-2",
		Similarity:        0.95,
		RecommendedAction: SimilarityActionMerge,
	}}
	content, err := EncodeInsightPayload(payload)
	if err != nil {
		t.Fatalf("EncodeInsightPayload: %v", err)
	}

	selectQuery := regexp.QuoteMeta(`
SELECT id, type, content, source, confidence, applied, created_at, updated_at FROM insights
WHERE type=$1 AND content=$2::jsonb
LIMIT 1
`)
	mock.ExpectQuery(selectQuery).
		WithArgs(InsightKnowledgeSimilarity, content).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "content", "source", "confidence", "applied", "created_at", "updated_at"}).
			AddRow("ins-1", InsightKnowledgeSimilarity, content, "consolidation", 0.95, false, now, now))

	rec, created, err := st.CreateInsight(context.Background(), InsightKnowledgeSimilarity, payload, "consolidation", 0.95)
	if err != nil {
		t.Fatalf("CreateInsight: %v", err)
	}
	if created {
		t.Fatalf("expected de-dup to return existing row")
	}
	if rec.ID != "ins-1" {
		t.Fatalf("expected ins-1, got %s", rec.ID)
	}
	if rec.Payload.Similarity == nil || rec.Payload.Similarity.RecommendedAction != SimilarityActionMerge {
		t.Fatalf("payload not decoded: %+v", rec.Payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchKnowledgeByKeywords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	query := regexp.QuoteMeta(`
SELECT id, content, source, type, confidence, tags, last_accessed, created_at, updated_at FROM knowledge
WHERE content ILIKE ANY($1)
ORDER BY confidence DESC, last_accessed DESC
LIMIT $2
`)
	mock.ExpectQuery(query).
		WithArgs(sqlmock.AnyArg(), 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "source", "type", "confidence", "tags", "last_accessed", "created_at", "updated_at"}).
			AddRow("k-1", "photosynthesis converts light", "user:u1", "fact", 0.7, "{biology}", now, now, now))

	recs, err := st.SearchKnowledgeByKeywords(context.Background(), []string{"photosynthesis"}, 20)
	if err != nil {
		t.Fatalf("SearchKnowledgeByKeywords: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "k-1" {
		t.Fatalf("unexpected results: %+v", recs)
	}
	if len(recs[0].Tags) != 1 || recs[0].Tags[0] != "biology" {
		t.Fatalf("tags not decoded: %v", recs[0].Tags)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
