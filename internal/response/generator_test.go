package response

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/DmitriStark/MyAI/internal/store"
)

func newTestGenerator(t *testing.T) (*Generator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	st := &store.Store{DB: db}
	return NewGenerator(st), mock, func() { db.Close() }
}

func expectMessageLookup(mock sqlmock.Sqlmock, id, conversationID, content string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, conversation_id, sender, content, processed, created_at FROM messages WHERE id=$1
`)).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}).
			AddRow(id, conversationID, "user", content, false, now))
}

func expectRecentMessages(mock sqlmock.Sqlmock, conversationID string) {
	mock.ExpectQuery(`SELECT (.+) FROM \(`).
		WithArgs(conversationID, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}))
}

func expectEmptyKnowledgeSearch(mock sqlmock.Sqlmock) {
	knowledgeCols := []string{"id", "content", "source", "type", "confidence", "tags", "last_accessed", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE ANY`).
		WillReturnRows(sqlmock.NewRows(knowledgeCols))
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE \$1`).
		WillReturnRows(sqlmock.NewRows(knowledgeCols))
}

func expectReplyPersistence(mock sqlmock.Sqlmock, conversationID string) {
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}).
			AddRow("reply-1", conversationID, "assistant", "reply", false, now))
	mock.ExpectExec(`UPDATE conversations SET last_message_at`).
		WithArgs(conversationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestGenerateFallsBackToDefault(t *testing.T) {
	gen, mock, done := newTestGenerator(t)
	defer done()

	expectMessageLookup(mock, "msg-1", "conv-1", "What is photosynthesis?")
	expectRecentMessages(mock, "conv-1")
	expectEmptyKnowledgeSearch(mock)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM default_responses`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_text", "context", "priority", "created_at"}).
			AddRow("def-1", "I don't know this yet. Could you explain more?", nil, 5, now))

	expectReplyPersistence(mock, "conv-1")
	mock.ExpectQuery(`INSERT INTO response_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "conversation_id", "used_knowledge_ids", "used_default_response", "used_template", "template_id", "confidence", "created_at"}).
			AddRow("log-1", "msg-1", "conv-1", "{}", true, false, nil, 0.1, now))

	res, err := gen.Generate(context.Background(), "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.UsedDefaultResponse {
		t.Fatalf("expected default response, got %+v", res)
	}
	if res.Confidence != 0.1 {
		t.Fatalf("expected confidence 0.1, got %v", res.Confidence)
	}
	if res.Response != "I don't know this yet. Could you explain more?" {
		t.Fatalf("unexpected response %q", res.Response)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGenerateFailsLoudlyWithoutDefaults(t *testing.T) {
	gen, mock, done := newTestGenerator(t)
	defer done()

	expectMessageLookup(mock, "msg-1", "conv-1", "What is photosynthesis?")
	expectRecentMessages(mock, "conv-1")
	expectEmptyKnowledgeSearch(mock)

	mock.ExpectQuery(`SELECT (.+) FROM default_responses`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_text", "context", "priority", "created_at"}))

	_, err := gen.Generate(context.Background(), "msg-1", "conv-1")
	if !errors.Is(err, ErrNoDefaultResponse) {
		t.Fatalf("expected ErrNoDefaultResponse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGeneratePrefersFeedbackKnowledge(t *testing.T) {
	gen, mock, done := newTestGenerator(t)
	defer done()

	expectMessageLookup(mock, "msg-1", "conv-1", "Tell me about the water cycle process please")
	expectRecentMessages(mock, "conv-1")

	now := time.Now()
	knowledgeCols := []string{"id", "content", "source", "type", "confidence", "tags", "last_accessed", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE ANY`).
		WillReturnRows(sqlmock.NewRows(knowledgeCols).
			AddRow("k-1", "The water cycle moves water between surface and sky.", "feedback:fb-1", "feedback", 0.85, "{}", now, now, now).
			AddRow("k-2", "Water evaporates.", "user:u1", "user_input", 0.6, "{}", now, now, now).
			AddRow("k-3", "Clouds form from vapor.", "user:u1", "fact", 0.55, "{}", now, now, now))

	mock.ExpectExec(`UPDATE knowledge SET last_accessed`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectReplyPersistence(mock, "conv-1")
	mock.ExpectQuery(`INSERT INTO response_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "conversation_id", "used_knowledge_ids", "used_default_response", "used_template", "template_id", "confidence", "created_at"}).
			AddRow("log-1", "msg-1", "conv-1", "{k-1}", false, false, nil, 0.85, now))

	res, err := gen.Generate(context.Background(), "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Confidence != 0.85 {
		t.Fatalf("expected feedback-priority confidence 0.85, got %v", res.Confidence)
	}
	if res.Response != "The water cycle moves water between surface and sky." {
		t.Fatalf("unexpected response %q", res.Response)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDefaultCacheInvalidate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &store.Store{DB: db}
	cache := NewDefaultCache(st)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM default_responses`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_text", "context", "priority", "created_at"}).
			AddRow("def-1", "hello", nil, 1, now))

	rows, err := cache.Get(context.Background())
	if err != nil || len(rows) != 1 {
		t.Fatalf("first get: %v %v", rows, err)
	}
	// served from cache, no second query expected
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("cached get: %v", err)
	}

	cache.Invalidate()
	mock.ExpectQuery(`SELECT (.+) FROM default_responses`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_text", "context", "priority", "created_at"}))
	rows, err = cache.Get(context.Background())
	if err != nil || len(rows) != 0 {
		t.Fatalf("reload after invalidate: %v %v", rows, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
