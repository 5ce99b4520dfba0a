package ego

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/DmitriStark/MyAI/internal/store"
)

// A question with no related knowledge must raise a full-confidence
// gap insight, and 0.8 puts it under the immediate-apply bar.
func TestAnalyzeMessageRaisesKnowledgeGap(t *testing.T) {
	e, mock, done := newTestEngine(t)
	defer done()

	now := time.Now()
	messageCols := []string{"id", "conversation_id", "sender", "content", "processed", "created_at"}
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE id=\$1`).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("msg-1", "conv-1", "user", "What causes tides?", true, now))
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE ANY`).
		WillReturnRows(sqlmock.NewRows(knowledgeCols))

	// gap de-dup miss then insert
	mock.ExpectQuery(`SELECT (.+) FROM insights WHERE type=\$1 AND content=\$2::jsonb`).
		WillReturnRows(sqlmock.NewRows(insightCols))
	mock.ExpectQuery(`INSERT INTO insights`).
		WithArgs(sqlmock.AnyArg(), store.InsightKnowledgeGap, sqlmock.AnyArg(), "message:msg-1", 0.8).
		WillReturnRows(sqlmock.NewRows(insightCols).
			AddRow("ins-1", store.InsightKnowledgeGap,
				[]byte(`{"topic":"causes","question":"What causes tides?","relatedKnowledgeCount":0}`),
				"message:msg-1", 0.8, false, now, now))

	// repeated-question scan over conversation history
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE conversation_id=\$1`).
		WithArgs("conv-1", 30).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("msg-1", "conv-1", "user", "What causes tides?", true, now))

	if err := e.AnalyzeMessage(context.Background(), "msg-1"); err != nil {
		t.Fatalf("AnalyzeMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// Two solid related rows produce one synthesis proposal joining them.
func TestAnalyzeMessageProposesSynthesis(t *testing.T) {
	e, mock, done := newTestEngine(t)
	defer done()

	now := time.Now()
	messageCols := []string{"id", "conversation_id", "sender", "content", "processed", "created_at"}
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE id=\$1`).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("msg-1", "conv-1", "user", "Plants need sunlight to grow well", true, now))
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE ANY`).
		WillReturnRows(sqlmock.NewRows(knowledgeCols).
			AddRow("k-1", "Plants absorb sunlight through leaves", "user:u1", "fact", 0.8, "{}", now, now, now).
			AddRow("k-2", "Sunlight drives photosynthesis in plants", "user:u1", "fact", 0.7, "{}", now, now, now))

	mock.ExpectQuery(`SELECT (.+) FROM insights WHERE type=\$1 AND content=\$2::jsonb`).
		WillReturnRows(sqlmock.NewRows(insightCols))
	mock.ExpectQuery(`INSERT INTO insights`).
		WithArgs(sqlmock.AnyArg(), store.InsightSynthesizedKnowledge, mustSynthesisJSON(t), "synthesis", 0.75).
		WillReturnRows(sqlmock.NewRows(insightCols).
			AddRow("ins-1", store.InsightSynthesizedKnowledge, mustSynthesisJSON(t),
				"synthesis", 0.75, false, now, now))

	if err := e.AnalyzeMessage(context.Background(), "msg-1"); err != nil {
		t.Fatalf("AnalyzeMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func mustSynthesisJSON(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(store.SynthesisInsight{
		Content:   "Plants absorb sunlight through leaves. Sunlight drives photosynthesis in plants",
		SourceIDs: []string{"k-1", "k-2"},
	})
	if err != nil {
		t.Fatalf("marshal synthesis: %v", err)
	}
	return raw
}
