package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/DmitriStark/MyAI/internal/store"
)

// TestStoreAgainstPostgres runs the happy paths of the store layer
// against a real database. The sqlmock tests cover error paths and
// exact SQL; this covers the schema actually accepting that SQL.
func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("myai"),
		tcPostgres.WithUsername("myai"),
		tcPostgres.WithPassword("myai"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://myai:myai@%s:%s/myai?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("migrate up: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	conv, err := st.CreateConversation(ctx, "user-1", "tides")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msg, err := st.CreateMessage(ctx, store.MessageRecord{
		ConversationID: conv.ID,
		Sender:         store.SenderUser,
		Content:        "What causes tides?",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	services := map[string]string{"learning": store.TaskStatusPending, "response": store.TaskStatusPending}
	task, created, err := st.CreateProcessingTask(ctx, msg.ID, services)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if !created {
		t.Fatalf("expected new task")
	}
	dup, created, err := st.CreateProcessingTask(ctx, msg.ID, services)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created || dup.ID != task.ID {
		t.Fatalf("expected the existing task back, got %s created=%v", dup.ID, created)
	}

	if _, err := st.TransitionProcessingTask(ctx, task.ID, store.TaskStatusProcessing); err != nil {
		t.Fatalf("transition to processing: %v", err)
	}
	if _, err := st.TransitionProcessingTask(ctx, task.ID, store.TaskStatusCompleted); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}
	if _, err := st.TransitionProcessingTask(ctx, task.ID, store.TaskStatusProcessing); err == nil {
		t.Fatalf("expected terminal task to reject transitions")
	}

	k, err := st.CreateKnowledge(ctx, store.KnowledgeRecord{
		Content:    "Tides are caused by the gravitational pull of the moon.",
		Source:     "user:user-1",
		Type:       "fact",
		Confidence: 0.7,
		Tags:       []string{"astronomy", "tides"},
	})
	if err != nil {
		t.Fatalf("create knowledge: %v", err)
	}
	found, err := st.SearchKnowledgeByKeywords(ctx, []string{"tides"}, 10)
	if err != nil {
		t.Fatalf("search knowledge: %v", err)
	}
	if len(found) != 1 || found[0].ID != k.ID {
		t.Fatalf("search returned %d rows", len(found))
	}
	conf, err := st.AdjustKnowledgeConfidence(ctx, k.ID, 0.15)
	if err != nil {
		t.Fatalf("adjust confidence: %v", err)
	}
	if conf < 0.84 || conf > 0.86 {
		t.Fatalf("confidence = %v, want 0.85", conf)
	}

	payload := store.InsightPayload{Gap: &store.GapInsight{Topic: "tides", Question: "What causes tides?"}}
	ins, insCreated, err := st.CreateInsight(ctx, store.InsightKnowledgeGap, payload, "message:"+msg.ID, 0.8)
	if err != nil {
		t.Fatalf("create insight: %v", err)
	}
	if !insCreated {
		t.Fatalf("expected new insight")
	}
	_, insCreated, err = st.CreateInsight(ctx, store.InsightKnowledgeGap, payload, "message:"+msg.ID, 0.8)
	if err != nil {
		t.Fatalf("duplicate insight: %v", err)
	}
	if insCreated {
		t.Fatalf("expected duplicate insight to be dropped")
	}
	if err := st.MarkInsightApplied(ctx, ins.ID); err != nil {
		t.Fatalf("mark applied: %v", err)
	}

	stalled, err := st.FailStalledProcessingTasks(ctx, time.Minute)
	if err != nil {
		t.Fatalf("stall sweep: %v", err)
	}
	if len(stalled) != 0 {
		t.Fatalf("expected no stalled tasks, got %v", stalled)
	}
}
