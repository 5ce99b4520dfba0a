package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/DmitriStark/MyAI/internal/client"
	"github.com/DmitriStark/MyAI/internal/store"
)

func newTestOrchestrator(t *testing.T, learningURL, responseURL, egoURL string) (*Orchestrator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	o := New(&store.Store{DB: db}, nil,
		client.NewLearning(learningURL), client.NewResponse(responseURL), client.NewEgo(egoURL))
	return o, mock, func() { db.Close() }
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

var taskCols = []string{"id", "message_id", "status", "services", "created_at", "updated_at", "completed_at"}

func expectTransition(mock sqlmock.Sqlmock, taskID, current, next string) {
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM processing_tasks WHERE id=\$1 FOR UPDATE`).
		WithArgs(taskID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(current))
	mock.ExpectQuery(`UPDATE processing_tasks`).
		WithArgs(taskID, next).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(taskID, "msg-1", next, []byte(`{}`), now, now, nil))
	mock.ExpectCommit()
}

func expectServiceStatus(mock sqlmock.Sqlmock, taskID, service, status string) {
	mock.ExpectExec(`UPDATE processing_tasks`).
		WithArgs(taskID, service, status).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestProcessMessageHappyPath(t *testing.T) {
	learning := httptest.NewServer(okJSON(`{"taskId":"lt-1"}`))
	defer learning.Close()
	response := httptest.NewServer(okJSON(`{"messageId":"msg-1","response":"ok","meta":{"confidence":0.8}}`))
	defer response.Close()
	ego := httptest.NewServer(okJSON(`{}`))
	defer ego.Close()

	o, mock, done := newTestOrchestrator(t, learning.URL, response.URL, ego.URL)
	defer done()

	now := time.Now()
	expectTransition(mock, "task-1", store.TaskStatusPending, store.TaskStatusProcessing)
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE id=\$1`).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}).
			AddRow("msg-1", "conv-1", "user", "What is photosynthesis?", false, now))

	expectServiceStatus(mock, "task-1", serviceLearning, store.TaskStatusProcessing)
	expectServiceStatus(mock, "task-1", serviceLearning, store.TaskStatusCompleted)
	expectServiceStatus(mock, "task-1", serviceResponse, store.TaskStatusProcessing)
	expectServiceStatus(mock, "task-1", serviceResponse, store.TaskStatusCompleted)

	mock.ExpectExec(`UPDATE messages SET processed=true`).
		WithArgs("msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTransition(mock, "task-1", store.TaskStatusProcessing, store.TaskStatusCompleted)

	task := store.ProcessingTaskRecord{ID: "task-1", MessageID: "msg-1", Status: store.TaskStatusPending}
	if err := o.ProcessMessage(context.Background(), task); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// A response-step failure must fail the task and persist the fallback
// assistant reply.
func TestProcessMessageResponseFailureFallsBack(t *testing.T) {
	learning := httptest.NewServer(okJSON(`{"taskId":"lt-1"}`))
	defer learning.Close()
	response := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no default response configured"}`, http.StatusInternalServerError)
	}))
	defer response.Close()
	ego := httptest.NewServer(okJSON(`{}`))
	defer ego.Close()

	o, mock, done := newTestOrchestrator(t, learning.URL, response.URL, ego.URL)
	defer done()

	now := time.Now()
	expectTransition(mock, "task-1", store.TaskStatusPending, store.TaskStatusProcessing)
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE id=\$1`).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}).
			AddRow("msg-1", "conv-1", "user", "hello", false, now))

	expectServiceStatus(mock, "task-1", serviceLearning, store.TaskStatusProcessing)
	expectServiceStatus(mock, "task-1", serviceLearning, store.TaskStatusCompleted)
	expectServiceStatus(mock, "task-1", serviceResponse, store.TaskStatusProcessing)
	expectServiceStatus(mock, "task-1", serviceResponse, store.TaskStatusFailed)

	expectTransition(mock, "task-1", store.TaskStatusProcessing, store.TaskStatusFailed)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), "conv-1", store.SenderAssistant, FallbackReply).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender", "content", "processed", "created_at"}).
			AddRow("msg-2", "conv-1", "assistant", FallbackReply, false, now))
	mock.ExpectExec(`UPDATE conversations SET last_message_at=now\(\)`).
		WithArgs("conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task := store.ProcessingTaskRecord{ID: "task-1", MessageID: "msg-1", Status: store.TaskStatusPending}
	err := o.ProcessMessage(context.Background(), task)
	var upstream *client.UpstreamError
	if !errors.As(err, &upstream) || upstream.Service != "response" {
		t.Fatalf("err = %v, want response UpstreamError", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// One sweep tick fails everything processing past the age threshold
// and leaves fresher tasks alone (the age filter lives in the UPDATE's
// interval predicate).
func TestStallSweepFailsOldTasks(t *testing.T) {
	o, mock, done := newTestOrchestrator(t, "", "", "")
	defer done()

	mock.ExpectQuery(`UPDATE processing_tasks`).
		WithArgs("600 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("task-1").AddRow("task-2"))

	o.stallTick(context.Background())
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEnqueueReturnsExistingTask(t *testing.T) {
	o, mock, done := newTestOrchestrator(t, "", "", "")
	defer done()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM processing_tasks`).
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("task-1", "msg-1", store.TaskStatusProcessing, []byte(`{"learning":"processing"}`), now, now, nil))
	mock.ExpectCommit()

	task, created, err := o.Enqueue(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if created || task.ID != "task-1" {
		t.Fatalf("got (%s, %v), want existing task-1", task.ID, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
