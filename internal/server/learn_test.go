package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/learning"
	"github.com/DmitriStark/MyAI/internal/store"
)

func newLearnHandler(t *testing.T) (*LearnHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	st := &store.Store{DB: db}
	return &LearnHandler{Store: st, Manager: learning.NewManager(st, nil)}, mock, func() { db.Close() }
}

func TestGetKnowledgeNotFound(t *testing.T) {
	h, mock, done := newLearnHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE id=\$1`).
		WithArgs("k-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "source", "type", "confidence", "tags", "last_accessed", "created_at", "updated_at"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/learn/knowledge/k-404", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("k-404")

	err := h.getKnowledge(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestSearchKnowledgeUsesExtractedKeywords(t *testing.T) {
	h, mock, done := newLearnHandler(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM knowledge WHERE content ILIKE ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "source", "type", "confidence", "tags", "last_accessed", "created_at", "updated_at"}).
			AddRow("k-1", "Photosynthesis converts sunlight.", "user:u1", "fact", 0.8, "{biology}", now, now, now))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/learn/knowledge/search/photosynthesis", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("query")
	ctx.SetParamValues("what is photosynthesis")

	if err := h.searchKnowledge(ctx); err != nil {
		t.Fatalf("searchKnowledge: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var items []knowledgeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 1 || items[0].ID != "k-1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateFeedbackRequiresPayload(t *testing.T) {
	h, _, done := newLearnHandler(t)
	defer done()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/learn/feedback", strings.NewReader(`{"messageId":"msg-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.createFeedback(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestLearnRequiresMessageOrContent(t *testing.T) {
	h, _, done := newLearnHandler(t)
	defer done()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/learn", strings.NewReader(`{"content":"no conversation"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.learn(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}
