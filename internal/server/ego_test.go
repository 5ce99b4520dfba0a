package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/ego"
	"github.com/DmitriStark/MyAI/internal/store"
)

func newEgoHandler(t *testing.T) (*EgoHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	st := &store.Store{DB: db}
	return &EgoHandler{Store: st, Engine: ego.NewEngine(st, nil)}, mock, func() { db.Close() }
}

func TestIntrospectRequiresConversationID(t *testing.T) {
	h, _, done := newEgoHandler(t)
	defer done()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ego/introspect", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.introspect(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestApplyUnknownInsightReturns404(t *testing.T) {
	h, mock, done := newEgoHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT (.+) FROM insights WHERE id=\$1`).
		WithArgs("ins-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "content", "source", "confidence", "applied", "created_at", "updated_at"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ego/insights/ins-404/apply", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("ins-404")

	err := h.applyInsight(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestListInsightsRejectsBadAppliedFilter(t *testing.T) {
	h, _, done := newEgoHandler(t)
	defer done()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ego/insights?applied=maybe", nil)
	rec := httptest.NewRecorder()

	err := h.listInsights(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestConsolidationStatusUnknownTask(t *testing.T) {
	h, mock, done := newEgoHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT (.+) FROM knowledge_consolidations WHERE id=\$1`).
		WithArgs("cons-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "knowledge_count", "started_at", "completed_at", "created_at"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ego/consolidate/cons-404", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("taskId")
	ctx.SetParamValues("cons-404")

	err := h.consolidationStatus(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}
