package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/ego"
	"github.com/DmitriStark/MyAI/internal/store"
)

type EgoHandler struct {
	Store  *store.Store
	Engine *ego.Engine
}

func (h *EgoHandler) Register(g *echo.Group) {
	g.POST("/learn", h.learn)
	g.POST("/introspect", h.introspect)
	g.GET("/insights", h.listInsights)
	g.POST("/insights/:id/apply", h.applyInsight)
	g.POST("/consolidate", h.consolidate)
	g.GET("/consolidate/:taskId", h.consolidationStatus)
}

// learn runs the message-level detectors in the background; the
// notification is best effort, so the handler only validates and acks.
func (h *EgoHandler) learn(c echo.Context) error {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MessageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId required")
	}
	go func() {
		if err := h.Engine.AnalyzeMessage(context.Background(), req.MessageID); err != nil {
			h.Engine.Logger.Printf("analyze message %s: %v", req.MessageID, err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"messageId": req.MessageID})
}

func (h *EgoHandler) introspect(c echo.Context) error {
	var req struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId required")
	}
	fired, err := h.Engine.AnalyzeConversation(c.Request().Context(), req.ConversationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversationId": req.ConversationID,
		"insights":       fired,
	})
}

func (h *EgoHandler) listInsights(c echo.Context) error {
	var applied *bool
	if v := c.QueryParam("applied"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "applied must be a boolean")
		}
		applied = &b
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.ListInsights(c.Request().Context(), applied, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, ins := range items {
		out = append(out, insightJSON(ins))
	}
	return c.JSON(http.StatusOK, out)
}

func insightJSON(ins store.InsightRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":         ins.ID,
		"type":       ins.Type,
		"content":    json.RawMessage(ins.RawContent),
		"source":     ins.Source,
		"confidence": ins.Confidence,
		"applied":    ins.Applied,
		"createdAt":  ins.CreatedAt,
	}
}

func (h *EgoHandler) applyInsight(c echo.Context) error {
	err := h.Engine.ApplyInsight(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "insight not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id"), "status": "applied"})
}

// consolidate kicks off one consolidation run and returns its record
// id while the scan happens in the background.
func (h *EgoHandler) consolidate(c echo.Context) error {
	rec, err := h.Store.CreateConsolidation(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	go func() {
		if err := h.Engine.RunConsolidation(context.Background(), rec.ID); err != nil {
			h.Engine.Logger.Printf("consolidation %s: %v", rec.ID, err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"taskId": rec.ID, "status": rec.Status})
}

func (h *EgoHandler) consolidationStatus(c echo.Context) error {
	rec, ok, err := h.Store.GetConsolidation(c.Request().Context(), c.Param("taskId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "consolidation not found")
	}
	return c.JSON(http.StatusOK, rec)
}
