package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/response"
	"github.com/DmitriStark/MyAI/internal/store"
)

type GenerateHandler struct {
	Store     *store.Store
	Generator *response.Generator
}

func (h *GenerateHandler) Register(g *echo.Group) {
	g.POST("", h.generate)
	g.GET("/templates", h.listTemplates)
	g.POST("/templates", h.createTemplate)
	g.GET("/defaults", h.listDefaults)
	g.POST("/defaults", h.createDefault)
	g.GET("/logs", h.listLogs)
}

type generateMeta struct {
	Confidence          float64 `json:"confidence"`
	UsedDefaultResponse bool    `json:"usedDefaultResponse"`
	UsedTemplate        bool    `json:"usedTemplate"`
	KnowledgeCount      int     `json:"knowledgeCount"`
}

type generateResponse struct {
	MessageID string       `json:"messageId"`
	Response  string       `json:"response"`
	Meta      generateMeta `json:"meta"`
}

// generate produces a reply for a message. A missing default response
// is not surfaced to the caller: the stock defaults are seeded once
// and generation retried.
func (h *GenerateHandler) generate(c echo.Context) error {
	var req struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MessageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId required")
	}
	ctx := c.Request().Context()

	result, err := h.Generator.Generate(ctx, req.MessageID, req.ConversationID)
	if errors.Is(err, response.ErrNoDefaultResponse) {
		if err := h.Generator.SeedDefaults(ctx); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		result, err = h.Generator.Generate(ctx, req.MessageID, req.ConversationID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, generateResponse{
		MessageID: result.MessageID,
		Response:  result.Response,
		Meta: generateMeta{
			Confidence:          result.Confidence,
			UsedDefaultResponse: result.UsedDefaultResponse,
			UsedTemplate:        result.UsedTemplate,
			KnowledgeCount:      result.KnowledgeCount,
		},
	})
}

func (h *GenerateHandler) listTemplates(c echo.Context) error {
	items, err := h.Store.ListTemplates(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *GenerateHandler) createTemplate(c echo.Context) error {
	var req struct {
		Template string `json:"template"`
		Context  string `json:"context"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Template == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template required")
	}
	rec, err := h.Store.CreateTemplate(c.Request().Context(), req.Template, req.Context)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *GenerateHandler) listDefaults(c echo.Context) error {
	items, err := h.Store.ListDefaultResponses(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// createDefault writes a default response and synchronously
// invalidates the generator's read-through cache.
func (h *GenerateHandler) createDefault(c echo.Context) error {
	var req struct {
		ResponseText string `json:"responseText"`
		Context      string `json:"context"`
		Priority     int    `json:"priority"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResponseText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "responseText required")
	}
	rec, err := h.Store.CreateDefaultResponse(c.Request().Context(), req.ResponseText, req.Context, req.Priority)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Generator.Cache.Invalidate()
	return c.JSON(http.StatusCreated, rec)
}

func (h *GenerateHandler) listLogs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.ListResponseLogs(c.Request().Context(), c.QueryParam("conversationId"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}
