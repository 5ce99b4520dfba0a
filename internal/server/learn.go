package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/learning"
	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

type LearnHandler struct {
	Store   *store.Store
	Manager *learning.Manager
}

func (h *LearnHandler) Register(g *echo.Group) {
	g.POST("", h.learn)
	g.GET("/knowledge", h.listKnowledge)
	g.GET("/knowledge/:id", h.getKnowledge)
	g.GET("/knowledge/search/:query", h.searchKnowledge)
	g.GET("/tasks", h.listTasks)
	g.GET("/tasks/:taskId", h.getTask)
	g.POST("/feedback", h.createFeedback)
	g.GET("/feedback/:id", h.getFeedback)
	g.PUT("/feedback/:id", h.updateFeedback)
	g.POST("/web", h.learnWeb)
}

type knowledgeResponse struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Source       string    `json:"source"`
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`
	Tags         []string  `json:"tags"`
	LastAccessed time.Time `json:"lastAccessed"`
	CreatedAt    time.Time `json:"createdAt"`
}

func knowledgeJSON(rec store.KnowledgeRecord) knowledgeResponse {
	return knowledgeResponse{
		ID:           rec.ID,
		Content:      rec.Content,
		Source:       rec.Source,
		Type:         rec.Type,
		Confidence:   rec.Confidence,
		Tags:         rec.Tags,
		LastAccessed: rec.LastAccessed,
		CreatedAt:    rec.CreatedAt,
	}
}

func knowledgeListJSON(recs []store.KnowledgeRecord) []knowledgeResponse {
	out := make([]knowledgeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, knowledgeJSON(rec))
	}
	return out
}

type learningTaskResponse struct {
	TaskID      string     `json:"taskId"`
	Type        string     `json:"type"`
	SourceID    string     `json:"sourceId"`
	SourceType  string     `json:"sourceType"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func learningTaskJSON(task store.LearningTaskRecord) learningTaskResponse {
	return learningTaskResponse{
		TaskID:      task.ID,
		Type:        task.Type,
		SourceID:    task.SourceID,
		SourceType:  task.SourceType,
		Status:      task.Status,
		Progress:    task.Progress,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

// learn queues ingestion of a user message. A message id is enough;
// content with a conversation id creates the message first.
func (h *LearnHandler) learn(c echo.Context) error {
	var req struct {
		Content        string `json:"content"`
		Source         string `json:"source"`
		Type           string `json:"type"`
		UserID         string `json:"userId"`
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	messageID := req.MessageID
	if messageID == "" {
		if req.Content == "" || req.ConversationID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "messageId or content+conversationId required")
		}
		msg, err := h.Store.CreateMessage(ctx, store.MessageRecord{
			ConversationID: req.ConversationID,
			Sender:         store.SenderUser,
			Content:        req.Content,
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		messageID = msg.ID
	}

	task, err := h.Manager.Enqueue(ctx, store.LearningTaskUserInput, messageID, "message")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"taskId": task.ID})
}

func (h *LearnHandler) listKnowledge(c echo.Context) error {
	ctx := c.Request().Context()
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if knowledgeType := c.QueryParam("type"); knowledgeType != "" {
		items, err := h.Store.ListKnowledgeByType(ctx, knowledgeType, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, knowledgeListJSON(items))
	}
	items, err := h.Store.AllKnowledgeByConfidence(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return c.JSON(http.StatusOK, knowledgeListJSON(items))
}

func (h *LearnHandler) getKnowledge(c echo.Context) error {
	rec, ok, err := h.Store.GetKnowledge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "knowledge not found")
	}
	return c.JSON(http.StatusOK, knowledgeJSON(rec))
}

func (h *LearnHandler) searchKnowledge(c echo.Context) error {
	query := c.Param("query")
	keywords := nlp.ExtractKeywords(query, 8)
	if len(keywords) == 0 {
		keywords = []string{query}
	}
	items, err := h.Store.SearchKnowledgeByKeywords(c.Request().Context(), keywords, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, knowledgeListJSON(items))
}

func (h *LearnHandler) listTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.ListLearningTasks(c.Request().Context(), c.QueryParam("status"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]learningTaskResponse, 0, len(items))
	for _, task := range items {
		out = append(out, learningTaskJSON(task))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *LearnHandler) getTask(c echo.Context) error {
	task, ok, err := h.Store.GetLearningTask(c.Request().Context(), c.Param("taskId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, learningTaskJSON(task))
}

type feedbackRequest struct {
	MessageID    string `json:"messageId"`
	FeedbackID   string `json:"feedbackId"`
	Rating       *int   `json:"rating"`
	FeedbackText string `json:"feedbackText"`
}

// createFeedback records a rating or free-text correction and queues
// its processing.
func (h *LearnHandler) createFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Rating == nil && req.FeedbackText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rating or feedbackText required")
	}
	ctx := c.Request().Context()

	if req.FeedbackID != "" {
		fb, err := h.Store.UpdateFeedback(ctx, req.FeedbackID, req.Rating, req.FeedbackText)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		task, err := h.Manager.Enqueue(ctx, store.LearningTaskFeedbackUpdate, fb.ID, "feedback")
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusAccepted, map[string]string{"feedbackId": fb.ID, "taskId": task.ID})
	}

	if req.MessageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId required")
	}
	fb, err := h.Store.CreateFeedback(ctx, req.MessageID, req.Rating, req.FeedbackText)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	task, err := h.Manager.Enqueue(ctx, store.LearningTaskFeedback, fb.ID, "feedback")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"feedbackId": fb.ID, "taskId": task.ID})
}

func (h *LearnHandler) getFeedback(c echo.Context) error {
	fb, ok, err := h.Store.GetFeedback(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "feedback not found")
	}
	return c.JSON(http.StatusOK, fb)
}

func (h *LearnHandler) updateFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.FeedbackID = c.Param("id")
	ctx := c.Request().Context()
	fb, err := h.Store.UpdateFeedback(ctx, req.FeedbackID, req.Rating, req.FeedbackText)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	task, err := h.Manager.Enqueue(ctx, store.LearningTaskFeedbackUpdate, fb.ID, "feedback")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"feedbackId": fb.ID, "taskId": task.ID})
}

// learnWeb queues a URL for crawling. The web sweep also picks up
// queued sources, so the inline enqueue here is just a head start.
func (h *LearnHandler) learnWeb(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	ctx := c.Request().Context()
	src, err := h.Store.CreateLearningSource(ctx, req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	task, err := h.Manager.Enqueue(ctx, store.LearningTaskWebContent, src.ID, "learning_source")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"sourceId": src.ID, "taskId": task.ID})
}
