package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DmitriStark/MyAI/internal/orchestrator"
	"github.com/DmitriStark/MyAI/internal/store"
)

type ProcessHandler struct {
	Store *store.Store
	Orch  *orchestrator.Orchestrator
}

func (h *ProcessHandler) Register(g *echo.Group) {
	g.POST("", h.process)
	g.GET("/:messageId/status", h.status)
	g.POST("/:messageId/cancel", h.cancel)
}

type processRequest struct {
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type taskResponse struct {
	TaskID      string            `json:"taskId"`
	MessageID   string            `json:"messageId"`
	Status      string            `json:"status"`
	Services    map[string]string `json:"services,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

func taskJSON(task store.ProcessingTaskRecord) taskResponse {
	return taskResponse{
		TaskID:      task.ID,
		MessageID:   task.MessageID,
		Status:      task.Status,
		Services:    task.Services,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

// process enqueues pipeline work for a message. The message is either
// referenced by id or created here from content; enqueueing a message
// with an active task returns that task with a 200 instead of a 202.
func (h *ProcessHandler) process(c echo.Context) error {
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	messageID := req.MessageID
	if messageID == "" {
		if req.Content == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "messageId or content required")
		}
		conversationID := req.ConversationID
		if conversationID == "" {
			conv, err := h.Store.CreateConversation(ctx, req.UserID, "")
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			conversationID = conv.ID
		}
		msg, err := h.Store.CreateMessage(ctx, store.MessageRecord{
			ConversationID: conversationID,
			Sender:         store.SenderUser,
			Content:        req.Content,
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		messageID = msg.ID
	} else {
		if _, ok, err := h.Store.GetMessage(ctx, messageID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		} else if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
	}

	task, created, err := h.Orch.Enqueue(ctx, messageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !created {
		return c.JSON(http.StatusOK, taskJSON(task))
	}
	return c.JSON(http.StatusAccepted, taskJSON(task))
}

func (h *ProcessHandler) status(c echo.Context) error {
	task, ok, err := h.Store.GetProcessingTaskByMessage(c.Request().Context(), c.Param("messageId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no task for message")
	}
	return c.JSON(http.StatusOK, taskJSON(task))
}

func (h *ProcessHandler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	task, ok, err := h.Store.GetProcessingTaskByMessage(ctx, c.Param("messageId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no task for message")
	}
	canceled, err := h.Store.TransitionProcessingTask(ctx, task.ID, store.TaskStatusCanceled)
	if err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, taskJSON(canceled))
}
