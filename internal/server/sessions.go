package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/coach/internal/agent/core"
	"github.com/mohammad-safakhou/coach/internal/runtime"
	"github.com/mohammad-safakhou/coach/internal/store"
)

const sessionRunTimeout = 15 * time.Minute

// SessionsHandler exposes agent runs over HTTP. Runs execute in the
// background; the session record tracks their terminal status.
type SessionsHandler struct {
	store      *store.Store
	controller *core.AgentController
	logger     *log.Logger
}

func NewSessionsHandler(st *store.Store, controller *core.AgentController) *SessionsHandler {
	return &SessionsHandler{
		store:      st,
		controller: controller,
		logger:     log.New(log.Writer(), "[SESSIONS] ", log.LstdFlags),
	}
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/approve", h.approve)
	g.GET("/:id/logs", h.logs)
}

func (h *SessionsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal is required")
	}

	id := uuid.New().String()
	rec := store.SessionRecord{
		ID:     id,
		UserID: userID,
		Goal:   goal,
		Status: string(core.StatusRunning),
		Data:   json.RawMessage(`{}`),
	}
	if err := h.store.UpsertSession(c.Request().Context(), rec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.launch(id, goal, userID, false)
	return c.JSON(http.StatusAccepted, IDResponse{ID: id})
}

// launch runs the controller in the background and persists the final
// session document when it finishes.
func (h *SessionsHandler) launch(id, goal, userID string, approvalGranted bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sessionRunTimeout)
		defer cancel()

		session := h.controller.RunSession(ctx, id, goal, userID, approvalGranted)

		data, err := json.Marshal(session)
		if err != nil {
			h.logger.Printf("marshal session %s: %v", id, err)
			data = []byte(`{}`)
		}
		rec := store.SessionRecord{
			ID:     id,
			UserID: userID,
			Goal:   goal,
			Status: string(session.Status),
			Data:   data,
		}
		if err := h.store.UpsertSession(ctx, rec); err != nil {
			h.logger.Printf("persist session %s: %v", id, err)
		}
	}()
}

func (h *SessionsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	records, err := h.store.ListSessions(c.Request().Context(), userID, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]interface{}{
			"id":         rec.ID,
			"goal":       rec.Goal,
			"status":     rec.Status,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")

	// Live sessions come from the in-memory log first; finished ones
	// from the store.
	if session, ok := h.controller.Sessions().Get(id); ok && session.UserID == userID {
		return c.JSON(http.StatusOK, session)
	}

	rec, ok, err := h.store.GetSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok || rec.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	var session core.Session
	if err := json.Unmarshal(rec.Data, &session); err != nil || session.ID == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"id":     rec.ID,
			"goal":   rec.Goal,
			"status": rec.Status,
		})
	}
	return c.JSON(http.StatusOK, session)
}

// approve re-runs a needs_approval session with the explicit human
// grant, under the same session ID.
func (h *SessionsHandler) approve(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")

	rec, ok, err := h.store.GetSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok || rec.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if rec.Status != string(core.StatusNeedsApproval) {
		return echo.NewHTTPError(http.StatusConflict, "session is not awaiting approval")
	}

	rec.Status = string(core.StatusRunning)
	if err := h.store.UpsertSession(c.Request().Context(), rec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.launch(id, rec.Goal, userID, true)
	return c.JSON(http.StatusAccepted, IDResponse{ID: id})
}

func (h *SessionsHandler) logs(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")
	format := c.QueryParam("format")

	if session, ok := h.controller.Sessions().Get(id); ok && session.UserID == userID {
		if format == "text" {
			return c.String(http.StatusOK, h.controller.Sessions().ExportText(id, true))
		}
		return c.String(http.StatusOK, h.controller.Sessions().ExportJSON(id))
	}

	rec, ok, err := h.store.GetSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok || rec.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if format == "text" {
		var session core.Session
		if err := json.Unmarshal(rec.Data, &session); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		var b strings.Builder
		for _, entry := range session.Logs {
			b.WriteString(entry.Timestamp.Format(time.RFC3339))
			b.WriteString(" [")
			b.WriteString(string(entry.Phase))
			b.WriteString("] ")
			line, _ := json.Marshal(entry.Content)
			b.Write(line)
			b.WriteString("\n")
		}
		return c.String(http.StatusOK, b.String())
	}
	return c.JSONBlob(http.StatusOK, rec.Data)
}
