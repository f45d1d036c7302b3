package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/coach/internal/runtime"
	"github.com/mohammad-safakhou/coach/internal/store"
)

// DigestService runs the digest pipeline on demand.
type DigestService interface {
	Generate(ctx context.Context, userID string, date time.Time, maxInsights int, forceRefresh bool, explicitQuery string) map[string]interface{}
}

// DigestsHandler serves stored digests and generates ad-hoc ones for
// an explicit query.
type DigestsHandler struct {
	store   *store.Store
	digests DigestService
	logger  *log.Logger
}

func NewDigestsHandler(st *store.Store, digests DigestService) *DigestsHandler {
	return &DigestsHandler{
		store:   st,
		digests: digests,
		logger:  log.New(log.Writer(), "[DIGESTS] ", log.LstdFlags),
	}
}

func (h *DigestsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.get)
}

// get returns stored digests, or generates one on the fly when a query
// parameter is provided.
func (h *DigestsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)

	if query := strings.TrimSpace(c.QueryParam("query")); query != "" {
		digest := h.digests.Generate(c.Request().Context(), userID, time.Now(), 3, true, query)
		return c.JSON(http.StatusOK, digest)
	}

	limit := 10
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	records, err := h.store.ListDigests(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		var digest map[string]interface{}
		if err := json.Unmarshal(rec.Digest, &digest); err != nil {
			h.logger.Printf("decode digest %s: %v", rec.ID, err)
			continue
		}
		digest["date"] = rec.Date
		out = append(out, digest)
	}
	return c.JSON(http.StatusOK, out)
}
