package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/c7lavinder/gunner-backend/pkg/redis"
)

// DLQHandler exposes the dead letter stream of exhausted outbound calls
type DLQHandler struct {
	dlq    *redis.DeadLetterQueue
	logger ectologger.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(dlq *redis.DeadLetterQueue, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{
		dlq:    dlq,
		logger: logger,
	}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// List returns dead letter entries
// GET /api/v1/dlq
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	count := int64(100)
	if countStr := c.QueryParam("count"); countStr != "" {
		if parsed, err := strconv.ParseInt(countStr, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	entries, err := h.dlq.List(ctx, count)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}

	total, _ := h.dlq.Count(ctx)

	return SuccessResponse(c, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Delete removes a DLQ entry
// DELETE /api/v1/dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	if err := h.dlq.Delete(ctx, messageID); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to delete DLQ entry")
		return err
	}

	return NoContentResponse(c)
}

// RegisterRoutes registers the DLQ routes
func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.DELETE("/:id", h.Delete)
}
