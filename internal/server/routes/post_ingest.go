package routes

import (
	"net/http"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PostIngestHandler enqueues an ingestion for the worker.
func PostIngestHandler(c echo.Context) error {
	type postIngestBody struct {
		Force       bool   `json:"force"`
		RequestedBy string `json:"requested_by" validate:"omitempty,max=128"`
	}

	body := new(postIngestBody)
	if c.Request().ContentLength != 0 {
		if err := c.Bind(body); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Ingestion queue unavailable"})
	}

	msg := queue.QueueIngestMsg{
		Message:     "ingest",
		RequestedBy: body.RequestedBy,
		Force:       body.Force,
		RequestedAt: time.Now().UTC(),
	}
	if err := queue.EnqueueIngest(c.Request().Context(), app.Queue, msg); err != nil {
		logger.Error("[Server] Failed to enqueue ingest request", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to enqueue ingest request"})
	}

	logger.Info("[Server] Ingest request enqueued", "force", msg.Force, "requested_by", msg.RequestedBy)
	return c.JSON(http.StatusAccepted, map[string]any{
		"message":      "Ingest request enqueued",
		"force":        msg.Force,
		"requested_at": msg.RequestedAt,
	})
}
