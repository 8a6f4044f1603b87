package routes

import (
	"net/http"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetFiltersHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	values, err := app.Filters.Get(c.Request().Context(), app.Store)
	if err != nil {
		logger.Error("[Server] Failed to load filter values", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, values)
}

// GetSnapshotHandler reports the generation currently served. Generation 0
// means no ingestion has completed yet.
func GetSnapshotHandler(c echo.Context) error {
	reader := c.(*middleware.AppContext).App.Store
	info, err := reader.SnapshotInfo(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to load snapshot info", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, info)
}
