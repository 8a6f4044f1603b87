package server

import (
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Registry routes
	apiRoutes.GET("/organizations", routes.GetOrganizationsHandler)
	apiRoutes.GET("/organizations/:id", routes.GetOrganizationHandler)
	apiRoutes.GET("/filters", routes.GetFiltersHandler)
	apiRoutes.GET("/snapshot", routes.GetSnapshotHandler)
	apiRoutes.GET("/schema/:entity", routes.GetSchemaHandler)

	// Ingestion routes
	apiRoutes.POST("/ingest", routes.PostIngestHandler, middleware.MasterKeyMiddleware)
}
