package middleware

import (
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	"github.com/labstack/echo/v4"
)

type App struct {
	Store store.SnapshotReader
	// Queue is nil when the server runs without a broker; ingest requests
	// are then refused.
	Queue        queue.Publisher
	Filters      *util.FilterCache
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	if app.Filters == nil {
		app.Filters = &util.FilterCache{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
