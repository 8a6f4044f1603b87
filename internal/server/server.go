package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/bootstrap"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/config"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	mid "github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the API around app without starting it.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open snapshot store", "err", err)
	}
	defer handle.Store.Close()

	app := &mid.App{
		Store:        handle.Store,
		MasterAPIKey: cfg.Server.MasterAPIKey,
	}

	// The read API stays up without a broker; only ingest requests need it.
	que, err := bootstrap.ConnectQueue(ctx, cfg)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, ingest requests are disabled", "err", err)
	} else {
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch
	}

	e := New(app)

	go func() {
		port := cfg.Server.Port
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port, "store", cfg.Store.Driver)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
