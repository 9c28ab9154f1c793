package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/store"
)

// StatusSource reports the scheduler state shown on /health.
type StatusSource interface {
	Running() int
	Draining() bool
}

type healthResponse struct {
	Status    string `json:"status"`
	Running   int    `json:"running"`
	Timestamp string `json:"timestamp"`
}

type healthHandler struct {
	status StatusSource
	store  store.JobStore
	now    func() time.Time
}

// Health always answers 200; the body tells a draining scheduler apart.
func (h *healthHandler) Health(c echo.Context) error {
	status := "healthy"
	if h.status.Draining() {
		status = "shutting_down"
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Running:   h.status.Running(),
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready fails while draining or when the store cannot be reached.
func (h *healthHandler) Ready(c echo.Context) error {
	if h.status.Draining() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func newHTTPServer(status StatusSource, st store.JobStore, m *metrics.Metrics, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	h := &healthHandler{status: status, store: st, now: time.Now}
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}
