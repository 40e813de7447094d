package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/internal/websocket"
)

const serviceName = "turnloop"

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, logger *zap.Logger) {
	e.HTTPErrorHandler = errorHandler(logger)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:         "ok",
			Service:        serviceName,
			ActiveSessions: hub.ClientCount(),
		})
	})

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Voice session endpoint
	e.GET("/ws", hub.HandleWebSocket)
}

// errorHandler renders every HTTP error as an ErrorResponse
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			}
		} else {
			logger.Error("Unhandled request error",
				zap.String("path", c.Request().URL.Path),
				zap.Error(err))
		}

		if err := c.JSON(code, ErrorResponse{
			Error:   http.StatusText(code),
			Message: message,
		}); err != nil {
			logger.Warn("Failed to write error response", zap.Error(err))
		}
	}
}
