package bootstrap

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpecho "github.com/restoreworks/crm-migration/internal/interfaces/http/echo"
)

func NewHTTPServer(handler *httpecho.MigrationHandler, logger *zap.Logger, metricsPath string) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("1M"))
	server.Use(httpecho.RequestLogger(logger))

	httpecho.RegisterRoutes(server, handler)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	server.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))

	return server
}
