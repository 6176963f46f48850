package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toolhire/platform/api-gateway/internal/proxy"
	"github.com/toolhire/platform/shared/config"
	"github.com/toolhire/platform/shared/logger"
	"github.com/toolhire/platform/shared/middleware"
)

func main() {
	config.LoadDotEnv()

	env := config.GetEnv("ENV", "dev")
	slog.SetDefault(logger.NewLogger(os.Stdout, env, config.GetEnv("LOG_LEVEL", "info")))
	if env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	postcodeServiceURL := config.GetURL("POSTCODE_SERVICE_URL", "http://localhost:8085")
	postcodes := proxy.New(postcodeServiceURL, nil).Handler()

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.LoggingMiddleware(),
		middleware.NewMetrics(prometheus.DefaultRegisterer, "api_gateway").Middleware(),
	)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Postcode routes
	router.POST("/api/postcode/validate", postcodes)
	router.POST("/api/postcode/validate/batch", postcodes)
	router.POST("/api/postcode/region", postcodes)
	router.GET("/api/postcode/regions", postcodes)
	router.GET("/api/postcode/lookups/recent", postcodes)

	port := config.GetEnv("PORT", "8080")
	slog.Info("API gateway starting", "port", port, "postcode_service", postcodeServiceURL)
	if err := router.Run(":" + port); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
