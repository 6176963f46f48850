package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toolhire/platform/postcode-service/internal/handler"
	"github.com/toolhire/platform/shared/middleware"
)

func newRouter(postcodes *handler.PostcodeHandler, metrics *middleware.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.LoggingMiddleware(),
		metrics.Middleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "postcode-service"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/postcode")
	{
		api.POST("/validate", postcodes.ValidatePostcode)
		api.POST("/validate/batch", postcodes.ValidateBatch)
		api.POST("/region", postcodes.CheckRegion)
		api.GET("/regions", postcodes.ListRegions)
		api.GET("/lookups/recent", postcodes.ListRecentLookups)
	}

	return router
}
