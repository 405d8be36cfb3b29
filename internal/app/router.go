package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"fare/internal/handler"
	"fare/internal/metrics"
	"fare/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	DeviceHandler   *handler.DeviceHandler
	FareHandler     *handler.FareHandler
	TrackingHandler *handler.TrackingHandler
	TripHandler     *handler.TripHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
	Metrics         *metrics.Collector
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		v1.GET("/device", deps.DeviceHandler.Get)

		// Fare routes.
		fare := v1.Group("/fare")
		{
			fare.GET("/settings", deps.FareHandler.GetSettings)
			fare.PUT("/settings", deps.FareHandler.UpdateSettings)
			fare.POST("/estimate", deps.FareHandler.Estimate)
		}

		// Tracking routes.
		tracking := v1.Group("/tracking")
		{
			tracking.GET("", deps.TrackingHandler.State)
			tracking.POST("/start", deps.TrackingHandler.Start)
			tracking.POST("/samples", deps.TrackingHandler.PushSample)
			tracking.POST("/stop", deps.TrackingHandler.Stop)
			tracking.POST("/reset", deps.TrackingHandler.Reset)
		}

		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", middleware.IdempotencyMiddleware(deps.RedisClient), deps.TripHandler.Save)
			trips.GET("", deps.TripHandler.List)
			trips.DELETE("", deps.TripHandler.Clear)
			trips.DELETE("/:id", deps.TripHandler.Delete)
			trips.POST("/sync", deps.TripHandler.Sync)
		}
	}

	return router
}
