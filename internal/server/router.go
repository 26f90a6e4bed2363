package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tracegraph/genealogy-backend/internal/handlers"
	"github.com/tracegraph/genealogy-backend/internal/middleware"
)

type RouterConfig struct {
	RoadmapHandler *handlers.RoadmapHandler
	RequestLogger  *middleware.RequestLogger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"X-Roadmap-Cache"},
		AllowCredentials: true,
	}))

	if cfg.RequestLogger != nil {
		router.Use(cfg.RequestLogger.Handle())
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	router.POST("/roadmap", cfg.RoadmapHandler.CreateRoadmap)
	router.GET("/roadmap/trending", cfg.RoadmapHandler.Trending)
	router.POST("/expand", cfg.RoadmapHandler.ExpandRoadmap)

	return router
}
