package main

import (
	"fmt"
	"os"

	"github.com/tracegraph/genealogy-backend/internal/clients/redis"
	"github.com/tracegraph/genealogy-backend/internal/db"
	"github.com/tracegraph/genealogy-backend/internal/handlers"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/middleware"
	"github.com/tracegraph/genealogy-backend/internal/repos"
	"github.com/tracegraph/genealogy-backend/internal/server"
	"github.com/tracegraph/genealogy-backend/internal/services"
	"github.com/tracegraph/genealogy-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	roadmapRepo := repos.NewRoadmapRepo(thePG, log)

	// Clients
	log.Info("Setting up clients from main...")
	generatorClient, err := services.NewGeneratorClient(log)
	if err != nil {
		log.Error("Could not init GeneratorClient", "error", err)
		os.Exit(1)
	}
	trendingCache, err := redis.NewTrendingCache(log)
	if err != nil {
		log.Warn("Could not init TrendingCache, trending reads go to Postgres", "error", err)
		trendingCache = nil
	}

	// Services
	log.Info("Setting up Services from main...")
	roadmapService := services.NewRoadmapService(log, roadmapRepo, generatorClient, trendingCache)

	// Handlers
	log.Info("Setting up handlers from main...")
	roadmapHandler := handlers.NewRoadmapHandler(log, roadmapService)

	// Middleware
	requestLogger := middleware.NewRequestLogger(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		RoadmapHandler: roadmapHandler,
		RequestLogger:  requestLogger,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
