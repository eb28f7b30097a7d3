package main

import (
	"fmt"
	"os"

	"github.com/psillyops/psillyops-backend/internal/config"
	"github.com/psillyops/psillyops-backend/internal/db"
	"github.com/psillyops/psillyops-backend/internal/handlers"
	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/middleware"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/server"
	"github.com/psillyops/psillyops-backend/internal/services"
	"github.com/psillyops/psillyops-backend/internal/sse"
	"github.com/psillyops/psillyops-backend/internal/utils"
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

	// Config
	cfg := config.Load(log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(thePG, log)
	productRepo := repos.NewProductRepo(thePG, log)
	stepTemplateRepo := repos.NewStepTemplateRepo(thePG, log)
	productionRunRepo := repos.NewProductionRunRepo(thePG, log)
	productionRunStepRepo := repos.NewProductionRunStepRepo(thePG, log)
	trackingTokenRepo := repos.NewTrackingTokenRepo(thePG, log)
	activityLogRepo := repos.NewActivityLogRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub...")
	hub := sse.NewHub(log)

	// Services
	log.Info("Setting up services...")
	activityService := services.NewActivityService(thePG, log, activityLogRepo)
	trackingTokenService := services.NewTrackingTokenService(thePG, log, trackingTokenRepo)
	authService := services.NewAuthService(thePG, log, userRepo, cfg.JWTSecret, cfg.AccessTokenTTL)
	runService := services.NewProductionRunService(
		thePG,
		log,
		productRepo,
		stepTemplateRepo,
		productionRunRepo,
		productionRunStepRepo,
		trackingTokenService,
		activityService,
		hub,
		cfg.StallThreshold,
		cfg.ActiveRunWindow,
	)
	proposalService := services.NewRunEditProposalService(thePG, log, productionRunRepo, runService)

	// Handlers
	log.Info("Setting up handlers...")
	authHandler := handlers.NewAuthHandler(authService)
	runHandler := handlers.NewProductionRunHandler(log, runService, proposalService, activityService, trackingTokenService)
	sseHandler := handlers.NewSSEHandler(log, hub)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router...")
	router := server.NewRouter(server.RouterConfig{
		CORSOrigins:    cfg.CORSOrigins,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		RunHandler:     runHandler,
		SSEHandler:     sseHandler,
	})

	port := utils.GetEnv("PORT", cfg.Port, log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
