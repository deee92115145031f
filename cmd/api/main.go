package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "emrcore/api/swagger" // swagger docs
	"emrcore/internal/alert"
	"emrcore/internal/app"
	"emrcore/internal/config"
	"emrcore/internal/handler"
	"emrcore/internal/jobs"
	"emrcore/internal/middleware"
	"emrcore/internal/websocket"
	"emrcore/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           EMR Core API
// @version         1.0
// @description     Clinic-scoped authorization and license management for the EMR platform.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	flush, err := alert.Init(cfg.Sentry.DSN, cfg.Env)
	if err != nil {
		log.Warn().Err(err).Msg("sentry disabled")
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORSOrigin)
	go wsHub.Run(ctx)

	a, err := app.New(ctx, cfg, wsHub)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()
	log.Info().Msg("Connected to PostgreSQL successfully.")

	if err := a.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap roles and permissions")
	}

	var jobsDone <-chan struct{}
	if cfg.Jobs.Enabled {
		jobsDone = jobs.NewMaintenance(a.Licenses, a.Users, cfg.Jobs.MaintenanceEvery).Start(ctx)
	}

	// Initialize Handlers
	cookies := middleware.CookieOptions{
		Secure:     cfg.IsProduction(),
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	}
	authHandler := handler.NewAuthHandler(a.Users, cookies)
	clinicHandler := handler.NewClinicHandler(a.Clinics, a.Users, a.Authz)
	roleHandler := handler.NewRoleHandler(a.Roles, a.Authz)
	licenseHandler := handler.NewLicenseHandler(a.Licenses, a.Authz)
	licenseKeyHandler := handler.NewLicenseKeyHandler(a.Licenses, a.Authz)
	patientHandler := handler.NewPatientHandler(a.Patients)
	auditHandler := handler.NewAuditHandler(a.Audit, a.Authz)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(), middleware.Recovery())

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigin,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.ClinicHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := a.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", websocket.ServeWs(wsHub, a.Tokens, a.Authz))

	api := router.Group("/api")
	authed := api.Group("", middleware.Authenticate(a.Tokens))

	authHandler.RegisterRoutes(api, authed)
	clinicHandler.RegisterRoutes(authed)
	roleHandler.RegisterRoutes(authed)
	licenseHandler.RegisterRoutes(authed)
	licenseKeyHandler.RegisterRoutes(authed)
	patientHandler.RegisterRoutes(authed)
	auditHandler.RegisterRoutes(authed)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if jobsDone != nil {
		<-jobsDone
	}
	log.Info().Msg("server stopped")
}
