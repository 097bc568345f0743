package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/handlers"
	"github.com/routefleet/backend/internal/middleware"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	authService := services.NewAuthService(db, redisClient, cfg)
	deviceService := services.NewDeviceService(db)
	auditService := services.NewAuditService(db)
	emailService := services.NewEmailService(cfg)
	reportService := services.NewReportService(cfg)
	s3Service, err := services.NewS3Service(cfg)
	if err != nil {
		log.Fatalf("Failed to init S3 service: %v", err)
	}
	lockService := services.NewDeviceLockService(redisClient, cfg.DeviceLockTTL)
	backupService := services.NewBackupService(db, cfg, s3Service, lockService)
	restoreService := services.NewRestoreService(db, cfg, s3Service, lockService, backupService)
	// Attach email service so failed runs produce operator alerts
	backupService.AttachEmailService(emailService)
	restoreService.AttachEmailService(emailService)

	// Create admin user if not exists
	if err := authService.CreateDefaultAdmin(); err != nil {
		log.Printf("Failed to create default admin: %v", err)
	}

	// Scheduled backup loop: pick up devices whose interval has elapsed.
	// ErrDeviceBusy just means a manual run got there first.
	if cfg.ScheduledBackupsEnabled {
		go func() {
			for {
				due, err := deviceService.ListDueForBackup(time.Now().UTC())
				if err != nil {
					log.Printf("Scheduled backup scan error: %v", err)
				}
				for _, device := range due {
					backup, err := backupService.RunBackup(context.Background(), device.ID, services.BackupOptions{
						Kind:    models.BackupKindExport,
						Trigger: models.TriggerScheduled,
					})
					switch {
					case errors.Is(err, services.ErrDeviceBusy):
						continue
					case err != nil:
						log.Printf("Scheduled backup failed for %s: %v", device.Name, err)
					default:
						log.Printf("Scheduled backup completed for %s (backup %s)", device.Name, backup.ID)
					}
				}
				time.Sleep(cfg.SchedulerPollInterval)
			}
		}()
	}

	// Periodic cleanup for expired refresh tokens
	go func() {
		for {
			if err := authService.CleanupExpiredTokens(); err != nil {
				log.Printf("Refresh token cleanup error: %v", err)
			}
			time.Sleep(1 * time.Hour)
		}
	}()

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	deviceHandler := handlers.NewDeviceHandler(deviceService, backupService, auditService)
	backupHandler := handlers.NewBackupHandler(backupService, auditService)
	restoreHandler := handlers.NewRestoreHandler(restoreService, auditService)
	adminHandler := handlers.NewAdminHandler(deviceService, backupService, reportService, auditService)

	// Health check outside API group (no /api/v1 prefix)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Setup routes
	api := router.Group("/api/v1")
	{
		// Catch-all OPTIONS handler for CORS preflight requests
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
		}

		// Device routes
		devices := api.Group("/devices")
		devices.Use(middleware.Auth(authService))
		{
			devices.GET("", deviceHandler.GetAllDevices)
			devices.POST("", deviceHandler.CreateDevice)
			devices.GET("/:id", deviceHandler.GetDevice)
			devices.PUT("/:id", deviceHandler.UpdateDevice)
			devices.DELETE("/:id", deviceHandler.DeleteDevice)
			devices.POST("/:id/backup", deviceHandler.TriggerBackup)
			devices.GET("/:id/backups", deviceHandler.GetDeviceBackups)
		}

		// Backup routes
		backups := api.Group("/backups")
		backups.Use(middleware.Auth(authService))
		{
			backups.GET("", backupHandler.GetAllBackups)
			backups.GET("/stats", backupHandler.GetBackupStats)
			backups.GET("/:id", backupHandler.GetBackup)
			backups.GET("/:id/download", backupHandler.GetDownloadURL)
			backups.POST("/:id/pin", backupHandler.PinBackup)
			backups.DELETE("/:id/pin", backupHandler.UnpinBackup)
			backups.POST("/:id/restore", restoreHandler.TriggerRestore)
		}

		// Restore routes
		restores := api.Group("/restores")
		restores.Use(middleware.Auth(authService))
		{
			restores.GET("", restoreHandler.GetAllRestores)
			restores.GET("/:id", restoreHandler.GetRestore)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(authService))
		admin.Use(middleware.AdminOnly())
		{
			admin.GET("/audit/logs", adminHandler.GetAuditLogs)
			admin.GET("/companies", adminHandler.GetCompanies)
			admin.POST("/companies", adminHandler.CreateCompany)
			admin.POST("/retention/sweep", adminHandler.RunRetentionSweep)
			admin.GET("/reports/fleet.pdf", adminHandler.GetFleetReportPDF)
			admin.GET("/devices/:id/card.pdf", adminHandler.GetDeviceCardPDF)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // backup and restore runs block the request
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
