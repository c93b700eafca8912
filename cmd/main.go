package main

import (
	"context"
	"fmt"
	"log"
	"os"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"

	"studyhub/internal/billing"
	"studyhub/internal/caching"
	"studyhub/internal/config"
	"studyhub/internal/handlers"
	"studyhub/internal/jobs/background"
	"studyhub/internal/middleware"
	"studyhub/internal/models"
	"studyhub/internal/repositories"
	"studyhub/internal/services"
	"studyhub/pkg/database"
)

const version = "1.0.0"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pool, err := database.NewPool(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWKSURL == "" {
		cfg.Auth.JWTSecret = random.String(32)
		log.Printf("WARNING: Using generated JWT secret, tokens will not survive restarts")
	}

	// Repositories
	tierRepo := repositories.NewSubscriptionTierRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	methodRepo := repositories.NewPaymentMethodRepo(pool)
	eventRepo := repositories.NewPaymentEventRepo(pool)

	// Cache
	cacheSvc := caching.NewRedisCacheService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	// Services
	clock := billing.SystemClock()
	gateway := services.NewYooKassaService(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.BaseURL)
	tierSvc := services.NewSubscriptionTierService(tierRepo, cacheSvc)
	subscriptionSvc := services.NewSubscriptionService(subscriptionRepo, tierRepo, eventRepo, clock)
	paymentMethodSvc := services.NewPaymentMethodService(methodRepo, gateway, cfg.YooKassa.ReturnURL)
	billingSvc := services.NewBillingService(
		subscriptionRepo,
		tierRepo,
		methodRepo,
		gateway,
		clock,
		services.BillingPolicy{
			RetryBase: cfg.Billing.RetryBase(),
			RetryCap:  cfg.Billing.RetryCap(),
		},
		cfg.YooKassa.ReturnURL,
	)

	// Background billing sweep
	scheduler, err := background.NewJobScheduler(billingSvc, subscriptionRepo, clock, background.SweepConfig{
		Interval:    cfg.Billing.SweepInterval(),
		BatchSize:   cfg.Billing.SweepBatchSize,
		Concurrency: cfg.Billing.WorkerConcurrency,
	})
	if err != nil {
		log.Fatalf("Failed to create billing scheduler: %v", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			log.Printf("Failed to stop billing scheduler: %v", err)
		}
	}()

	// Handlers
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc, version)
	tierHandlers := handlers.NewSubscriptionTierHandlers(tierSvc)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionSvc, billingSvc)
	paymentHandlers := handlers.NewPaymentHandlers(paymentMethodSvc, billingSvc, cacheSvc)

	// JWT middleware
	jwtConfig, err := middleware.NewJWTConfig(cfg.Auth.JWTSecret, cfg.Auth.JWKSURL)
	if err != nil {
		log.Fatalf("Failed to configure JWT middleware: %v", err)
	}

	// Echo instance
	e := echo.New()
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	versionMiddleware := middleware.NewVersionMiddleware()
	e.Use(versionMiddleware.APIVersionResolver())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)
	e.GET("/health/detailed", healthHandlers.GetMetrics)

	v1 := e.Group("/v1")
	v1.Use(versionMiddleware.VersionHeader("v1"))

	// Public catalog reads
	v1.GET("/subscription-tiers", tierHandlers.ListTiers)
	v1.GET("/subscription-tiers/:id", tierHandlers.GetTier)

	// Gateway confirmation callback (authenticated by origin, not by JWT)
	v1.POST("/payments/payment-method/callback", paymentHandlers.PaymentMethodCallback)

	// Protected routes
	protected := v1.Group("")
	protected.Use(echojwt.WithConfig(jwtConfig))

	protected.POST("/payments/forms", paymentHandlers.CreatePaymentForm)
	protected.GET("/payments/:id", paymentHandlers.GetPayment)
	protected.POST("/payments/payment-method", paymentHandlers.AddPaymentMethod)
	protected.GET("/payments/payment-method", paymentHandlers.GetPaymentMethod)
	protected.DELETE("/payments/payment-method", paymentHandlers.DeletePaymentMethod)

	protected.POST("/subscriptions/charge", subscriptionHandlers.Charge)
	protected.POST("/subscriptions/downgrade", subscriptionHandlers.Downgrade)
	protected.GET("/subscriptions/me", subscriptionHandlers.Me)
	protected.GET("/subscriptions/me/payment-events", subscriptionHandlers.PaymentEvents)

	admin := protected.Group("")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	admin.POST("/subscriptions/gift", subscriptionHandlers.Gift)
	admin.POST("/subscriptions/provision", subscriptionHandlers.Provision)
	admin.POST("/subscription-tiers", tierHandlers.CreateTier)

	log.Printf("studyhub billing server v%s starting on port %d", version, cfg.Server.Port)
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", cfg.Server.Port)))
}
