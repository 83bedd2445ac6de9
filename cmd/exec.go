package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"

	"emoney-portal/config"
	"emoney-portal/internal/handlers"
	"emoney-portal/internal/logging"
	"emoney-portal/internal/platform"
	"emoney-portal/internal/services"
	"emoney-portal/internal/session"
	_ "emoney-portal/migrations"
	"emoney-portal/monitoring"
	"emoney-portal/security"
	"emoney-portal/utils"
)

func Start() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	// Load configuration
	cfg := config.LoadConfig()
	slog.SetDefault(logging.New(os.Stdout, logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
	}))

	app := pocketbase.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Platform client and portal sessions
	locales := platform.NewLocales(cfg.SupportedLocales, cfg.DefaultLocale)
	breaker := monitoring.NewBreaker("platform")
	var sessions *session.Store
	client := platform.NewClient(cfg.PlatformBaseURL, cfg.PlatformTimeout,
		platform.WithBreaker(breaker),
		platform.WithLocales(locales),
		platform.OnUnauthorized(func(ctx context.Context, caller platform.Caller) {
			sessions.DropCaller(ctx, caller)
		}),
	)
	sessions = session.NewStore(redisClient, client, locales, cfg.SessionTTL)

	// Initialize PubNub
	notifier := services.NewPubNubNotifier(cfg)

	// Audit trail, optionally streamed to Kafka
	var writer services.MessageWriter
	if len(cfg.KafkaBrokers) > 0 {
		kw := services.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer kw.Close()
		writer = kw
	}
	auditor := services.NewAuditor(app, writer)
	auditor.BindHooks()

	// Initialize services
	profileService := services.NewProfileService(client)
	qrService := services.NewQRService(redisClient, client, sessions, notifier, auditor, cfg, nil)
	cashoutService := services.NewCashoutService(redisClient, client, profileService, auditor)
	resourceService := services.NewResourceService(client, cfg.ReportMaxRangeDays)

	qrService.Countdowns().OnTick(func(merchantCode string, remaining int) {
		if remaining%60 == 0 {
			slog.Debug("qr countdown", "merchant_code", merchantCode, "remaining_seconds", remaining)
		}
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessions, cfg.Environment == "production")
	merchantHandler := handlers.NewMerchantHandler(profileService, qrService, auditor, cashoutService)
	resourceHandler := handlers.NewResourceHandler(resourceService)
	adminHandler := handlers.NewAdminHandler(qrService, qrService.Countdowns(), breaker)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})
	app.RootCmd.AddCommand(newEndpointsCmd())

	// Start background tasks
	go notifier.Listen(ctx, qrService.ApplyNotification)
	go monitoring.NewMonitor(redisClient).Run(ctx)
	if cfg.EnableMetrics {
		limiter := security.NewRateLimiter(redisClient, cfg.MetricsRateLimit)
		srv := monitoring.NewServer(":"+cfg.MetricsPort, limiter.AntiBotMiddleware(), limiter.RateLimit("metrics"))
		go monitoring.Serve(ctx, srv)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		qrService.Close()
		notifier.Close()
		return e.Next()
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		go restoreQRCountdowns(ctx, qrService)

		// Auth endpoints
		e.Router.POST("/api/v1/auth/login", authHandler.Login)

		api := e.Router.Group("/api/v1")
		api.BindFunc(handlers.RequireSession(sessions))
		api.POST("/auth/logout", authHandler.Logout)
		api.GET("/auth/me", authHandler.Me)
		api.PUT("/auth/locale", authHandler.SetLocale)

		// Merchant endpoints
		merchant := api.Group("/merchant")
		merchant.BindFunc(handlers.RequireMerchant)
		merchant.GET("/profile", merchantHandler.Profile)
		merchant.POST("/qr", merchantHandler.GenerateQR)
		merchant.GET("/qr", merchantHandler.CurrentQR)
		merchant.DELETE("/qr", merchantHandler.CloseQR)
		merchant.POST("/qr/status", merchantHandler.CheckQRStatus)
		merchant.POST("/qr/action", merchantHandler.QRStatusAction)
		merchant.GET("/qr/history", merchantHandler.QRHistory)
		merchant.POST("/cashout/start", merchantHandler.StartCashout)
		merchant.GET("/cashout", merchantHandler.CurrentCashout)
		merchant.DELETE("/cashout", merchantHandler.ResetCashout)
		merchant.GET("/cashout/services", merchantHandler.CashoutServices)
		merchant.POST("/cashout/review", merchantHandler.ReviewCashout)
		merchant.POST("/cashout/inquiry", merchantHandler.InquireCashout)
		merchant.POST("/cashout/payment", merchantHandler.PayCashout)

		// Resource endpoints
		api.GET("/resources", resourceHandler.Catalog)
		api.GET("/resources/{resource}", resourceHandler.List)
		api.POST("/resources/{resource}", resourceHandler.Create)
		api.GET("/resources/{resource}/{id}", resourceHandler.Get)
		api.PUT("/resources/{resource}/{id}", resourceHandler.Update)
		api.PATCH("/resources/{resource}/{id}", resourceHandler.Patch)
		api.DELETE("/resources/{resource}/{id}", resourceHandler.Delete)
		api.GET("/reports/{resource}/export", resourceHandler.Export)

		// Admin endpoints
		admin := api.Group("/admin")
		admin.BindFunc(handlers.RequireTenant(platform.TenantPrincipal))
		admin.GET("/qr-dashboard", adminHandler.GetQRDashboard)
		admin.GET("/qr-sessions/{merchantCode}", adminHandler.GetQRDetails)
		admin.POST("/qr-sessions/{merchantCode}/close", adminHandler.ForceCloseQR)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{
				"status":  "healthy",
				"breaker": breaker.State().String(),
			})
		})

		slog.Info("server routes registered")
		return e.Next()
	})

	// Start server
	return app.Start()
}

// restoreQRCountdowns re-arms the timers of QR sessions still open after a restart.
func restoreQRCountdowns(ctx context.Context, qrService *services.QRService) {
	restored, err := qrService.Restore(ctx)
	if err != nil {
		slog.Error("qrService.Restore()", "error", err)
		return
	}
	slog.Info("qr countdowns restored", "count", restored)
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
