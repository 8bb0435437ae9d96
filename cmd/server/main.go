package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/otp"
	"github.com/example/storefront/internal/routes"
	"github.com/example/storefront/internal/services"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	db := database.Connect(cfg.DatabaseURL, cfg.GormLogLevel())

	ctx := context.Background()
	if err := database.SeedAdmin(ctx, db, cfg.AdminPhone, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to seed admin account: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	slog.Info("redis connected", "addr", cfg.RedisAddr)

	var registry otp.Registry
	if cfg.OTPStore == "redis" {
		registry = otp.NewRedisRegistry(redisClient)
	} else {
		slog.Warn("otp codes kept in process memory, run a single instance or set OTP_STORE=redis")
		registry = otp.NewMemoryRegistry()
	}

	sms := services.NewSMSService(services.SMSConfig{
		BaseURL:  cfg.SMSBaseURL,
		Username: cfg.SMSUsername,
		Password: cfg.SMSPassword,
		Enabled:  cfg.SMSEnabled,
		Logger:   slog.Default().With("component", "sms"),
	})

	otpManager := otp.NewManager(registry, sms,
		otp.WithTTL(cfg.OTPTTL),
		otp.WithMaxAttempts(cfg.OTPMaxAttempts),
		otp.WithSweepInterval(cfg.OTPSweepInterval),
		otp.WithLogger(slog.Default().With("component", "otp")),
	)
	otpManager.Start(ctx)

	serverMetrics := metrics.NewServerMetrics(nil)

	app := fiber.New(fiber.Config{
		AppName:      "Storefront Backend",
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(serverMetrics.Middleware())

	routes.Register(app, routes.Deps{
		DB:     db,
		Config: cfg,
		OTP:    otpManager,
		Carts:  cart.NewService(cart.NewRedisCache(redisClient, cfg.CartTTL)),
		Payments: services.NewPaymentGateway(services.PaymentConfig{
			BaseURL:   cfg.PaymentBaseURL,
			KeyID:     cfg.PaymentKeyID,
			KeySecret: cfg.PaymentKeySecret,
		}),
		Telegram: services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat),
		Metrics:  serverMetrics,
	})

	go func() {
		slog.Info("starting server", "port", cfg.AppPort)
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatalf("fiber.Listen error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	otpManager.Stop()
	if err := redisClient.Close(); err != nil {
		slog.Error("redis close failed", "error", err)
	}
	slog.Info("server stopped")
}
