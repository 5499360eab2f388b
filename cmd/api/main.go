package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Open(connectCtx, &cfg.Database, logger)
	cancelConnect()
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.RunMigrations(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Redis backs the send-otp and forgot-password limiters
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// the limiter fails open, so the API can still serve
		logger.Warn("redis unreachable at startup", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
	}
	cancel()

	// AWS delivery clients
	awsCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	awsCfg, err := awsconfig.LoadDefaultConfig(awsCtx, awsconfig.WithRegion(cfg.Delivery.AWSRegion))
	cancel()
	if err != nil {
		logger.Error("failed to load AWS configuration", slog.Any("error", err))
		os.Exit(1)
	}

	emailChannel := services.NewEmailChannel(ses.NewFromConfig(awsCfg), cfg.Delivery.FromAddress, logger)
	smsChannel := services.NewSMSChannel(sns.NewFromConfig(awsCfg), cfg.Delivery.SMSSenderID, logger)
	delivery := services.NewDeliveryRouter(emailChannel, smsChannel)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	tokenRepo := repositories.NewVerificationTokenRepository(db)

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewPasswordHasher(pkgauth.DefaultBcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	limiter := services.NewRedisRateLimiter(redisClient, logger)

	// Initialize services
	tokenIssuer := services.NewTokenIssuer(tokenRepo, logger)
	sessionManager := services.NewSessionManager(sessionRepo, cfg.Auth.SessionTTL, logger)
	credentialVerifier := services.NewCredentialVerifier(userRepo, hasher, timingDelay, logger)
	otpChallenge := services.NewOTPChallenge(sessionManager, userRepo, tokenIssuer, delivery, timingDelay, services.OTPChallengeConfig{
		TTL:         cfg.Auth.OTPChallengeTTL,
		MaxAttempts: cfg.Auth.OTPMaxAttempts,
		IssuerName:  cfg.Delivery.IssuerName,
	}, logger)
	authFlow := services.NewAuthFlow(
		credentialVerifier,
		sessionManager,
		otpChallenge,
		tokenIssuer,
		userRepo,
		hasher,
		delivery,
		limiter,
		services.AuthFlowConfig{
			StatusChangeTTL:  cfg.Auth.OTPStatusChangeTTL,
			PasswordResetTTL: cfg.Auth.PasswordResetTTL,
			LinkBaseURL:      cfg.Delivery.LinkBaseURL,
			IssuerName:       cfg.Delivery.IssuerName,
			OTPSendLimit:     cfg.Redis.OTPSendLimit,
			OTPSendWindow:    cfg.Redis.OTPSendWindow,
			ResetLimit:       cfg.Redis.ResetLimit,
			ResetWindow:      cfg.Redis.ResetWindow,
		},
		logger,
		auditLogger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authFlow, ipConfig, auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	})
	healthHandler := handlers.NewHealthHandler(db)

	// Bootstrap a first user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSeedUser(ctx, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure seed user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, healthHandler, sessionManager, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Auth.RequestsPerMinute,
		IPConfig:          ipConfig,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionRepo, tokenRepo, auditLogger, logger, cfg.Auth.CleanupInterval, cfg.Auth.CleanupRetention)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureSeedUser creates a first user if SEED_USER_EMAIL and SEED_USER_PASSWORD are set.
// SEED_USER_PHONE and SEED_USER_OTP=true turn on sms OTP for that user.
func ensureSeedUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.PasswordHasher, logger *slog.Logger) error {
	email := os.Getenv("SEED_USER_EMAIL")
	password := os.Getenv("SEED_USER_PASSWORD")

	if email == "" || password == "" {
		logger.Info("no SEED_USER_EMAIL or SEED_USER_PASSWORD set, skipping seed user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("seed user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if seed user exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("seed user password: %w", err)
	}

	hashedPassword, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash seed user password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              "Seed User",
		PasswordChangedAt: &now,
	}
	if phone := os.Getenv("SEED_USER_PHONE"); phone != "" {
		user.Phone = &phone
	}
	if os.Getenv("SEED_USER_OTP") == "true" {
		user.OTPEnabled = true
		user.OTPEnabledAt = &now
	}

	if _, err := userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create seed user: %w", err)
	}

	logger.Info("seed user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}
