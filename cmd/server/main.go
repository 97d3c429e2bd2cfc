package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/resetguard/resetguard/internal/config"
	"github.com/resetguard/resetguard/internal/handlers"
	"github.com/resetguard/resetguard/internal/repository"
	"github.com/resetguard/resetguard/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	if cfg.Verify.RecipientNumber != "" {
		logger.WithField("phone", cfg.Verify.RecipientNumber).Warn("RECIPIENT_NUMBER is set; every reset targets this phone number")
	}

	ctx := context.Background()

	dynamoClient, err := repository.NewDynamoClient(ctx, cfg.DynamoDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Initialize repositories
	credentialRepo := repository.NewCredentialRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	verificationRepo := repository.NewVerificationRepository(redisClient, logger)

	// Initialize services
	privateKey, err := cfg.Vonage.PrivateKey()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load application private key")
	}
	appTokens, err := service.NewAppTokenService(cfg.Vonage.ApplicationID, privateKey, cfg.Vonage.TokenExpiry, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application token service")
	}

	httpClient := &http.Client{Timeout: cfg.Network.ProviderTimeout}

	tokenBroker := service.NewTokenBroker(
		cfg.Network.AuthURL,
		cfg.Network.TokenURL,
		service.ServiceTokenSource(cfg.Network.ServiceJWT, appTokens),
		httpClient,
		logger,
	)
	simSwapService := service.NewSimSwapService(tokenBroker, cfg.Network.SimSwapURL, cfg.Network.SimSwapMaxAge, httpClient, logger)

	verifyClient := service.NewVerifyClient(
		cfg.Verify.BaseURL,
		cfg.Verify.CodeLength,
		int(cfg.Verify.RequestExpiry.Seconds()),
		service.ServiceTokenSource("", appTokens),
		httpClient,
		logger,
	)

	passwordService := service.NewPasswordService(credentialRepo, cfg.Verify.PasswordHashCost, logger)
	otpService := service.NewOTPService(
		verifyClient,
		credentialRepo,
		verificationRepo,
		passwordService,
		simSwapService,
		&cfg.Verify,
		logger,
	)

	resetHandlers := handlers.NewResetHandlers(otpService, simSwapService, passwordService, logger)
	router := handlers.NewRouter(resetHandlers, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
