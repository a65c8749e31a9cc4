package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"zettler/internal/usertoken"
	"zettler/internal/util"
	"zettler/pkg/ai"
	"zettler/pkg/billing"
	"zettler/pkg/storage"
	"zettler/pkg/store"
	"zettler/services/library/internal/app"
	"zettler/services/library/internal/config"
	"zettler/services/library/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	sessionKey, err := loadSessionKey(cfg.SessionPrivateKeyPath)
	if err != nil {
		log.Fatalf("failed to load session key: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(sessionKey, sessionTTL,
		store.NewRedisTokenRevoker(redisClient, "zettler:library:revoked"),
		store.JWTOptions{KeyID: cfg.SessionKeyID})
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	idTokens, err := usertoken.NewVerifier(usertoken.Config{
		ProjectID: cfg.IdentityProjectID,
		JWKSURL:   cfg.IdentityJWKSURL,
		Issuer:    cfg.IdentityIssuer,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	var generator ai.TextGenerator
	if cfg.GeminiAPIKey != "" {
		client, err := ai.NewGenAIClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		generator = ai.NewFallbackGenerator(
			ai.NewGenAIGenerator(client, cfg.GeminiPrimaryModel),
			ai.NewGenAIGenerator(client, cfg.GeminiFallbackModel),
		)
	} else {
		logger.Warn("gemini api key not set; generation disabled")
	}

	appURL := strings.TrimRight(cfg.AppURL, "/")
	payments := billing.NewStripeClient(billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceID:       cfg.StripePriceID,
		SuccessURL:    appURL + "/subscribe/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     appURL + "/subscribe",
	})

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else {
		logger.Warn("minio endpoint not set; avatar uploads disabled")
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxy config: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:           dataStore,
		Sessions:        sessions,
		IDTokens:        idTokens,
		Generator:       generator,
		Billing:         payments,
		Objects:         objects,
		SuperUserEmails: cfg.SuperUserEmails,
		MaxAvatarBytes:  cfg.MaxAvatarBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		SessionCookieName:          cfg.SessionCookieName,
		SessionCookieSecure:        cfg.SessionCookieSecure,
		TrustedProxies:             trusted,
		AllowedOrigins:             cfg.AllowedOrigins,
		SessionRateLimitPerMinute:  cfg.SessionRateLimitPerMinute,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		CheckoutRateLimitPerMinute: cfg.CheckoutRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// loadSessionKey reads the signing key. Without one an ephemeral key is
// generated, which invalidates every session on restart.
func loadSessionKey(path string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(path) != "" {
		return store.LoadRSAPrivateKey(path)
	}
	slog.Warn("session private key path not set; using an ephemeral key")
	return rsa.GenerateKey(rand.Reader, 2048)
}
