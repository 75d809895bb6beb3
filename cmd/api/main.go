package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/craftui/craftui-api/internal/config"
	"github.com/craftui/craftui-api/internal/domain/credits"
	"github.com/craftui/craftui-api/internal/domain/payment"
	"github.com/craftui/craftui-api/internal/domain/subscription"
	"github.com/craftui/craftui-api/internal/middleware"
	"github.com/craftui/craftui-api/internal/pkg/database"
	"github.com/craftui/craftui-api/internal/pkg/jwt"
	"github.com/craftui/craftui-api/internal/pkg/logger"
	"github.com/craftui/craftui-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting CraftUI billing API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	creditsRepo := credits.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	subscriptionRepo := subscription.NewRepository(db)

	// ---------- Services ----------
	creditsService := credits.NewService(creditsRepo)
	subscriptionService := subscription.NewService(subscriptionRepo)
	intentClient := payment.NewStripeIntentClient(cfg.StripeSecretKey)
	paymentService := payment.NewService(
		paymentRepo,
		creditsService,
		subscriptionService,
		intentClient,
		payment.PlanTable(cfg.StripePriceIDs()),
		cfg.StripeWebhookSecret,
	)

	// ---------- Handlers ----------
	creditsHandler := credits.NewHandler(creditsService)
	paymentHandler := payment.NewHandler(paymentService)
	subscriptionHandler := subscription.NewHandler(subscriptionService)

	authMiddleware := middleware.Auth(jwtService)
	debitLimit := middleware.RateLimit(redis, "debit", cfg.DebitRateLimit, cfg.DebitRateWindow)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/credits", creditsHandler.Routes(authMiddleware, debitLimit))
		r.Mount("/payments", paymentHandler.Routes(authMiddleware))
		r.Mount("/subscription", subscriptionHandler.Routes(authMiddleware))
	})

	// Webhooks bypass auth; the payload signature is the credential.
	r.Mount("/webhooks", paymentHandler.WebhookRoutes())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
