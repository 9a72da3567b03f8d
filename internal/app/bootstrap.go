package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"voyaj-api/internal/auth"
	"voyaj-api/internal/cache"
	"voyaj-api/internal/db"
	"voyaj-api/internal/email"
	"voyaj-api/internal/maintenance"
	"voyaj-api/internal/observability"
	"voyaj-api/internal/session"
	"voyaj-api/internal/token"
	"voyaj-api/internal/trip"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole application: one cache instance, one token service
// and one session store constructed here and injected into every collaborator
// that needs them.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger(observability.ParseLevel(os.Getenv("LOG_LEVEL")))

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("JWT_ACCESS_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("JWT_REFRESH_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := cache.New(cache.Options{
		MaxEntries:      envIntOrDefault("CACHE_MAX_ENTRIES", 1000),
		CleanupInterval: envSecondsOrDefault("CACHE_CLEANUP_SECONDS", 300),
		Logger:          logger,
	})

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	})
	if err != nil {
		store.Close()
		_ = database.Close()
		return nil, fmt.Errorf("init token service: %w", err)
	}

	sessions := session.NewStore(store, tokens)
	identityTTL := envMinutesOrDefault("IDENTITY_CACHE_TTL_MINUTES", 15)
	gate := auth.NewGate(tokens, sessions, logger, identityTTL)

	mailer := buildMailer(logger)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, tokens, sessions, mailer, logger)
	authHandler := auth.NewHandler(authService)

	tripRepo := trip.NewRepository(database)
	tripHandler := trip.NewHandler(tripRepo)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		store,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("DELETED_USER_RETENTION_DAYS", 30),
		envIntOrDefault("MAINTENANCE_BATCH_SIZE", 500),
	)

	ipLimit := gate.RateLimitByIP(
		envIntOrDefault("AUTH_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("AUTH_RATE_LIMIT_WINDOW_SECONDS", 60),
	)
	userLimit := gate.RateLimit(
		envIntOrDefault("USER_RATE_LIMIT_MAX", 120),
		envSecondsOrDefault("USER_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", ipLimit(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", ipLimit(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", gate.Authenticate(http.HandlerFunc(authHandler.Logout)))
	mux.HandleFunc("POST /auth/verify-email", authHandler.VerifyEmail)
	mux.Handle("POST /auth/resend-verification", gate.Authenticate(http.HandlerFunc(authHandler.ResendVerification)))
	mux.Handle("POST /auth/forgot-password", ipLimit(http.HandlerFunc(authHandler.ForgotPassword)))
	mux.Handle("POST /auth/reset-password", ipLimit(http.HandlerFunc(authHandler.ResetPassword)))

	mux.Handle("GET /me", gate.Authenticate(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PATCH /me", gate.Authenticate(http.HandlerFunc(authHandler.UpdateMe)))
	mux.Handle("POST /me/change-password", gate.Authenticate(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("DELETE /me", gate.Authenticate(http.HandlerFunc(authHandler.DeleteMe)))

	mux.Handle("GET /trips", gate.Authenticate(userLimit(http.HandlerFunc(tripHandler.ListTrips))))
	mux.Handle("POST /trips", gate.Authenticate(userLimit(authHandler.RequireVerifiedEmail(http.HandlerFunc(tripHandler.CreateTrip)))))
	mux.Handle("GET /trips/{id}", gate.OptionalAuthenticate(http.HandlerFunc(tripHandler.GetTrip)))
	mux.Handle("PUT /trips/{id}", gate.Authenticate(userLimit(http.HandlerFunc(tripHandler.UpdateTrip))))
	mux.Handle("DELETE /trips/{id}", gate.Authenticate(userLimit(http.HandlerFunc(tripHandler.DeleteTrip))))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.RequestLoggingMiddleware(logger, mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			store.Close()
			return database.Close()
		},
	}, nil
}

func buildMailer(logger *observability.Logger) email.Sender {
	endpoint := os.Getenv("EMAIL_API_URL")
	if strings.TrimSpace(endpoint) == "" {
		logger.Warn("email_provider_not_configured", map[string]any{"fallback": "log"})
		return email.LogSender{Logger: logger}
	}

	sender, err := email.NewHTTPSender(endpoint, os.Getenv("EMAIL_API_KEY"), os.Getenv("EMAIL_FROM"))
	if err != nil {
		logger.Error("init_email_sender_failed", map[string]any{"error": err.Error()})
		return email.LogSender{Logger: logger}
	}

	return sender
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}
