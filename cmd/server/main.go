// Package main is the entry point for the user management API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boffins/usermgmt/internal/config"
	"github.com/boffins/usermgmt/internal/database"
	"github.com/boffins/usermgmt/internal/handler"
	"github.com/boffins/usermgmt/internal/middleware"
	"github.com/boffins/usermgmt/internal/models"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/repository"
	"github.com/boffins/usermgmt/internal/service"
	"github.com/boffins/usermgmt/internal/session"
	"github.com/boffins/usermgmt/internal/token"
)

const version = "1.0.0"

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting user management API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("google_oauth", cfg.Auth.GoogleConfigured()),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Wire repositories, services, and auth plumbing
	userRepo := repository.NewUserRepository(db.Pool())
	profileRepo := repository.NewProfileRepository(db.Pool())

	authService := service.NewAuthService(userRepo)
	profileService := service.NewProfileService(profileRepo)
	oauthService := service.NewOAuthService(&cfg.Auth, userRepo)

	sessions := session.NewManager(cfg.Auth.SessionSecret, cfg.Auth.SessionCookieName, cfg.Auth.SessionExpiry)
	issuer := token.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	authHandler := handler.NewAuthHandler(authService, sessions, issuer)
	oauthHandler := handler.NewOAuthHandler(oauthService, sessions)
	profileHandler := handler.NewProfileHandler(profileService, authService, sessions)
	healthHandler := handler.NewHealthHandler(db, redis, sessions, cfg.Auth.GoogleConfigured(), version)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/", rootHandler())
	r.Handle("/metrics", promhttp.Handler())
	healthHandler.Routes(r)

	// Credential endpoints share a fixed-window rate limit
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Get("/login/google", oauthHandler.LoginGoogle)
	})

	r.Get("/auth/callback", oauthHandler.Callback)
	r.Post("/logout", authHandler.Logout)
	r.Get("/dashboard", authHandler.Dashboard)
	r.Get("/admin", authHandler.Admin)
	r.Get("/users", authHandler.Users)
	r.Get("/session/info", authHandler.SessionInfo)
	profileHandler.SessionRoutes(r)

	// Bearer token API
	r.Post("/api/login", authHandler.APILogin)
	r.With(
		middleware.RequireToken(issuer),
		middleware.RequireTokenRole(models.RoleAdmin),
	).Get("/api/users", authHandler.APIUsers)
	r.Route("/api/profile", func(r chi.Router) {
		r.Use(middleware.RequireToken(issuer))
		r.Mount("/", profileHandler.TokenRoutes())
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// rootHandler serves the landing route. Unauthenticated browser requests are
// redirected here with an error query parameter.
func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"service": "usermgmt",
			"version": version,
		}
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			data["error"] = errParam
		}
		response.OK(w, data)
	}
}
