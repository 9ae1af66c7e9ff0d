package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/notify"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/jjudge-oj/authserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger
}

// New constructs a Server from configuration, dialing every dependency.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	var queue *mq.MQ
	if strings.EqualFold(cfg.Mail.Transport, "queue") {
		queue, err = mq.Open(ctx, cfg.MQ)
		if err != nil {
			_ = dbConn.Close()
			return nil, err
		}
	}

	sender, err := NewSender(cfg.Mail, queue, logger)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		if queue != nil {
			_ = queue.Close()
		}
		return nil, err
	}

	deps := services.AccountDeps{
		Repo:   store.NewAccountRepository(dbConn),
		Hasher: auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens: auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Codes:  auth.NewOTPGenerator(),
		Sender: sender,
		Logger: logger,
	}
	if objects != nil {
		deps.Avatars = objects
	}
	accounts := services.NewAccountService(deps, services.AccountConfig{
		VerifyOTPTTL:           cfg.Auth.VerifyOTPTTL,
		ResetOTPTTL:            cfg.Auth.ResetOTPTTL,
		AllowSelfAssignedAdmin: cfg.Auth.AllowSelfAssignedAdmin,
	})

	router := NewRouter(accounts, cfg)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
		logger:     logger,
	}, nil
}

// NewRouter builds the chi router and middleware stack around accounts.
func NewRouter(accounts *services.AccountService, cfg config.Config) *chi.Mux {
	authHandler := handlers.NewAuthHandler(accounts, handlers.CookieConfig{
		Name:      cfg.Auth.CookieName,
		Secure:    cfg.Auth.CookieSecure,
		CrossSite: cfg.Production(),
		MaxAge:    cfg.Auth.TokenTTL,
	}, cfg.Auth.CollapseLoginErrors)
	accountHandler := handlers.NewAccountHandler(accounts)

	origins := allowedOrigins(cfg.CORSOrigin)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
			MaxAge:           300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/accounts", func(r chi.Router) {
		handlers.AccountRouter(r, accountHandler, authHandler.RequireAuth)
	})
	return router
}

// allowedOrigins splits a comma separated origin list. An empty list allows
// any origin.
func allowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// NewSender selects the notification transport named by cfg.Transport.
// queue must be non-nil for the queue transport.
func NewSender(cfg config.MailConfig, queue *mq.MQ, logger *slog.Logger) (notify.Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "log":
		return notify.NewLogSender(logger), nil
	case "smtp":
		return notify.NewSMTPSender(cfg, logger), nil
	case "queue":
		if queue == nil {
			return nil, errors.New("queue mail transport needs a message queue")
		}
		return notify.NewQueueSender(queue, cfg.Queue), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then releases the database and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
