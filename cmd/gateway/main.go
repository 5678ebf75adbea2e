package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"

	api "github.com/prepdesk/prepdesk/internal/api/http"
	"github.com/prepdesk/prepdesk/internal/auth"
	"github.com/prepdesk/prepdesk/internal/backend"
	"github.com/prepdesk/prepdesk/internal/config"
	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/logx"
	"github.com/prepdesk/prepdesk/internal/question"
	"github.com/prepdesk/prepdesk/internal/session"
	"github.com/prepdesk/prepdesk/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	log := slog.New(logx.NewHandler(os.Stdout, logx.ParseLevel(cfg.LogLevel)))
	slog.SetDefault(log)

	// --- DB (durable retention for failed submissions) ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := store.Open(ctx, store.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer dbh.Close()
	pending := store.NewPendingStore(dbh)

	// --- Upstream content backend ---
	client := backend.New(backend.Config{
		BaseURL:    cfg.BackendBaseURL,
		Token:      cfg.BackendToken,
		Timeout:    cfg.BackendTimeout,
		LiveWindow: cfg.LiveWindow,
	}, log)

	// --- Core services ---
	hist := history.NewService(client, history.NewCache(cfg.HistoryTTL, nil), pending, cfg.IdentityTTL, nil, log).
		WithSnapshots(store.NewSnapshotStore(dbh))
	agg := question.NewAggregator(client, log)
	sessions := session.NewManager(agg, hist, cfg.SessionIdleLimit, nil, log)

	// --- Auth (local JWT) ---
	authSvc := auth.NewService(cfg.AuthSecret, cfg.SeedUsers)

	// --- Janitor ---
	jan := gocron.NewScheduler(time.UTC)
	jan.Every(cfg.RetryInterval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := hist.RetryPending(ctx); err != nil {
			log.Warn("pending retry pass failed", "err", err)
		} else if n > 0 {
			log.Info("pending submissions delivered", "count", n)
		}
	})
	jan.Every(1).Hour().Do(func() {
		if n := hist.SweepCache(); n > 0 {
			log.Debug("history cache swept", "evicted", n)
		}
		if n := sessions.SweepIdle(); n > 0 {
			log.Info("idle sessions dropped", "count", n)
		}
	})
	jan.StartAsync()
	defer jan.Stop()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.Route("/sessions", func(sr chi.Router) {
			sr.Post("/", api.CreateSessionHandler(sessions))
			sr.Get("/{sessionID}", api.GetSessionHandler(sessions))
			sr.Delete("/{sessionID}", api.DropSessionHandler(sessions))
			sr.Post("/{sessionID}/start", api.StartSessionHandler(sessions))
			sr.Post("/{sessionID}/answer", api.AnswerHandler(sessions))
			sr.Post("/{sessionID}/advance", api.AdvanceHandler(sessions))
			sr.Post("/{sessionID}/mark", api.MarkHandler(sessions))
			sr.Post("/{sessionID}/pause", api.PauseHandler(sessions))
			sr.Post("/{sessionID}/resume", api.ResumeHandler(sessions))
			sr.Post("/{sessionID}/submit", api.SubmitSessionHandler(sessions))
		})

		pr.Route("/history", func(hr chi.Router) {
			hr.Get("/", api.ListHistoryHandler(hist))
			hr.Get("/export", api.ExportHistoryHandler(hist))
			hr.Get("/pending", api.ListPendingHandler(hist))
			hr.Post("/pending/{recordID}/retry", api.RetryPendingHandler(hist))
			hr.Put("/live", api.LiveToggleHandler(hist))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver, "backend", cfg.BackendBaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("shutdown incomplete", "err", err)
	}
	hist.Close()
}
