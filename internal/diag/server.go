package diag

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maumercado/coprocrt/internal/config"
	diagmw "github.com/maumercado/coprocrt/internal/diag/middleware"
	"github.com/maumercado/coprocrt/internal/diag/wsstream"
	"github.com/maumercado/coprocrt/internal/task"
)

// Server is the diag HTTP+WebSocket introspection/admin server: it
// exposes coprocess-tree introspection and control over HTTP instead of
// task-queue CRUD.
type Server struct {
	router   *chi.Mux
	httpSrv  *http.Server
	cfg      *config.DiagConfig
	hub      *wsstream.Hub
	handlers *Handlers
}

// NewServer wires a chi router, the diag middleware stack, and every
// introspection/admin route.
func NewServer(cfg *config.DiagConfig, authCfg config.AuthConfig, sched Spawner, root *task.Task, reg *Registry, hub *wsstream.Hub, handlerRegistry *HandlerRegistry) *Server {
	h := NewHandlers(sched, root, reg, handlerRegistry)

	apiKeys := make(map[string]bool, len(authCfg.APIKeys))
	for _, k := range authCfg.APIKeys {
		apiKeys[k] = true
	}
	authMW := diagmw.Auth(diagmw.AuthConfig{
		Enabled:   authCfg.Enabled,
		JWTSecret: authCfg.JWTSecret,
		APIKeys:   apiKeys,
	})

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		hub:      hub,
		handlers: h,
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Heartbeat("/health"))
	if cfg.RateLimitRPS > 0 {
		s.router.Use(diagmw.ClientRateLimit(cfg.RateLimitRPS))
	}

	s.router.Route("/diag", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))

		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)

		r.Route("/coprocesses", func(r chi.Router) {
			r.Get("/", h.ListCoprocesses)
			r.Post("/", h.SpawnCoprocess)
			r.Get("/{id}", h.GetCoprocess)
			r.With(authMW).Delete("/{id}", h.CancelCoprocess)
		})

		r.Route("/admin/coprocesses/{id}", func(r chi.Router) {
			r.Use(authMW)
			r.Post("/stop", h.StopCoprocess)
			r.Post("/interrupt", h.InterruptCoprocess)
			r.Post("/resume", h.ResumeCoprocess)
		})
	})

	s.router.Get("/diag/ws/trace", func(w http.ResponseWriter, r *http.Request) {
		wsstream.Upgrade(hub, w, r)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Router exposes the underlying chi.Mux, mainly for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Start runs the trace-event hub and begins serving HTTP in the
// background. The returned channel receives ListenAndServe's terminal
// error (nil on a graceful Shutdown).
func (s *Server) Start() <-chan error {
	go s.hub.Run()
	errCh := make(chan error, 1)
	go func() {
		err := s.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	return errCh
}

// Shutdown gracefully stops the HTTP server and the trace-event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.hub.Stop()
	return err
}
