// Package server provides the HTTP API (§6) over the Market-Data Hub,
// Prediction Dispatcher, Risk Engine and Execution Engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/di"
)

// Config holds server configuration.
type Config struct {
	Port      int
	Log       zerolog.Logger
	JWTSecret string
	DevMode   bool
	Container *di.Container
}

// Server is the HTTP API surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	container *di.Container
	jwtSecret string
}

// New builds a Server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		container: cfg.Container,
		jwtSecret: cfg.JWTSecret,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		marketData := &marketDataHandlers{hub: s.container.Hub, log: s.log}
		r.Get("/bars/{symbol}/{tf}", marketData.handleGetBars)
		r.Get("/bars/{symbol}/{tf}/stream", marketData.handleSubscribe)

		predict := &predictionHandlers{dispatcher: s.container.Dispatcher, signals: s.container.SignalStore, log: s.log}
		r.Post("/predict", predict.handlePredict)

		risk := &riskHandlers{risk: s.container.Risk, sizer: s.container.Sizer, portfolio: s.container.Portfolio, log: s.log}
		r.Post("/risk/check", risk.handleCheckRisk)
		r.Post("/risk/size", risk.handleSizeSignal)

		portfolios := &portfolioHandlers{portfolio: s.container.Portfolio, log: s.log}
		r.Get("/portfolios/{id}", portfolios.handleGetPortfolio)

		ord := &orderHandlers{scheduler: s.container.Scheduler, store: s.container.OrdersStore, machine: s.container.Machine, log: s.log}
		r.Post("/orders", ord.handleSubmitOrder)
		r.Get("/orders/{id}", ord.handleGetOrder)
		r.Delete("/orders/{id}", ord.handleCancelOrder)
		r.Get("/orders/{id}/children", ord.handleChildren)

		events := &eventsHandlers{bus: s.container.Bus, log: s.log}
		r.Get("/events/stream", events.handleStream)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.jwtAuth)

			aud := &auditHandlers{audit: s.container.Audit, log: s.log}
			r.Get("/audit/{stream}/verify", aud.handleVerify)

			sys := &systemHandlers{log: s.log}
			r.Get("/system/status", sys.handleStatus)

			r.Post("/risk/stress", risk.handleStressTest)
		})
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "quant-core"})
}
