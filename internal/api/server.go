package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/gatekeeper/internal/audit"
	"github.com/org/gatekeeper/internal/challenge"
	"github.com/org/gatekeeper/internal/token"
	"github.com/org/gatekeeper/internal/trust"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr        string
	TLSCertFile       string
	TLSKeyFile        string
	ThrottleThreshold float64
	DenyThreshold     float64
	RateLimitRPS      int
	RateLimitBurst    int
}

// Server is the API server for the challenge gate.
type Server struct {
	ledger    *trust.Ledger
	issuer    *challenge.Issuer
	verifier  *challenge.Verifier
	authority *token.Authority
	auditor   *audit.Logger
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(ledger *trust.Ledger, issuer *challenge.Issuer, verifier *challenge.Verifier, authority *token.Authority, auditor *audit.Logger, cfg Config) *Server {
	return &Server{
		ledger:    ledger,
		issuer:    issuer,
		verifier:  verifier,
		authority: authority,
		auditor:   auditor,
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	rps, burst := s.cfg.RateLimitRPS, s.cfg.RateLimitBurst
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 200
	}
	r.Use(newRateLimiter(rps, burst).middleware)
	r.Use(decisionAuditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public protocol surface
	r.Get("/health", s.HealthHandler)
	r.Get("/challenge", s.ChallengeHandler)
	r.Post("/challenge", s.ChallengeHandler)
	r.Post("/verify", s.VerifyHandler)
	r.Post("/protected", s.ProtectedHandler)

	// Token-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(tokenAuthMiddleware(s.authority))
		r.Get("/audit", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
