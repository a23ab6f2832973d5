package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/config"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
)

// Handlers are the GraphQL transports mounted by the server. Nil entries
// are not routed.
type Handlers struct {
	GraphQL       http.Handler
	Subscriptions *graphql.SubscriptionHandler
	SSE           http.Handler
}

// Server represents the gateway HTTP server
type Server struct {
	config   config.ServerConfig
	handlers Handlers

	mu          sync.Mutex
	httpServer  *http.Server
	http3Server *http3.Server
}

// NewServer creates a new gateway server
func NewServer(cfg config.ServerConfig, handlers Handlers) *Server {
	return &Server{
		config:   cfg,
		handlers: handlers,
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Handler returns the routed handler wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.handlers.GraphQL != nil {
		mux.Handle(s.config.GraphQLPath, s.handlers.GraphQL)
	}
	if s.handlers.Subscriptions != nil {
		mux.Handle(s.config.SubscriptionsPath, s.handlers.Subscriptions)
	}
	if s.handlers.SSE != nil {
		mux.Handle(s.config.SSEPath, s.handlers.SSE)
	}

	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/health", observability.HealthHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler())
	mux.HandleFunc("/live", observability.LivenessHandler())

	var handler http.Handler = mux
	handler = observability.MetricsMiddleware(handler)
	handler = observability.TracingMiddleware(handler)
	if s.config.TLS.Enabled && s.config.TLS.HTTP3 {
		handler = s.altSvcMiddleware(handler)
	}
	if s.config.CORS.Enabled {
		handler = corsMiddleware(s.config.CORS, handler)
	}
	return handler
}

// Start starts the HTTP server and blocks until it stops. A graceful
// shutdown is not reported as an error.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:    s.Addr(),
		Handler: handler,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if s.config.TLS.Enabled {
		if s.config.TLS.HTTP3 {
			go s.startHTTP3(handler)
		}
		observability.Info("Gateway listening", zap.String("address", "https://"+s.Addr()),
			zap.String("graphql", s.config.GraphQLPath))
		err = httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		observability.Info("Gateway listening", zap.String("address", "http://"+s.Addr()),
			zap.String("graphql", s.config.GraphQLPath))
		err = httpServer.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) startHTTP3(handler http.Handler) {
	s.mu.Lock()
	s.http3Server = &http3.Server{
		Addr:    s.Addr(),
		Handler: handler,
	}
	h3 := s.http3Server
	s.mu.Unlock()

	observability.Info("Gateway listening over HTTP/3", zap.String("address", s.Addr()))
	if err := h3.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		observability.Error("HTTP/3 listener failed", zap.Error(err))
	}
}

// altSvcMiddleware advertises the HTTP/3 endpoint to TCP clients
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		h3 := s.http3Server
		s.mu.Unlock()
		if h3 != nil && r.ProtoMajor < 3 {
			if err := h3.SetQUICHeaders(w.Header()); err != nil {
				observability.Debug("Failed to set Alt-Svc header", zap.Error(err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops accepting requests, closes subscription sockets and waits
// for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer, h3 := s.httpServer, s.http3Server
	s.mu.Unlock()

	var errs []error
	if s.handlers.Subscriptions != nil {
		if err := s.handlers.Subscriptions.CloseAll(); err != nil {
			errs = append(errs, fmt.Errorf("closing subscriptions: %w", err))
		}
	}
	if h3 != nil {
		if err := h3.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing HTTP/3 listener: %w", err))
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
		}
	}
	return errors.Join(errs...)
}

func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	headers := "Accept, Authorization, Content-Type"
	if len(cfg.AllowedHeaders) > 0 {
		headers = strings.Join(cfg.AllowedHeaders, ", ")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}
