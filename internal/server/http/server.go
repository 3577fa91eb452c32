// Package http exposes the update subsystem to the ground control UI.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/skypeer/internal/pkg/metrics"
	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/internal/update/session"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/options"
)

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	orch    *update.Orchestrator
	logger  log.Logger

	// last is the most recent session started through this server.
	mu   sync.Mutex
	last *session.Session
}

func NewServer(opts *options.HttpOptions, orch *update.Orchestrator) *Server {
	s := &Server{
		options: opts,
		orch:    orch,
		logger:  log.WithName("http"),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.Timeout,
		WriteTimeout:      opts.Timeout,
	}
	return s
}

// Handler returns the routed API with its middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness follows the enable switch of the update subsystem.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.orch.Enabled() {
			http.Error(w, "update subsystem disabled", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/versions", s.listVersions).Methods(http.MethodGet)
	api.HandleFunc("/versions/{component}", s.getVersion).Methods(http.MethodGet)
	api.HandleFunc("/session", s.getSession).Methods(http.MethodGet)

	auth := newAuthenticator(s.options.JWTSecret).middleware
	api.Handle("/sessions", auth(http.HandlerFunc(s.startSession))).Methods(http.MethodPost)
	api.Handle("/session", auth(http.HandlerFunc(s.cancelSession))).Methods(http.MethodDelete)
	api.Handle("/apps/versions", auth(http.HandlerFunc(s.setAppVersions))).Methods(http.MethodPut)
	api.Handle("/enable", auth(http.HandlerFunc(s.enable))).Methods(http.MethodPost)
	api.Handle("/disable", auth(http.HandlerFunc(s.disable))).Methods(http.MethodPost)

	cors := handlers.CORS(
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedOrigins(s.options.AllowedOrigins),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}), handlers.PrintRecoveryStack(false))
	return handlers.CustomLoggingHandler(nil, recovery(cors(r)), s.logRequest)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("Request served",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"took", time.Since(p.TimeStamp))
}

// recoveryLogger routes panics of handlers into the structured log.
type recoveryLogger struct {
	logger log.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error(nil, "Handler panicked", "panic", fmt.Sprint(v...))
}
