// Package server wires the Zubi HTTP surface: routes, middleware chain and
// lifecycle.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/zubi-app/zubi/pkg/server/chatloop"
	"github.com/zubi-app/zubi/pkg/server/config"
	"github.com/zubi-app/zubi/pkg/server/handlers"
	"github.com/zubi-app/zubi/pkg/server/metrics"
	"github.com/zubi-app/zubi/pkg/server/mw"
	"github.com/zubi-app/zubi/pkg/upstream/openai"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics *metrics.Metrics
}

// New builds a server around the given config. A nil logger falls back to
// slog.Default().
func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		metrics: metrics.New("zubi"),
	}

	provider := openai.New(cfg.OpenAIAPIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.Model),
	)
	controller := &chatloop.Controller{
		Provider:          provider,
		Logger:            logger,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		FollowUpMaxTokens: cfg.FollowUpMaxTokens,
		StreamIdleTimeout: cfg.StreamIdleTimeout,
	}

	s.mux.Handle("/api/health", handlers.HealthHandler{})
	s.mux.Handle("/api/chat", handlers.ChatHandler{
		Config:  cfg,
		Runner:  controller,
		Logger:  logger,
		Metrics: s.metrics,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// within the configured grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
