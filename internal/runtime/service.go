// Package runtime assembles the token counting service and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/boerz-coding/camel/internal/budget"
	"github.com/boerz-coding/camel/internal/config"
	"github.com/boerz-coding/camel/internal/frontdoor"
	"github.com/boerz-coding/camel/internal/metrics"
	"github.com/boerz-coding/camel/internal/server"
	"github.com/boerz-coding/camel/internal/storage"
	"github.com/boerz-coding/camel/internal/storage/memory"
	"github.com/boerz-coding/camel/internal/storage/sqlite"
	"github.com/boerz-coding/camel/internal/tokens"
)

// Service is the token counting HTTP service.
// It can be embedded in larger applications or run standalone.
type Service struct {
	// Dependencies (injected via options)
	cfg      *config.Config
	store    storage.UsageStore
	storeSet bool
	logger   *slog.Logger

	// Built by New
	rules   *tokens.RuleSet
	counter *tokens.Registry
	metrics *metrics.Metrics
	server  *server.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New creates a Service with the given options. A config is required; the
// usage store is built from it unless WithStore was given.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		return nil, errors.New("config required (use WithConfig or WithFileConfig)")
	}

	rules, err := s.cfg.RuleSet()
	if err != nil {
		return nil, fmt.Errorf("build counting rules: %w", err)
	}
	s.rules = rules

	openai := tokens.NewOpenAICounter(rules)
	s.counter = tokens.NewRegistry()
	s.counter.Register(openai)
	if s.cfg.Counting.AllowEstimate {
		s.logger.Info("estimating tokens for models without a counting rule")
		s.counter.SetFallback(tokens.NewEstimator())
	}

	if !s.storeSet {
		store, err := openStore(s.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open usage store: %w", err)
		}
		s.store = store
	}

	timeout, err := s.cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	serverOpts := server.Options{
		Port:               s.cfg.Server.Port,
		RequestTimeout:     timeout,
		ServiceName:        s.cfg.Telemetry.ServiceName,
		RateLimitPerMinute: s.cfg.Server.RateLimitPerMinute,
	}
	if s.cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		serverOpts.Middleware = append(serverOpts.Middleware, s.metrics.HTTPMiddleware)
	}
	s.server = server.New(serverOpts, s.logger)

	frontdoor.NewHandler(frontdoor.Config{
		Counter: s.counter,
		Rules:   rules,
		Checker: budget.NewChecker(s.counter, s.cfg.Budget.ReserveCompletionTokens),
		Store:   s.store,
		Metrics: s.metrics,
		Auth:    s.cfg.Authenticator(),
	}, s.logger).Mount(s.server.Router)

	if s.metrics != nil {
		s.server.Router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.logger.Info("token service configured",
		slog.String("rules_version", rules.Version()),
		slog.Int("rules", len(rules.Rules())),
		slog.String("storage", s.cfg.Storage.Type),
		slog.Bool("allow_estimate", s.cfg.Counting.AllowEstimate),
		slog.Bool("metrics", s.metrics != nil),
		slog.Int("api_keys", len(s.cfg.Auth.APIKeys)),
	)
	return s, nil
}

// openStore returns nil for the "none" storage type.
func openStore(cfg config.StorageConfig) (storage.UsageStore, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		return memory.New(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Handler exposes the routed HTTP handler, mainly for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.server.Router
}

// Counter returns the registry used to count requests.
func (s *Service) Counter() *tokens.Registry {
	return s.counter
}

// Start listens on the configured port and serves in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("service already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	go func() {
		s.done <- s.server.Serve(ln)
	}()

	s.logger.Info("token service started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server and closes the usage store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down token service")

	var errs []error
	if s.listener != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		} else if err := <-s.done; err != nil {
			errs = append(errs, err)
		}
		s.listener = nil
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close storage", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	s.logger.Info("token service shutdown complete")
	return errors.Join(errs...)
}
