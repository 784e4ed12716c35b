package runtime

import (
	"fmt"
	"log/slog"

	"github.com/boerz-coding/camel/internal/config"
	"github.com/boerz-coding/camel/internal/storage"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig loads configuration from a YAML file plus TOKEND_
// environment overrides.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithStore overrides the usage store selected by configuration. A nil store
// disables usage recording.
func WithStore(store storage.UsageStore) Option {
	return func(s *Service) error {
		s.store = store
		s.storeSet = true
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}
