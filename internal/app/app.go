// Package app wires configuration, the template cache, metrics and the registry
// into the operations exposed by the command line.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"idxtmpl/internal/app/registry"
	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/cache"
	"idxtmpl/internal/infra/esclient"
	"idxtmpl/internal/infra/telemetry"
)

// StoreFactory builds the document store client used by Update.
type StoreFactory func(cfg domain.StoreConfig, logger *zap.Logger) (domain.IndexStore, error)

type Options struct {
	Logger       *zap.Logger
	Stdout       io.Writer
	StoreFactory StoreFactory
}

type App struct {
	logger   *zap.Logger
	stdout   io.Writer
	newStore StoreFactory
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	factory := opts.StoreFactory
	if factory == nil {
		factory = NewStoreClient
	}
	return &App{
		logger:   logger.Named("app"),
		stdout:   stdout,
		newStore: factory,
	}
}

// NewStoreClient is the default StoreFactory.
func NewStoreClient(cfg domain.StoreConfig, logger *zap.Logger) (domain.IndexStore, error) {
	return esclient.New(esclient.Options{
		URL:        cfg.URL,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
		Logger:     logger,
	})
}

// session owns the cache and metrics of one command run.
type session struct {
	cfg      domain.Config
	cache    domain.TemplateCache
	gatherer *prometheus.Registry
	counters *domain.Counters
	metrics  domain.Metrics
	registry *registry.Registry
	logger   *zap.Logger
}

func (a *App) openSession(ctx context.Context, cfg domain.Config) (*session, error) {
	store, err := cache.Open(cfg.Cache, a.logger)
	if err != nil {
		return nil, err
	}
	gatherer := prometheus.NewRegistry()
	counters := domain.NewCounters()
	s := &session{
		cfg:      cfg,
		cache:    store,
		gatherer: gatherer,
		counters: counters,
		metrics:  telemetry.NewFanout(telemetry.NewPrometheusMetrics(gatherer), counters),
		logger:   a.logger,
	}
	if err := s.discover(ctx); err != nil {
		return nil, errors.Join(err, s.close())
	}
	return s, nil
}

// discover replaces the registry with a fresh discovery of the lib tree.
func (s *session) discover(ctx context.Context) error {
	r := registry.New(registry.Options{
		Prefix:     s.cfg.Prefix,
		LibDir:     s.cfg.LibDir,
		KnownTools: s.cfg.KnownTools,
		Cache:      s.cache,
		Metrics:    s.metrics,
		Logger:     s.logger,
	})
	if err := r.Discover(ctx); err != nil {
		return err
	}
	s.registry = r
	return nil
}

func (s *session) writeMetrics() error {
	return telemetry.WriteTextfile(s.cfg.Metrics.Textfile, s.gatherer)
}

func (s *session) close() error {
	var errs []error
	if err := s.writeMetrics(); err != nil {
		errs = append(errs, err)
	}
	if failures := s.counters.FailureSnapshot(); len(failures) > 0 {
		fields := make([]zap.Field, 0, len(failures))
		for _, reason := range s.counters.FailureReasons() {
			fields = append(fields, zap.Int(string(reason), failures[reason]))
		}
		s.logger.Warn("template failures", fields...)
	}
	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
