package app

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/telemetry"
	"idxtmpl/internal/infra/watch"
)

type UpdateOptions struct {
	// Target restricts the push to one family key, e.g. "run".
	Target string
	// Watch keeps running and pushes again whenever template sources change.
	Watch bool
}

// Update discovers and resolves the templates, then registers them with the store.
func (a *App) Update(ctx context.Context, cfg domain.Config, opts UpdateOptions) (err error) {
	var target *domain.Family
	if opts.Target != "" {
		family, ok := domain.ParseFamily(opts.Target)
		if !ok {
			return domain.Errorf(domain.CodeInvalidArgument, "app.update", "unknown target template family %q", opts.Target)
		}
		target = &family
	}

	store, err := a.newStore(cfg.Store, a.logger)
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := a.push(ctx, s, store, target); err != nil {
		return err
	}
	if !opts.Watch {
		return nil
	}
	return a.watch(ctx, s, store, target)
}

func (a *App) push(ctx context.Context, s *session, store domain.IndexStore, target *domain.Family) error {
	summary, err := s.registry.PushAll(ctx, store, target)
	if err != nil {
		return err
	}
	a.logger.Info("templates updated",
		telemetry.BatchIDField(summary.BatchID),
		zap.Int("successes", summary.Successes),
		zap.Int("retries", summary.Retries),
		telemetry.DurationField(summary.Duration()),
	)
	return nil
}

func (a *App) watch(ctx context.Context, s *session, store domain.IndexStore, target *domain.Family) error {
	if addr := s.cfg.Metrics.ListenAddress; addr != "" {
		go func() {
			opts := telemetry.HTTPServerOptions{Addr: addr, Registry: s.gatherer}
			if err := telemetry.StartMetricsServer(ctx, opts, a.logger); err != nil {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	watcher := watch.New(watch.Options{
		Dirs: []string{
			filepath.Join(s.cfg.LibDir, domain.MappingsDir),
			filepath.Join(s.cfg.LibDir, domain.SettingsDir),
		},
		Logger: a.logger,
	})
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("watching template sources", zap.String("lib_dir", s.cfg.LibDir))

	for range changes {
		if err := s.discover(ctx); err != nil {
			a.logger.Error("template discovery failed; keeping previous templates", zap.Error(err))
			continue
		}
		if err := a.push(ctx, s, store, target); err != nil {
			a.logger.Error("template update failed", zap.Error(err))
			continue
		}
		if err := s.writeMetrics(); err != nil {
			a.logger.Warn("metrics textfile not written", zap.Error(err))
		}
	}
	return nil
}
