package cache

import (
	"fmt"

	"go.uber.org/zap"

	"idxtmpl/internal/domain"
)

// Open returns the template cache selected by cfg.
func Open(cfg domain.CacheConfig, logger *zap.Logger) (domain.TemplateCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := cfg.Backend
	if backend == "" {
		backend = domain.DefaultCacheBackend
	}
	switch backend {
	case domain.CacheBackendBolt:
		store, err := OpenBoltStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("template cache opened", zap.String("backend", string(backend)), zap.String("path", store.Path()))
		return store, nil
	case domain.CacheBackendSQLite:
		store, err := OpenSQLStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("template cache opened", zap.String("backend", string(backend)), zap.String("path", store.Path()))
		return store, nil
	case domain.CacheBackendMemory:
		logger.Debug("template cache opened", zap.String("backend", string(backend)))
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
