// Package config loads the runtime configuration from an optional YAML file,
// IDXTMPL_* environment variables and command-line flags.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"idxtmpl/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. IDXTMPL_CACHE_BACKEND.
const EnvPrefix = "IDXTMPL"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"prefix":         "prefix",
	"lib-dir":        "libDir",
	"known-tools":    "knownTools",
	"cache-backend":  "cache.backend",
	"cache-path":     "cache.path",
	"store-url":      "store.url",
	"metrics-file":   "metrics.textfile",
	"metrics-listen": "metrics.listenAddress",
	"log-level":      "log.level",
}

type Loader struct {
	logger *zap.Logger
}

type rawConfig struct {
	Prefix     string           `mapstructure:"prefix"`
	LibDir     string           `mapstructure:"libDir"`
	KnownTools []string         `mapstructure:"knownTools"`
	Cache      rawCacheConfig   `mapstructure:"cache"`
	Store      rawStoreConfig   `mapstructure:"store"`
	Metrics    rawMetricsConfig `mapstructure:"metrics"`
	Log        rawLogConfig     `mapstructure:"log"`
}

type rawCacheConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type rawStoreConfig struct {
	URL             string `mapstructure:"url"`
	TimeoutSeconds  int    `mapstructure:"timeoutSeconds"`
	MaxRetries      int    `mapstructure:"maxRetries"`
	RetryBaseMillis int    `mapstructure:"retryBaseMillis"`
}

type rawMetricsConfig struct {
	Textfile      string `mapstructure:"textfile"`
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawLogConfig struct {
	Level string `mapstructure:"level"`
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("prefix", domain.DefaultIndexPrefix)
	v.SetDefault("libDir", domain.DefaultLibDir)
	v.SetDefault("knownTools", []string{})
	v.SetDefault("cache.backend", string(domain.DefaultCacheBackend))
	v.SetDefault("cache.path", domain.DefaultCachePath)
	v.SetDefault("store.url", domain.DefaultStoreURL)
	v.SetDefault("store.timeoutSeconds", domain.DefaultStoreTimeoutSeconds)
	v.SetDefault("store.maxRetries", domain.DefaultStoreMaxRetries)
	v.SetDefault("store.retryBaseMillis", domain.DefaultStoreRetryBaseMillis)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listenAddress", "")
	v.SetDefault("log.level", domain.DefaultLogLevel)
}

// Load reads path when it is not empty, applies environment overrides and the flags
// of FlagKeys that were set, then validates the result.
func (l *Loader) Load(ctx context.Context, path string, flags *pflag.FlagSet) (domain.Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Config{}, fmt.Errorf("read config: %w", err)
		}
		expanded, missing, err := expandEnv(data)
		if err != nil {
			return domain.Config{}, err
		}
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
		}
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return domain.Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return domain.Config{}, err
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	cfg, errs := normalizeConfig(raw)
	if len(errs) > 0 {
		return domain.Config{}, domain.Errorf(domain.CodeInvalidArgument, "config.load", "%s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	names := make([]string, 0, len(FlagKeys))
	for name := range FlagKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(FlagKeys[name], flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func normalizeConfig(raw rawConfig) (domain.Config, []string) {
	var errs []string

	prefix := strings.TrimSpace(raw.Prefix)
	if prefix == "" {
		errs = append(errs, "prefix must not be empty")
	} else if strings.ContainsAny(prefix, "{}*") {
		errs = append(errs, fmt.Sprintf("prefix %q must not contain '{', '}' or '*'", prefix))
	}

	libDir := strings.TrimSpace(raw.LibDir)
	if libDir == "" {
		errs = append(errs, "libDir must not be empty")
	}

	backend := domain.CacheBackend(strings.ToLower(strings.TrimSpace(raw.Cache.Backend)))
	cachePath := strings.TrimSpace(raw.Cache.Path)
	switch backend {
	case domain.CacheBackendBolt, domain.CacheBackendSQLite:
		if cachePath == "" {
			errs = append(errs, fmt.Sprintf("cache.path is required for the %s backend", backend))
		}
	case domain.CacheBackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q must be bolt, sqlite or memory", raw.Cache.Backend))
	}

	if strings.TrimSpace(raw.Store.URL) == "" {
		errs = append(errs, "store.url must not be empty")
	}
	if raw.Store.TimeoutSeconds <= 0 {
		errs = append(errs, "store.timeoutSeconds must be > 0")
	}
	if raw.Store.MaxRetries < 0 {
		errs = append(errs, "store.maxRetries must be >= 0")
	}
	if raw.Store.RetryBaseMillis <= 0 {
		errs = append(errs, "store.retryBaseMillis must be > 0")
	}

	return domain.Config{
		Prefix:     prefix,
		LibDir:     libDir,
		KnownTools: normalizeTools(raw.KnownTools),
		Cache: domain.CacheConfig{
			Backend: backend,
			Path:    cachePath,
		},
		Store: domain.StoreConfig{
			URL:             strings.TrimSpace(raw.Store.URL),
			TimeoutSeconds:  raw.Store.TimeoutSeconds,
			MaxRetries:      raw.Store.MaxRetries,
			RetryBaseMillis: raw.Store.RetryBaseMillis,
		},
		Metrics: domain.MetricsConfig{
			Textfile:      strings.TrimSpace(raw.Metrics.Textfile),
			ListenAddress: strings.TrimSpace(raw.Metrics.ListenAddress),
		},
		Log: domain.LogConfig{
			Level: strings.TrimSpace(raw.Log.Level),
		},
	}, errs
}

func normalizeTools(tools []string) []string {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		for _, name := range strings.Split(tool, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
