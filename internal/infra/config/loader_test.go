package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"idxtmpl/internal/domain"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idxtmpl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600))
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), "", nil)
	require.NoError(t, err)

	expect := domain.Config{
		Prefix:     domain.DefaultIndexPrefix,
		LibDir:     domain.DefaultLibDir,
		KnownTools: []string{},
		Cache: domain.CacheConfig{
			Backend: domain.DefaultCacheBackend,
			Path:    domain.DefaultCachePath,
		},
		Store: domain.StoreConfig{
			URL:             domain.DefaultStoreURL,
			TimeoutSeconds:  domain.DefaultStoreTimeoutSeconds,
			MaxRetries:      domain.DefaultStoreMaxRetries,
			RetryBaseMillis: domain.DefaultStoreRetryBaseMillis,
		},
		Log: domain.LogConfig{Level: domain.DefaultLogLevel},
	}
	if diff := cmp.Diff(expect, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("IDXTMPL_TEST_LIB", "/srv/pbench/lib")
	t.Setenv("IDXTMPL_TEST_RETRIES", "2")
	file := writeTempConfig(t, `
prefix: drb
libDir: ${IDXTMPL_TEST_LIB}
knownTools: [vmstat, iostat, iostat]
cache:
  backend: SQLite
  path: /tmp/templates.sqlite
store:
  url: http://es.example.com:9200
  maxRetries: ${IDXTMPL_TEST_RETRIES}
metrics:
  textfile: /var/lib/node_exporter/idxtmpl.prom
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), file, nil)
	require.NoError(t, err)
	require.Equal(t, "drb", cfg.Prefix)
	require.Equal(t, "/srv/pbench/lib", cfg.LibDir)
	require.Equal(t, []string{"iostat", "vmstat"}, cfg.KnownTools)
	require.Equal(t, domain.CacheBackendSQLite, cfg.Cache.Backend)
	require.Equal(t, "/tmp/templates.sqlite", cfg.Cache.Path)
	require.Equal(t, "http://es.example.com:9200", cfg.Store.URL)
	require.Equal(t, 2, cfg.Store.MaxRetries)
	require.Equal(t, domain.DefaultStoreTimeoutSeconds, cfg.Store.TimeoutSeconds)
	require.Equal(t, "/var/lib/node_exporter/idxtmpl.prom", cfg.Metrics.Textfile)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("IDXTMPL_PREFIX", "envprefix")
	t.Setenv("IDXTMPL_CACHE_BACKEND", "memory")

	file := writeTempConfig(t, `prefix: drb`)
	cfg, err := NewLoader(nil).Load(context.Background(), file, nil)
	require.NoError(t, err)
	require.Equal(t, "envprefix", cfg.Prefix)
	require.Equal(t, domain.CacheBackendMemory, cfg.Cache.Backend)
}

func TestLoader_FlagsOverrideFileAndEnv(t *testing.T) {
	t.Setenv("IDXTMPL_PREFIX", "envprefix")
	file := writeTempConfig(t, `
prefix: drb
libDir: /from/file
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("prefix", "", "")
	flags.String("lib-dir", "", "")
	flags.StringSlice("known-tools", nil, "")
	require.NoError(t, flags.Parse([]string{"--prefix", "flagprefix", "--known-tools", "vmstat,mpstat"}))

	cfg, err := NewLoader(nil).Load(context.Background(), file, flags)
	require.NoError(t, err)
	require.Equal(t, "flagprefix", cfg.Prefix)
	require.Equal(t, "/from/file", cfg.LibDir)
	require.Equal(t, []string{"mpstat", "vmstat"}, cfg.KnownTools)
}

func TestLoader_ValidationErrors(t *testing.T) {
	file := writeTempConfig(t, `
prefix: "bad{prefix}"
cache:
  backend: redis
store:
  timeoutSeconds: 0
  retryBaseMillis: -1
`)
	_, err := NewLoader(nil).Load(context.Background(), file, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Contains(t, err.Error(), "prefix")
	require.Contains(t, err.Error(), "cache.backend")
	require.Contains(t, err.Error(), "store.timeoutSeconds")
	require.Contains(t, err.Error(), "store.retryBaseMillis")
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestExpandEnv_ReportsMissing(t *testing.T) {
	expanded, missing, err := expandEnv([]byte("libDir: ${IDXTMPL_TEST_UNSET_VAR}\nprefix: '${IDXTMPL_TEST_UNSET_VAR}x'\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"IDXTMPL_TEST_UNSET_VAR"}, missing)

	var got map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(expanded), &got))
	require.Equal(t, map[string]string{"libDir": "", "prefix": "x"}, got)
}

func TestExpandEnv_DefaultsAndEscapes(t *testing.T) {
	t.Setenv("IDXTMPL_TEST_EMPTY", "")
	t.Setenv("IDXTMPL_TEST_RETRIES", "7")
	raw := "store:\n" +
		"  url: ${IDXTMPL_TEST_UNSET_URL:-http://es:9200}\n" +
		"  maxRetries: $IDXTMPL_TEST_RETRIES\n" +
		"prefix: ${IDXTMPL_TEST_EMPTY:-drb}\n" +
		"libDir: /srv/$$lib\n" +
		"log:\n" +
		"  level: \"${IDXTMPL_TEST_RETRIES}\"\n"

	expanded, missing, err := expandEnv([]byte(raw))
	require.NoError(t, err)
	require.Empty(t, missing)

	var got struct {
		Prefix string `yaml:"prefix"`
		LibDir string `yaml:"libDir"`
		Store  struct {
			URL        string `yaml:"url"`
			MaxRetries int    `yaml:"maxRetries"`
		} `yaml:"store"`
		Log struct {
			Level string `yaml:"level"`
		} `yaml:"log"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(expanded), &got))
	require.Equal(t, "drb", got.Prefix)
	require.Equal(t, "/srv/$lib", got.LibDir)
	require.Equal(t, "http://es:9200", got.Store.URL)
	require.Equal(t, 7, got.Store.MaxRetries)
	require.Equal(t, "7", got.Log.Level)
}

func TestPlainTag(t *testing.T) {
	cases := []struct {
		value string
		want  string
	}{
		{value: "", want: "!!str"},
		{value: "true", want: "!!bool"},
		{value: "42", want: "!!int"},
		{value: "0.5", want: "!!float"},
		{value: "inf", want: "!!str"},
		{value: " 3", want: "!!str"},
		{value: "http://localhost:9200", want: "!!str"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, plainTag(tc.value), "value %q", tc.value)
	}
}
