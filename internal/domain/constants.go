package domain

const (
	DefaultIndexPrefix          = "pbench"
	DefaultLibDir               = "/opt/pbench-server/lib"
	DefaultCacheBackend         = CacheBackendBolt
	DefaultCachePath            = "/var/lib/pbench-server/templates.db"
	DefaultStoreURL             = "http://localhost:9200"
	DefaultStoreTimeoutSeconds  = 30
	DefaultStoreMaxRetries      = 5
	DefaultStoreRetryBaseMillis = 250
	DefaultLogLevel             = "info"

	MappingsDir = "mappings"
	SettingsDir = "settings"

	// TimestampField is the top-level document field used to partition indices by date.
	TimestampField = "@timestamp"
	// MetaKey holds template version metadata in mapping files.
	MetaKey = "_meta"
	// PropertiesKey is the mapping-properties container.
	PropertiesKey = "properties"
	// AuthorizationProperty is injected into mappings of owned families.
	AuthorizationProperty = "authorization"
)

// CacheBackend selects the template cache implementation.
type CacheBackend string

const (
	CacheBackendBolt   CacheBackend = "bolt"
	CacheBackendSQLite CacheBackend = "sqlite"
	CacheBackendMemory CacheBackend = "memory"
)

// Config is the normalized runtime configuration.
type Config struct {
	Prefix     string
	LibDir     string
	KnownTools []string
	Cache      CacheConfig
	Store      StoreConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

type CacheConfig struct {
	Backend CacheBackend
	Path    string
}

type StoreConfig struct {
	URL             string
	TimeoutSeconds  int
	MaxRetries      int
	RetryBaseMillis int
}

type MetricsConfig struct {
	// Textfile is a node-exporter textfile written after each run.
	Textfile string
	// ListenAddress serves /metrics while watching.
	ListenAddress string
}

type LogConfig struct {
	Level string
}
