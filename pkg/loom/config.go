package loom

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the loom engine.
type Config struct {
	// Schema contains configuration for the schema document store.
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Database contains configuration for the MySQL connection.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Encryption holds the key pair for encrypted fields. Both keys
	// empty disables the cipher; schemas using hash_key fields then
	// fail loudly at read/write time.
	Encryption EncryptionConfig `yaml:"encryption,omitempty" json:"encryption,omitempty"`

	// Cache contains configuration for the query-result cache.
	Cache CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Notifier contains configuration for the change-event notifier.
	Notifier NotifierConfig `yaml:"notifier,omitempty" json:"notifier,omitempty"`

	// ObjectStore contains configuration for the remote media store.
	ObjectStore ObjectStoreConfig `yaml:"objectstore,omitempty" json:"objectstore,omitempty"`

	// Media contains local media path settings.
	Media MediaConfig `yaml:"media,omitempty" json:"media,omitempty"`

	// Import contains batch-import throttling settings.
	Import ImportConfig `yaml:"import,omitempty" json:"import,omitempty"`
}

// SchemaConfig contains configuration for the schema document store.
type SchemaConfig struct {
	// Roots is the ordered list of directories searched for schema
	// documents. Earlier roots win.
	Roots []string `yaml:"roots" json:"roots"`

	// Languages is the list of content languages. Fields marked with
	// the :lang suffix expand into one column per language.
	Languages []string `yaml:"languages,omitempty" json:"languages,omitempty"`

	// DefaultLanguage is the language new sessions start in.
	DefaultLanguage string `yaml:"default_language,omitempty" json:"default_language,omitempty"`

	// Digits is the zero-padding width for multi-value field encoding.
	Digits int `yaml:"digits,omitempty" json:"digits,omitempty"`
}

// DatabaseConfig contains configuration for the MySQL connection pool.
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`

	// ConnectionTimeout is the timeout for establishing connections.
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// EncryptionConfig holds the key pair mixed into per-field encryption
// keys.
type EncryptionConfig struct {
	PublicKey string `yaml:"public_key,omitempty" json:"public_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
}

// CacheConfig contains configuration for the query-result cache.
type CacheConfig struct {
	// Enabled turns the result cache on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Type selects the backend: "memory", "redis" or "dynamodb".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// TTL is the lifetime of cached query results.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// Endpoints is the list of Redis endpoints.
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`

	// Password is the authentication password for Redis.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number (0-15).
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// PoolSize is the connection pool size per node.
	PoolSize int `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections in the pool.
	MinIdleConns int `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// Region is the AWS region for the DynamoDB backend.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// TableName is the DynamoDB table holding cache entries.
	TableName string `yaml:"table_name,omitempty" json:"table_name,omitempty"`

	// Endpoint is an optional custom endpoint (e.g. LocalStack).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey override the default AWS
	// credential chain when both are set.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// NotifierConfig contains configuration for the change-event notifier.
type NotifierConfig struct {
	// Type selects the backend: "none", "memory" or "kafka".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// BufferSize is the in-memory notifier's event buffer.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`

	// Brokers is a list of Kafka broker addresses.
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`

	// Topic is the Kafka topic change events are published to.
	Topic string `yaml:"topic,omitempty" json:"topic,omitempty"`

	// BatchSize is the batch size for the Kafka producer.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// BatchTimeout is the timeout for batching messages.
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`

	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// RequiredAcks is the number of acknowledgments required (0, 1, or -1 for all).
	RequiredAcks int `yaml:"required_acks,omitempty" json:"required_acks,omitempty"`
}

// ObjectStoreConfig contains configuration for the remote media store.
type ObjectStoreConfig struct {
	// Enabled turns the S3 object store on. Disabled, media
	// cache-busting falls back to local file times under
	// Media.PublicRoot.
	Enabled bool `yaml:"enabled" json:"enabled"`

	Region string `yaml:"region,omitempty" json:"region,omitempty"`
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`

	// Endpoint is an optional custom endpoint (e.g. MinIO).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`

	// CDNHost, when set, replaces the host part of public media URLs.
	CDNHost string `yaml:"cdn_host,omitempty" json:"cdn_host,omitempty"`

	// MetadataPath is the local file the object metadata cache
	// persists to.
	MetadataPath string `yaml:"metadata_path,omitempty" json:"metadata_path,omitempty"`
}

// MediaConfig contains local media path settings.
type MediaConfig struct {
	// PublicRoot is the local directory behind media URLs.
	PublicRoot string `yaml:"public_root,omitempty" json:"public_root,omitempty"`

	// PublicBase is the URL prefix media paths are published under.
	PublicBase string `yaml:"public_base,omitempty" json:"public_base,omitempty"`
}

// ImportConfig contains batch-import throttling settings.
type ImportConfig struct {
	// Rate is the maximum number of insert batches per second during
	// bulk import. Zero disables throttling.
	Rate float64 `yaml:"rate,omitempty" json:"rate,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schema: SchemaConfig{
			Roots:           []string{"schemas"},
			Languages:       []string{"EN"},
			DefaultLanguage: "EN",
			Digits:          4,
		},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              3306,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			Type:         "memory",
			TTL:          5 * time.Minute,
			Endpoints:    []string{"localhost:6379"},
			PoolSize:     10,
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Notifier: NotifierConfig{
			Type:         "none",
			BufferSize:   1024,
			Brokers:      []string{"localhost:9092"},
			Topic:        "loom-changes",
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: -1,
		},
		Media: MediaConfig{
			PublicBase: "/media",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions before any
// connection is attempted.
func (c *Config) Validate() error {
	if len(c.Schema.Roots) == 0 {
		return fmt.Errorf("at least one schema root is required")
	}
	if len(c.Schema.Languages) == 0 {
		return fmt.Errorf("at least one language is required")
	}
	if c.Schema.DefaultLanguage == "" {
		c.Schema.DefaultLanguage = c.Schema.Languages[0]
	}
	found := false
	for _, lang := range c.Schema.Languages {
		if lang == c.Schema.DefaultLanguage {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("default language %s is not in the language list", c.Schema.DefaultLanguage)
	}

	if (c.Encryption.PublicKey == "") != (c.Encryption.SecretKey == "") {
		return fmt.Errorf("encryption requires both public_key and secret_key")
	}

	if c.Cache.Enabled && c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}

	switch c.Notifier.Type {
	case "", "none", "memory":
	case "kafka":
		if len(c.Notifier.Brokers) == 0 {
			return fmt.Errorf("kafka notifier requires at least one broker")
		}
		if c.Notifier.Topic == "" {
			return fmt.Errorf("kafka notifier requires a topic")
		}
	default:
		return fmt.Errorf("unsupported notifier type: %s", c.Notifier.Type)
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Region == "" || c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object store requires region and bucket")
		}
	}

	return nil
}
