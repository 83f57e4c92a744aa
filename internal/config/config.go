package config

import "time"

// IngesterConfig is the root configuration for an ingester instance.
type IngesterConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Books    BooksConfig    `yaml:"books"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Writers  WritersConfig  `yaml:"writers"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this ingester.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds the streaming endpoint and session settings.
type FeedConfig struct {
	WSURL              string        `yaml:"ws_url"`
	RestURL            string        `yaml:"rest_url"`
	VerifyInstruments  bool          `yaml:"verify_instruments"` // Check instruments against the REST instrument list at startup
	Instruments        []string      `yaml:"instruments"`
	Channels           []string      `yaml:"channels"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"` // No inbound traffic for this long = dead connection
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HealthyPeriod      time.Duration `yaml:"healthy_period"` // Streaming this long resets reconnect backoff
	SubscribeRate      float64       `yaml:"subscribe_rate"` // Subscribe requests per second
	MessageBufferSize  int           `yaml:"message_buffer_size"`
}

// BooksConfig holds order book reconstruction settings.
type BooksConfig struct {
	MaxDepth         int           `yaml:"max_depth"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"` // 0 disables periodic snapshots
	VerifyChecksum   bool          `yaml:"verify_checksum"`

	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout"`     // Await a snapshot this long before requesting it again
	SnapshotMaxTimeout time.Duration `yaml:"snapshot_max_timeout"` // Cap for the doubling wait between requests
}

// DedupConfig holds trade deduplication settings.
type DedupConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	MaxPerInstrument int           `yaml:"max_per_instrument"`
}

// PipelineConfig holds ordered lane settings.
type PipelineConfig struct {
	Lanes          int `yaml:"lanes"`
	LaneBufferSize int `yaml:"lane_buffer_size"` // Initial per-lane queue capacity
	LaneMaxBuffer  int `yaml:"lane_max_buffer"`  // Queue limit; the router blocks beyond it
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	HardCap        int           `yaml:"hard_cap"` // Buffered + in-flight rows per table before Append blocks
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// DatabaseConfig holds the TimescaleDB connection for time-series data.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
	Migrate   bool     `yaml:"migrate"` // Apply embedded schema migrations on startup
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
