package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL              = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultRestURL            = "https://www.okx.com"
	DefaultPingInterval       = 20 * time.Second
	DefaultHeartbeatTimeout   = 30 * time.Second
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultHealthyPeriod      = 60 * time.Second
	DefaultSubscribeRate      = 5.0
	DefaultMessageBufferSize  = 100000
	DefaultMaxDepth           = 50
	DefaultSnapshotInterval   = 30 * time.Second
	DefaultSnapshotTimeout    = 5 * time.Second
	DefaultSnapshotMaxTimeout = time.Minute
	DefaultDedupTTL           = 10 * time.Minute
	DefaultDedupMax           = 100000
	DefaultLanes              = 8
	DefaultLaneBufferSize     = 1024
	DefaultLaneMaxBuffer      = 65536
	DefaultBatchSize          = 5000
	DefaultFlushInterval      = 150 * time.Millisecond
	DefaultHardCapFactor      = 20
	DefaultMaxRetries         = 8
	DefaultRetryBaseDelay     = 250 * time.Millisecond
	DefaultRetryMaxDelay      = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultMetricsPort        = 9108
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// DefaultInstruments and DefaultChannels mirror a typical perpetual swap setup.
var (
	DefaultInstruments = []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}
	DefaultChannels    = []string{"trades", "funding-rate", "mark-price", "tickers", "open-interest", "books"}
)

func (c *IngesterConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.RestURL == "" {
		c.Feed.RestURL = DefaultRestURL
	}
	if len(c.Feed.Instruments) == 0 {
		c.Feed.Instruments = append([]string(nil), DefaultInstruments...)
	}
	if len(c.Feed.Channels) == 0 {
		c.Feed.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.HeartbeatTimeout == 0 {
		c.Feed.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.HealthyPeriod == 0 {
		c.Feed.HealthyPeriod = DefaultHealthyPeriod
	}
	if c.Feed.SubscribeRate == 0 {
		c.Feed.SubscribeRate = DefaultSubscribeRate
	}
	if c.Feed.MessageBufferSize == 0 {
		c.Feed.MessageBufferSize = DefaultMessageBufferSize
	}

	// Books defaults
	if c.Books.MaxDepth == 0 {
		c.Books.MaxDepth = DefaultMaxDepth
	}
	if c.Books.SnapshotInterval == 0 {
		c.Books.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.Books.SnapshotTimeout == 0 {
		c.Books.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if c.Books.SnapshotMaxTimeout == 0 {
		c.Books.SnapshotMaxTimeout = max(DefaultSnapshotMaxTimeout, c.Books.SnapshotTimeout)
	}

	// Dedup defaults
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = DefaultDedupTTL
	}
	if c.Dedup.MaxPerInstrument == 0 {
		c.Dedup.MaxPerInstrument = DefaultDedupMax
	}

	// Pipeline defaults
	if c.Pipeline.Lanes == 0 {
		c.Pipeline.Lanes = DefaultLanes
	}
	if c.Pipeline.LaneBufferSize == 0 {
		c.Pipeline.LaneBufferSize = DefaultLaneBufferSize
	}
	if c.Pipeline.LaneMaxBuffer == 0 {
		c.Pipeline.LaneMaxBuffer = max(DefaultLaneMaxBuffer, c.Pipeline.LaneBufferSize)
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.HardCap == 0 {
		c.Writers.HardCap = c.Writers.BatchSize * DefaultHardCapFactor
	}
	if c.Writers.MaxRetries == 0 {
		c.Writers.MaxRetries = DefaultMaxRetries
	}
	if c.Writers.RetryBaseDelay == 0 {
		c.Writers.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Writers.RetryMaxDelay == 0 {
		c.Writers.RetryMaxDelay = DefaultRetryMaxDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
