package config

import (
	"errors"
	"fmt"
	"strings"
)

// supportedChannels lists the public channels the pipeline knows how to normalize.
var supportedChannels = map[string]bool{
	"trades":         true,
	"books":          true,
	"books-l2-tbt":   true,
	"books50-l2-tbt": true,
	"books5":         true,
	"tickers":        true,
	"funding-rate":   true,
	"mark-price":     true,
	"open-interest":  true,
	"index-tickers":  true,
}

// Validate checks that all required fields are set and values are valid.
func (c *IngesterConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}

	if err := c.Feed.validate(); err != nil {
		return err
	}

	if c.Books.MaxDepth < 1 {
		return errors.New("books.max_depth must be >= 1")
	}
	if c.Books.SnapshotInterval < 0 {
		return errors.New("books.snapshot_interval must be >= 0")
	}
	if c.Books.SnapshotTimeout <= 0 {
		return errors.New("books.snapshot_timeout must be > 0")
	}
	if c.Books.SnapshotMaxTimeout < c.Books.SnapshotTimeout {
		return errors.New("books.snapshot_max_timeout must be >= books.snapshot_timeout")
	}

	if c.Dedup.TTL <= 0 {
		return errors.New("dedup.ttl must be > 0")
	}
	if c.Dedup.MaxPerInstrument < 1 {
		return errors.New("dedup.max_per_instrument must be >= 1")
	}

	if c.Pipeline.Lanes < 1 {
		return errors.New("pipeline.lanes must be >= 1")
	}
	if c.Pipeline.LaneBufferSize < 1 {
		return errors.New("pipeline.lane_buffer_size must be >= 1")
	}
	if c.Pipeline.LaneMaxBuffer < c.Pipeline.LaneBufferSize {
		return fmt.Errorf("pipeline.lane_max_buffer (%d) cannot be below lane_buffer_size (%d)",
			c.Pipeline.LaneMaxBuffer, c.Pipeline.LaneBufferSize)
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.FlushInterval <= 0 {
		return errors.New("writers.flush_interval must be > 0")
	}
	if c.Writers.HardCap < c.Writers.BatchSize {
		return fmt.Errorf("writers.hard_cap (%d) cannot be below batch_size (%d)", c.Writers.HardCap, c.Writers.BatchSize)
	}
	if c.Writers.MaxRetries < 1 {
		return errors.New("writers.max_retries must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (f *FeedConfig) validate() error {
	if !strings.HasPrefix(f.WSURL, "ws://") && !strings.HasPrefix(f.WSURL, "wss://") {
		return fmt.Errorf("feed.ws_url must be a ws:// or wss:// URL, got %q", f.WSURL)
	}
	if !strings.HasPrefix(f.RestURL, "http://") && !strings.HasPrefix(f.RestURL, "https://") {
		return fmt.Errorf("feed.rest_url must be an http:// or https:// URL, got %q", f.RestURL)
	}
	if len(f.Instruments) == 0 {
		return errors.New("feed.instruments must not be empty")
	}
	for _, inst := range f.Instruments {
		if strings.TrimSpace(inst) == "" {
			return errors.New("feed.instruments contains an empty instrument")
		}
	}
	if len(f.Channels) == 0 {
		return errors.New("feed.channels must not be empty")
	}
	for _, ch := range f.Channels {
		if !supportedChannels[ch] {
			return fmt.Errorf("feed.channels: unsupported channel %q", ch)
		}
	}
	if f.HeartbeatTimeout <= f.PingInterval {
		return fmt.Errorf("feed.heartbeat_timeout (%s) must exceed ping_interval (%s)", f.HeartbeatTimeout, f.PingInterval)
	}
	if f.ReconnectMaxDelay < f.ReconnectBaseDelay {
		return errors.New("feed.reconnect_max_delay cannot be below reconnect_base_delay")
	}
	if f.SubscribeRate <= 0 {
		return errors.New("feed.subscribe_rate must be > 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
