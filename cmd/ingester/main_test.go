package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/okx-data/internal/api"
	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/config"
	"github.com/rickgao/okx-data/internal/connection"
	"github.com/rickgao/okx-data/internal/pipeline"
	"github.com/rickgao/okx-data/internal/writer"
)

func TestSubscriptions(t *testing.T) {
	feed := config.FeedConfig{
		Instruments: []string{"BTC-USDT-SWAP", "BTC-USDT-240628"},
		Channels:    []string{"trades", "index-tickers"},
	}

	got := subscriptions(feed, map[string]string{"BTC-USDT-240628": "BTC-USDT"})
	assert.Equal(t, []codec.Arg{
		{Channel: "trades", InstID: "BTC-USDT-SWAP"},
		{Channel: "trades", InstID: "BTC-USDT-240628"},
		{Channel: "index-tickers", InstID: "BTC-USDT"},
	}, got)
}

func TestResolveIndexes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[{"instType":"SWAP","instId":"BTC-USD-SWAP","uly":"BTC-USD","state":"live"}]}`))
	}))
	defer server.Close()

	feed := config.FeedConfig{RestURL: server.URL, VerifyInstruments: true, Instruments: []string{"BTC-USD-SWAP"}}
	got, err := resolveIndexes(context.Background(), feed, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", got["BTC-USD-SWAP"])

	feed.Instruments = append(feed.Instruments, "GONE-USD-SWAP")
	_, err = resolveIndexes(context.Background(), feed, slog.Default())
	assert.ErrorIs(t, err, api.ErrUnknownInstrument)

	feed.VerifyInstruments = false
	got, err = resolveIndexes(context.Background(), feed, slog.Default())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexOf(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BTC-USDT-SWAP", "BTC-USDT"},
		{"ETH-USD-240628", "ETH-USD"},
		{"BTC-USDT", "BTC-USDT"},
		{"BTC", "BTC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, indexOf(tt.in), "indexOf(%q)", tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	l := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	assert.True(t, l.Enabled(ctx, slog.LevelWarn))

	l = newLogger(config.LogConfig{Level: "bogus"})
	assert.True(t, l.Enabled(ctx, slog.LevelInfo), "unknown level falls back to info")
}

func TestHealth(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	ps := pipeline.Stats{Books: 3, SyncedBooks: 2}
	ws := map[string]writer.WriterMetrics{
		"trades": {Buffered: 10, Inserted: 100},
	}

	h, ok := health("test", started, connection.StateStreaming, ps, ws)
	assert.True(t, ok)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Books["synced"])
	assert.Equal(t, 1, h.Books["awaiting_snapshot"])
	assert.Equal(t, int64(100), h.Tables["trades"].Inserted)

	_, ok = health("test", started, connection.StateConnecting, ps, ws)
	assert.False(t, ok, "not streaming is unhealthy")

	ws["trades"] = writer.WriterMetrics{Backpressured: true}
	h, ok = health("test", started, connection.StateStreaming, ps, ws)
	assert.False(t, ok)
	assert.Equal(t, "degraded", h.Status)
}
