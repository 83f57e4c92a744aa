package connection

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/okx-data/internal/codec"
)

type wireRequest struct {
	Op   string      `json:"op"`
	Args []codec.Arg `json:"args"`
}

// readRequest reads the next non-ping request from conn.
func readRequest(conn *websocket.Conn) (wireRequest, error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return wireRequest{}, err
		}
		if string(msg) == "ping" {
			continue
		}
		var req wireRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			return wireRequest{}, err
		}
		return req, nil
	}
}

func testSessionConfig(url string, subs []codec.Arg) SessionConfig {
	return SessionConfig{
		WSURL:              url,
		Subscriptions:      subs,
		PingInterval:       time.Second,
		HeartbeatTimeout:   5 * time.Second,
		WriteTimeout:       time.Second,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		HealthyPeriod:      time.Minute,
		SubscribeRate:      1000,
		MessageBufferSize:  100,
	}
}

func nextMessage(t *testing.T, s *Session) RawMessage {
	t.Helper()
	select {
	case msg := <-s.Messages():
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timeout waiting for session message")
		return RawMessage{}
	}
}

func stopSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func bookFrame(inst string, seq int64) string {
	return fmt.Sprintf(`{"arg":{"channel":"books","instId":%q},"action":"update","data":[{"asks":[],"bids":[],"ts":"1","seqId":%d,"prevSeqId":%d}]}`,
		inst, seq, seq-1)
}

func TestSession_SubscribesInChunks(t *testing.T) {
	var subs []codec.Arg
	for i := range 21 {
		subs = append(subs, codec.Arg{Channel: codec.ChannelTrades, InstID: fmt.Sprintf("INST-%02d", i)})
	}
	for i := range 4 {
		subs = append(subs, codec.Arg{Channel: codec.ChannelBooks, InstID: fmt.Sprintf("INST-%02d", i)})
	}

	requests := make(chan wireRequest, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for range 2 {
			req, err := readRequest(conn)
			if err != nil {
				return
			}
			requests <- req
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"trades","instId":"INST-00"},"connId":"a"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","code":"60018","msg":"bad channel"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"trades","instId":"INST-00"},"data":[]}`))
		drain(conn)
	})
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server), subs), nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stopSession(t, s)

	reset := nextMessage(t, s)
	require.True(t, reset.IsReset(), "first message is a reset")
	require.Len(t, reset.Reset, 4)
	for _, a := range reset.Reset {
		assert.Equal(t, codec.ChannelBooks, a.Channel, "reset includes non-book arg %v", a)
	}

	first, second := <-requests, <-requests
	assert.Equal(t, codec.OpSubscribe, first.Op)
	assert.Len(t, first.Args, 20)
	assert.Equal(t, codec.OpSubscribe, second.Op)
	assert.Len(t, second.Args, 5)

	data := nextMessage(t, s)
	assert.False(t, data.IsReset())
	assert.Equal(t, `{"arg":{"channel":"trades","instId":"INST-00"},"data":[]}`, string(data.Data), "only the data frame is forwarded")

	assert.Equal(t, StateStreaming, s.State())
	assert.EqualValues(t, 1, s.Stats().EventErrors)
}

func TestSession_ReconnectResetsBooksBeforeIncrements(t *testing.T) {
	subs := []codec.Arg{{Channel: codec.ChannelBooks, InstID: "BTC-USDT-SWAP"}}

	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if _, err := readRequest(conn); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(bookFrame("BTC-USDT-SWAP", int64(n)*100)))
		if n == 1 {
			return // drop the first connection
		}
		drain(conn)
	})
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server), subs), nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stopSession(t, s)

	want := []string{"reset", bookFrame("BTC-USDT-SWAP", 100), "reset", bookFrame("BTC-USDT-SWAP", 200)}
	for i, w := range want {
		msg := nextMessage(t, s)
		got := string(msg.Data)
		if msg.IsReset() {
			got = "reset"
		}
		require.Equal(t, w, got, "message %d", i)
	}

	assert.GreaterOrEqual(t, s.Stats().Reconnects, int64(1))
}

func TestSession_RequestResync(t *testing.T) {
	subs := []codec.Arg{
		{Channel: codec.ChannelBooks, InstID: "BTC-USDT-SWAP"},
		{Channel: codec.ChannelBooks, InstID: "ETH-USDT-SWAP"},
	}

	requests := make(chan wireRequest, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			req, err := readRequest(conn)
			if err != nil {
				return
			}
			requests <- req
		}
	})
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server), subs), nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stopSession(t, s)

	nextMessage(t, s) // reset
	<-requests        // initial subscribe

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateStreaming && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.RequestResync(codec.ChannelBooks, "ETH-USDT-SWAP")
	s.RequestResync(codec.ChannelBooks, "ETH-USDT-SWAP")

	want := []string{codec.OpUnsubscribe, codec.OpSubscribe}
	for _, op := range want {
		select {
		case req := <-requests:
			require.Equal(t, op, req.Op)
			require.Len(t, req.Args, 1)
			require.Equal(t, "ETH-USDT-SWAP", req.Args[0].InstID)
		case <-time.After(2 * time.Second):
			require.FailNowf(t, "timeout", "waiting for %s", op)
		}
	}

	select {
	case req := <-requests:
		assert.Failf(t, "unexpected extra request", "%+v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_StopClosesMessages(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	subs := []codec.Arg{{Channel: codec.ChannelTrades, InstID: "BTC-USDT-SWAP"}}
	s := NewSession(testSessionConfig(wsURL(server), subs), nil, nil)
	require.NoError(t, s.Start(context.Background()))
	stopSession(t, s)

	_, ok := <-s.Messages()
	assert.False(t, ok, "Messages channel still open after Stop")
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_StartWithoutSubscriptions(t *testing.T) {
	s := NewSession(SessionConfig{WSURL: "ws://localhost:1"}, nil, nil)
	assert.Error(t, s.Start(context.Background()), "empty subscriptions")
}
