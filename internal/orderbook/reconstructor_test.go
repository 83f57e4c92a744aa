package orderbook

import (
	"fmt"
	"hash/crc32"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/okx-data/internal/codec"
)

type resyncRecorder struct {
	calls []codec.Arg
}

func (r *resyncRecorder) RequestResync(channel, instID string) {
	r.calls = append(r.calls, codec.Arg{Channel: channel, InstID: instID})
}

func lvl(px, sz string) codec.Level {
	return codec.Level{
		Price: decimal.RequireFromString(px),
		Size:  decimal.RequireFromString(sz),
		Px:    px,
		Sz:    sz,
	}
}

func snapshotMsg(inst string, seq int64, bids, asks []codec.Level) *codec.BookMessage {
	return &codec.BookMessage{
		InstID:    inst,
		Channel:   codec.ChannelBooks,
		Action:    codec.ActionSnapshot,
		SeqID:     seq,
		PrevSeqID: -1,
		Bids:      bids,
		Asks:      asks,
		TsMs:      1700000000000 + seq,
	}
}

func updateMsg(inst string, prev, seq int64, bids, asks []codec.Level) *codec.BookMessage {
	return &codec.BookMessage{
		InstID:    inst,
		Channel:   codec.ChannelBooks,
		Action:    codec.ActionUpdate,
		SeqID:     seq,
		PrevSeqID: prev,
		Bids:      bids,
		Asks:      asks,
		TsMs:      1700000000000 + seq,
	}
}

func newTestReconstructor(cfg Config) (*Reconstructor, *resyncRecorder) {
	rec := &resyncRecorder{}
	return NewReconstructor(codec.ChannelBooks, "BTC-TEST", cfg, rec, nil), rec
}

func TestUpdatesDiscardedBeforeSnapshot(t *testing.T) {
	r, rec := newTestReconstructor(DefaultConfig())

	res := r.Apply(updateMsg("BTC-TEST", 99, 100, []codec.Level{lvl("100", "1")}, nil))
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Equal(t, AwaitingSnapshot, r.State())
	assert.Empty(t, rec.calls, "discarding while awaiting a snapshot must not request a resync")
	assert.Equal(t, int64(1), r.Stats().Discarded)
}

func TestSnapshotThenDeleteLevel(t *testing.T) {
	r, rec := newTestReconstructor(DefaultConfig())

	res := r.Apply(snapshotMsg("BTC-TEST", 100,
		[]codec.Level{lvl("100.5", "2"), lvl("100.4", "3"), lvl("100.3", "1")},
		[]codec.Level{lvl("100.6", "1"), lvl("100.7", "4")},
	))
	require.Equal(t, OutcomeSnapshot, res.Outcome)
	require.NotNil(t, res.Snapshot)
	assert.Len(t, res.Snapshot.Bids, 3)
	assert.Equal(t, Synced, r.State())
	assert.Equal(t, int64(100), r.LastSeqID())

	res = r.Apply(updateMsg("BTC-TEST", 100, 101, []codec.Level{lvl("100.4", "0")}, nil))
	assert.Equal(t, OutcomeUpdate, res.Outcome)
	assert.Equal(t, Synced, r.State())
	assert.Equal(t, int64(101), r.LastSeqID())
	assert.Empty(t, rec.calls)

	bids := r.Book().Bids(0)
	require.Len(t, bids, 2)
	assert.Equal(t, "100.5", bids[0].Px)
	assert.Equal(t, "100.3", bids[1].Px)
	assert.Len(t, r.Book().Asks(0), 2)
}

func TestSeqGapTriggersOneResync(t *testing.T) {
	r, rec := newTestReconstructor(DefaultConfig())
	r.Apply(snapshotMsg("BTC-TEST", 100, []codec.Level{lvl("100", "1")}, []codec.Level{lvl("101", "1")}))

	res := r.Apply(updateMsg("BTC-TEST", 105, 106, []codec.Level{lvl("99", "5")}, nil))
	assert.Equal(t, OutcomeResync, res.Outcome)
	assert.Equal(t, ReasonSeqGap, res.Reason)
	assert.ErrorIs(t, res.Err, ErrSeqGap)
	assert.Equal(t, AwaitingSnapshot, r.State())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, codec.Arg{Channel: codec.ChannelBooks, InstID: "BTC-TEST"}, rec.calls[0])

	// The last consistent book is handed back, without the rejected increment.
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, int64(100), res.Snapshot.SeqID)
	require.Len(t, res.Snapshot.Bids, 1)
	assert.Equal(t, "100", res.Snapshot.Bids[0].Px)

	bids, asks := r.Book().Depth()
	assert.Zero(t, bids)
	assert.Zero(t, asks)

	// Increments after the gap are discarded, not resynced again.
	res = r.Apply(updateMsg("BTC-TEST", 106, 107, nil, nil))
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, int64(1), r.Stats().Resyncs)

	// The next snapshot is applied in full.
	res = r.Apply(snapshotMsg("BTC-TEST", 200, []codec.Level{lvl("98", "2"), lvl("97", "2")}, []codec.Level{lvl("99", "1")}))
	assert.Equal(t, OutcomeSnapshot, res.Outcome)
	assert.Equal(t, Synced, r.State())
	assert.Equal(t, int64(200), r.LastSeqID())
	bids, asks = r.Book().Depth()
	assert.Equal(t, 2, bids)
	assert.Equal(t, 1, asks)
}

func TestChecksumMismatchTriggersOneResync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyChecksum = true
	cfg.Checksum = func(bids, asks []codec.Level) int32 { return 42 }
	r, rec := newTestReconstructor(cfg)

	r.Apply(snapshotMsg("BTC-TEST", 100, []codec.Level{lvl("100", "1")}, []codec.Level{lvl("101", "1")}))

	ok := updateMsg("BTC-TEST", 100, 101, []codec.Level{lvl("100", "2")}, nil)
	ok.Checksum, ok.HasChecksum = 42, true
	assert.Equal(t, OutcomeUpdate, r.Apply(ok).Outcome)
	assert.Equal(t, int32(42), r.LastChecksum())

	bad := updateMsg("BTC-TEST", 101, 102, []codec.Level{lvl("100", "3")}, nil)
	bad.Checksum, bad.HasChecksum = 7, true
	res := r.Apply(bad)
	assert.Equal(t, OutcomeResync, res.Outcome)
	assert.Equal(t, ReasonChecksum, res.Reason)
	assert.ErrorIs(t, res.Err, ErrChecksumMismatch)
	assert.Nil(t, res.Snapshot, "a diverged book must not be emitted")
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, AwaitingSnapshot, r.State())
}

func TestChecksumIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checksum = func(bids, asks []codec.Level) int32 { return 1 }
	r, rec := newTestReconstructor(cfg)

	r.Apply(snapshotMsg("BTC-TEST", 1, []codec.Level{lvl("100", "1")}, nil))
	m := updateMsg("BTC-TEST", 1, 2, []codec.Level{lvl("100", "2")}, nil)
	m.Checksum, m.HasChecksum = 999, true

	assert.Equal(t, OutcomeUpdate, r.Apply(m).Outcome)
	assert.Empty(t, rec.calls)
}

func TestHeartbeatUpdate(t *testing.T) {
	r, rec := newTestReconstructor(DefaultConfig())
	r.Apply(snapshotMsg("BTC-TEST", 100, []codec.Level{lvl("100", "1")}, nil))

	res := r.Apply(updateMsg("BTC-TEST", 100, 100, nil, nil))
	assert.Equal(t, OutcomeHeartbeat, res.Outcome)
	assert.Equal(t, Synced, r.State())
	assert.Equal(t, int64(100), r.LastSeqID())
	assert.Empty(t, rec.calls)

	assert.Equal(t, OutcomeUpdate, r.Apply(updateMsg("BTC-TEST", 100, 101, nil, []codec.Level{lvl("101", "1")})).Outcome)
}

func TestSequenceResetAccepted(t *testing.T) {
	// After exchange maintenance seqId may be lower than prevSeqId; continuity
	// is still judged by prevSeqId alone.
	r, rec := newTestReconstructor(DefaultConfig())
	r.Apply(snapshotMsg("BTC-TEST", 500, []codec.Level{lvl("100", "1")}, nil))

	res := r.Apply(updateMsg("BTC-TEST", 500, 3, []codec.Level{lvl("100", "4")}, nil))
	assert.Equal(t, OutcomeUpdate, res.Outcome)
	assert.Equal(t, int64(3), r.LastSeqID())
	assert.Empty(t, rec.calls)
}

func TestSnapshotWhileSyncedReplacesBook(t *testing.T) {
	r, _ := newTestReconstructor(DefaultConfig())
	r.Apply(snapshotMsg("BTC-TEST", 1, []codec.Level{lvl("100", "1"), lvl("99", "1")}, nil))
	r.Apply(snapshotMsg("BTC-TEST", 50, []codec.Level{lvl("80", "1")}, nil))

	bids := r.Book().Bids(0)
	require.Len(t, bids, 1)
	assert.Equal(t, "80", bids[0].Px)
	assert.Equal(t, int64(50), r.LastSeqID())
}

func TestResetAwaitsSnapshot(t *testing.T) {
	r, rec := newTestReconstructor(DefaultConfig())
	r.Apply(snapshotMsg("BTC-TEST", 1, []codec.Level{lvl("100", "1")}, nil))

	r.Reset()
	assert.Equal(t, AwaitingSnapshot, r.State())
	assert.Equal(t, OutcomeDiscarded, r.Apply(updateMsg("BTC-TEST", 1, 2, nil, nil)).Outcome)
	assert.Empty(t, rec.calls)

	_, ok := r.Snapshot(10)
	assert.False(t, ok)
}

func TestSnapshotDepthAndOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 2
	r, _ := newTestReconstructor(cfg)

	res := r.Apply(snapshotMsg("BTC-TEST", 1,
		[]codec.Level{lvl("98", "1"), lvl("100", "1"), lvl("99", "1")},
		[]codec.Level{lvl("103", "1"), lvl("101", "1"), lvl("102", "1")},
	))
	require.NotNil(t, res.Snapshot)
	require.Len(t, res.Snapshot.Bids, 2)
	require.Len(t, res.Snapshot.Asks, 2)
	assert.Equal(t, "100", res.Snapshot.Bids[0].Px)
	assert.Equal(t, "99", res.Snapshot.Bids[1].Px)
	assert.Equal(t, "101", res.Snapshot.Asks[0].Px)
	assert.Equal(t, "102", res.Snapshot.Asks[1].Px)
}

// TestBookEquality applies random contiguous increments and compares the
// reconstructed book with a reference map updated directly.
func TestBookEquality(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		r, rec := newTestReconstructor(DefaultConfig())
		want := NewBook()

		var bids []codec.Level
		for i := 0; i < 10; i++ {
			bids = append(bids, lvl(fmt.Sprintf("%d.5", 100-i), fmt.Sprintf("%d", 1+rng.Intn(9))))
		}
		var asks []codec.Level
		for i := 0; i < 10; i++ {
			asks = append(asks, lvl(fmt.Sprintf("%d.5", 101+i), fmt.Sprintf("%d", 1+rng.Intn(9))))
		}
		r.Apply(snapshotMsg("BTC-TEST", 1, bids, asks))
		want.Replace(bids, asks)

		seq := int64(1)
		for step := 0; step < 200; step++ {
			var db, da []codec.Level
			for n := rng.Intn(4); n > 0; n-- {
				db = append(db, lvl(fmt.Sprintf("%d.5", 90+rng.Intn(11)), fmt.Sprintf("%d", rng.Intn(5))))
			}
			for n := rng.Intn(4); n > 0; n-- {
				da = append(da, lvl(fmt.Sprintf("%d.5", 101+rng.Intn(11)), fmt.Sprintf("%d", rng.Intn(5))))
			}
			res := r.Apply(updateMsg("BTC-TEST", seq, seq+1, db, da))
			seq++
			want.Apply(db, da)
			if len(db) == 0 && len(da) == 0 {
				continue
			}
			require.Equal(t, OutcomeUpdate, res.Outcome)
		}

		assert.Empty(t, rec.calls)
		assert.True(t, want.Equal(r.Book()), "round %d: reconstructed book differs", round)
	}
}

func TestBookCanonicalPrices(t *testing.T) {
	b := NewBook()
	b.Apply([]codec.Level{lvl("100.10", "1")}, nil)
	b.Apply([]codec.Level{lvl("100.1", "0")}, nil)

	bids, _ := b.Depth()
	assert.Zero(t, bids, "equal prices with different spellings are one level")
}

func TestOKXChecksum(t *testing.T) {
	bids := []codec.Level{lvl("3366.1", "7"), lvl("3366", "6")}
	asks := []codec.Level{lvl("3366.8", "9"), lvl("3368", "8")}

	want := int32(crc32.ChecksumIEEE([]byte("3366.1:7:3366.8:9:3366:6:3368:8")))
	assert.Equal(t, want, OKXChecksum(bids, asks))

	// Uneven sides append only what exists.
	want = int32(crc32.ChecksumIEEE([]byte("3366.1:7:3366.8:9:3366:6")))
	assert.Equal(t, want, OKXChecksum(bids, asks[:1]))
}

func TestArena(t *testing.T) {
	rec := &resyncRecorder{}
	a := NewArena(DefaultConfig(), rec, nil)

	btc := a.Get(codec.ChannelBooks, "BTC-TEST")
	assert.Same(t, btc, a.Get(codec.ChannelBooks, "BTC-TEST"))
	eth := a.Get(codec.ChannelBooks, "ETH-TEST")

	btc.Apply(snapshotMsg("BTC-TEST", 1, []codec.Level{lvl("100", "1")}, nil))
	eth.Apply(snapshotMsg("ETH-TEST", 1, []codec.Level{lvl("10", "1")}, nil))

	snaps := a.Snapshots(5)
	require.Len(t, snaps, 2)
	assert.Equal(t, "BTC-TEST", snaps[0].InstID)

	a.Reset([]codec.Arg{{Channel: codec.ChannelBooks, InstID: "BTC-TEST"}, {Channel: codec.ChannelBooks, InstID: "SOL-TEST"}})
	assert.Equal(t, AwaitingSnapshot, btc.State())
	assert.Equal(t, Synced, eth.State(), "resetting one instrument leaves others alone")
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.Synced())

	a.ResetAll()
	assert.Equal(t, AwaitingSnapshot, eth.State())
	assert.Empty(t, a.Snapshots(5))
	assert.Empty(t, rec.calls)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func retryConfig(c *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.SnapshotTimeout = time.Second
	cfg.SnapshotMaxTimeout = 4 * time.Second
	cfg.Now = c.Now
	return cfg
}

func TestAwaitingSnapshotRequestsAgain(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	r, rec := newTestReconstructor(retryConfig(clock))

	r.Apply(snapshotMsg("BTC-TEST", 10, []codec.Level{lvl("100", "1")}, nil))
	res := r.Apply(updateMsg("BTC-TEST", 12, 13, []codec.Level{lvl("100", "2")}, nil))
	require.Equal(t, OutcomeResync, res.Outcome)
	require.Len(t, rec.calls, 1)

	// The answering snapshot never lands; increments keep coming.
	seq := int64(13)
	step := func(d time.Duration) Result {
		clock.Advance(d)
		seq++
		return r.Apply(updateMsg("BTC-TEST", seq, seq+1, []codec.Level{lvl("100", "3")}, nil))
	}

	res = step(500 * time.Millisecond)
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Empty(t, res.Reason)
	assert.Len(t, rec.calls, 1)

	res = step(500 * time.Millisecond) // 1s waited
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Equal(t, ReasonSnapshotTimeout, res.Reason)
	assert.Len(t, rec.calls, 2)

	step(time.Second) // 1s of a 2s wait
	assert.Len(t, rec.calls, 2)
	step(time.Second)
	assert.Len(t, rec.calls, 3)

	step(3 * time.Second) // wait is now 4s
	assert.Len(t, rec.calls, 3)
	step(time.Second)
	assert.Len(t, rec.calls, 4)

	step(4 * time.Second) // capped at SnapshotMaxTimeout
	assert.Len(t, rec.calls, 5)
	for _, c := range rec.calls {
		assert.Equal(t, codec.Arg{Channel: codec.ChannelBooks, InstID: "BTC-TEST"}, c)
	}
	assert.Equal(t, int64(5), r.Stats().Resyncs)

	res = r.Apply(snapshotMsg("BTC-TEST", 100, []codec.Level{lvl("100", "1")}, nil))
	assert.Equal(t, OutcomeSnapshot, res.Outcome)
	res = r.Apply(updateMsg("BTC-TEST", 100, 101, []codec.Level{lvl("100", "2")}, nil))
	assert.Equal(t, OutcomeUpdate, res.Outcome)
}

func TestResetArmsSnapshotWait(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	r, rec := newTestReconstructor(retryConfig(clock))

	r.Apply(snapshotMsg("BTC-TEST", 10, []codec.Level{lvl("100", "1")}, nil))
	r.Reset()

	clock.Advance(time.Second)
	res := r.Apply(updateMsg("BTC-TEST", 10, 11, nil, nil))
	assert.Equal(t, ReasonSnapshotTimeout, res.Reason)
	assert.Len(t, rec.calls, 1, "a rejected resubscribe after reconnect is retried")
}

func TestSnapshotWaitRestartsAfterSync(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	r, rec := newTestReconstructor(retryConfig(clock))

	// Back the wait off to 4s, then sync and lose sync again.
	for range 4 {
		clock.Advance(4 * time.Second)
		r.Apply(updateMsg("BTC-TEST", 1, 2, nil, nil))
	}
	require.Len(t, rec.calls, 4)
	r.Apply(snapshotMsg("BTC-TEST", 10, []codec.Level{lvl("100", "1")}, nil))
	r.Apply(updateMsg("BTC-TEST", 11, 12, nil, nil)) // gap
	require.Len(t, rec.calls, 5)

	clock.Advance(time.Second)
	res := r.Apply(updateMsg("BTC-TEST", 12, 13, nil, nil))
	assert.Equal(t, ReasonSnapshotTimeout, res.Reason, "wait starts over at SnapshotTimeout")
	assert.Len(t, rec.calls, 6)
}

func TestSnapshotRetryDisabled(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	cfg := retryConfig(clock)
	cfg.SnapshotTimeout = 0
	r, rec := newTestReconstructor(cfg)

	for i := range 10 {
		clock.Advance(time.Minute)
		res := r.Apply(updateMsg("BTC-TEST", int64(i), int64(i+1), nil, nil))
		assert.Equal(t, OutcomeDiscarded, res.Outcome)
		assert.Empty(t, res.Reason)
	}
	assert.Empty(t, rec.calls)
}
