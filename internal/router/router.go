package router

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/connection"
)

// Router decodes session frames and partitions them into ordered lanes by
// instrument. Every frame of one instrument lands on the same lane, in
// wire order.
type Router struct {
	cfg      RouterConfig
	logger   *slog.Logger
	observer Observer

	// Input from the Session
	input <-chan connection.RawMessage

	lanes    []*GrowableBuffer[Envelope]
	handlers []Handler
	known    map[codec.Arg]struct{}

	ctx        context.Context // routing loop
	cancel     context.CancelFunc
	laneCtx    context.Context // handlers; cancelled only on forced stop
	laneCancel context.CancelFunc
	routeDone  chan struct{}
	laneWG     conc.WaitGroup
	stopOnce   sync.Once

	received    atomic.Int64
	routed      atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
	resets      atomic.Int64
}

// NewRouter creates a router. newHandler is called once per lane.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, newHandler func(lane int) Handler, observer Observer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	def := DefaultRouterConfig()
	if cfg.Lanes < 1 {
		cfg.Lanes = def.Lanes
	}
	if cfg.LaneBufferSize < 1 {
		cfg.LaneBufferSize = def.LaneBufferSize
	}
	if cfg.LaneMaxBuffer < cfg.LaneBufferSize {
		cfg.LaneMaxBuffer = max(def.LaneMaxBuffer, cfg.LaneBufferSize)
	}

	r := &Router{
		cfg:       cfg,
		logger:    logger.With("component", "router"),
		observer:  observer,
		input:     input,
		lanes:     make([]*GrowableBuffer[Envelope], cfg.Lanes),
		handlers:  make([]Handler, cfg.Lanes),
		known:     make(map[codec.Arg]struct{}, len(cfg.Subscriptions)),
		routeDone: make(chan struct{}),
	}
	for i := range r.lanes {
		r.lanes[i] = NewGrowableBuffer[Envelope](cfg.LaneBufferSize, cfg.LaneMaxBuffer)
		r.handlers[i] = newHandler(i)
	}
	for _, a := range cfg.Subscriptions {
		r.known[a] = struct{}{}
	}
	return r
}

// LaneFor returns the lane index for an instrument.
func LaneFor(instID string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instID))
	return int(h.Sum32() % uint32(lanes))
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.laneCtx, r.laneCancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := range r.lanes {
		r.laneWG.Go(func() { r.laneLoop(i) })
	}
	go r.routeLoop()

	r.logger.Info("message router started",
		"lanes", r.cfg.Lanes,
		"lane_buffer", r.cfg.LaneBufferSize,
		"lane_max_buffer", r.cfg.LaneMaxBuffer,
	)
	return nil
}

// Stop waits for the input channel to close and every lane to drain. If
// ctx ends first, routing is cancelled and the handlers' context with it.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	select {
	case <-r.routeDone:
	case <-ctx.Done():
		r.logger.Warn("router stop timed out waiting for input, cancelling")
		r.cancel()
		r.laneCancel()
		<-r.routeDone
	}

	r.closeLanes()

	done := make(chan struct{})
	go func() {
		r.laneWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("lane drain timed out, cancelling handlers")
		r.laneCancel()
		<-done
	}
	r.laneCancel()
	return ctx.Err()
}

// Broadcast queues env on every lane. Used for periodic snapshot ticks.
// Returns false if the router is stopping.
func (r *Router) Broadcast(ctx context.Context, env Envelope) bool {
	for _, lane := range r.lanes {
		if !lane.Send(ctx, env) {
			return false
		}
	}
	return true
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	lanes := make([]BufferStats, len(r.lanes))
	for i, l := range r.lanes {
		lanes[i] = l.Stats()
	}
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		UnknownMessages:  r.unknown.Load(),
		Resets:           r.resets.Load(),
		Lanes:            lanes,
	}
}

func (r *Router) closeLanes() {
	r.stopOnce.Do(func() {
		for _, l := range r.lanes {
			l.Close()
		}
	})
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer close(r.routeDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route decodes and dispatches a single message.
func (r *Router) route(raw connection.RawMessage) {
	r.received.Add(1)

	if raw.IsReset() {
		r.routeReset(raw)
		return
	}

	f, err := codec.Decode(raw.Data, raw.ReceivedAt)
	if err != nil {
		r.parseErrors.Add(1)
		r.observer.Malformed("unknown")
		r.logger.Warn("failed to decode frame", "error", err)
		return
	}

	switch f.Kind {
	case codec.FrameData:
	case codec.FramePong:
		return
	default:
		r.logger.Debug("skipping event frame", "event", f.Event)
		return
	}

	if len(r.known) > 0 {
		if _, ok := r.known[f.Arg]; !ok {
			r.unknown.Add(1)
			r.observer.Unknown(f.Arg.Channel)
			return
		}
	}

	lane := LaneFor(f.Arg.InstID, len(r.lanes))
	if r.lanes[lane].Send(r.ctx, Envelope{Kind: KindData, Frame: f, At: raw.ReceivedAt}) {
		r.routed.Add(1)
	}
}

// routeReset splits a reset marker by lane. Each lane receives it in
// stream order, ahead of any frame read after it.
func (r *Router) routeReset(raw connection.RawMessage) {
	byLane := make(map[int][]codec.Arg)
	for _, a := range raw.Reset {
		lane := LaneFor(a.InstID, len(r.lanes))
		byLane[lane] = append(byLane[lane], a)
	}
	for lane, args := range byLane {
		if !r.lanes[lane].Send(r.ctx, Envelope{Kind: KindReset, Args: args, At: raw.ReceivedAt}) {
			return
		}
	}
	r.resets.Add(1)
}

// laneLoop feeds one lane's envelopes to its handler until the lane is
// closed and empty.
func (r *Router) laneLoop(i int) {
	h := r.handlers[i]
	for {
		env, ok := r.lanes[i].Receive()
		if !ok {
			return
		}
		h.Handle(r.laneCtx, env)
	}
}
