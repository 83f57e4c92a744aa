package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/rickgao/okx-data/internal/codec"
)

// Session maintains one subscribed websocket session, reconnecting on
// transport failure.
type Session struct {
	cfg       SessionConfig
	logger    *slog.Logger
	observer  Observer
	newClient func(ClientConfig, *slog.Logger) Client

	out     chan RawMessage
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state atomic.Int32

	// Books awaiting an unsubscribe/subscribe cycle.
	resyncMu  sync.Mutex
	resyncs   map[string]codec.Arg
	resyncSig chan struct{}

	connects     atomic.Int64
	reconnects   atomic.Int64
	resubscribes atomic.Int64
	forwarded    atomic.Int64
	eventErrors  atomic.Int64
}

// NewSession creates a Session. observer may be nil.
func NewSession(cfg SessionConfig, observer Observer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	def := DefaultSessionConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.HealthyPeriod <= 0 {
		cfg.HealthyPeriod = def.HealthyPeriod
	}
	if cfg.SubscribeRate <= 0 {
		cfg.SubscribeRate = def.SubscribeRate
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}

	return &Session{
		cfg:       cfg,
		logger:    logger.With("component", "session"),
		observer:  observer,
		newClient: NewClient,
		out:       make(chan RawMessage, cfg.MessageBufferSize),
		limiter:   rate.NewLimiter(rate.Limit(cfg.SubscribeRate), 1),
		resyncs:   make(map[string]codec.Arg),
		resyncSig: make(chan struct{}, 1),
	}
}

// Start launches the connect/stream/reconnect loop.
func (s *Session) Start(ctx context.Context) error {
	if len(s.cfg.Subscriptions) == 0 {
		return errors.New("session has no subscriptions")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("session started",
		"url", s.cfg.WSURL,
		"subscriptions", len(s.cfg.Subscriptions),
	)
	return nil
}

// Stop closes the session and the Messages channel.
func (s *Session) Stop(ctx context.Context) error {
	s.logger.Info("stopping session")

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, session loop still running")
		return ctx.Err()
	}

	close(s.out)
	s.logger.Info("session stopped")
	return nil
}

// Messages returns the ordered output channel for the router.
func (s *Session) Messages() <-chan RawMessage {
	return s.out
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RequestResync queues an unsubscribe/subscribe cycle for one book so the
// exchange pushes a fresh snapshot. It never blocks.
func (s *Session) RequestResync(channel, instID string) {
	arg := codec.Arg{Channel: channel, InstID: instID}

	s.resyncMu.Lock()
	s.resyncs[arg.Key()] = arg
	s.resyncMu.Unlock()

	select {
	case s.resyncSig <- struct{}{}:
	default:
	}
}

// Stats returns current statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		State:         s.State(),
		Subscriptions: len(s.cfg.Subscriptions),
		Connects:      s.connects.Load(),
		Reconnects:    s.reconnects.Load(),
		Resubscribes:  s.resubscribes.Load(),
		Forwarded:     s.forwarded.Load(),
		EventErrors:   s.eventErrors.Load(),
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.observer.SetSessionState(int(st))
}

// run connects, streams until the connection fails, and reconnects with
// backoff until the context is cancelled.
func (s *Session) run() {
	defer s.wg.Done()
	defer s.setState(StateDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectBaseDelay
	bo.MaxInterval = s.cfg.ReconnectMaxDelay

	for attempt := 0; ; attempt++ {
		if s.ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			s.reconnects.Add(1)
			s.observer.Reconnect()
		}

		err := s.session(bo)
		if s.ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		s.logger.Warn("session ended, reconnecting",
			"error", err,
			"attempt", attempt+1,
			"wait", wait,
		)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session runs one connection from dial to failure.
func (s *Session) session(bo *backoff.ExponentialBackOff) error {
	s.setState(StateConnecting)

	c := s.newClient(ClientConfig{
		URL:              s.cfg.WSURL,
		PingInterval:     s.cfg.PingInterval,
		HeartbeatTimeout: s.cfg.HeartbeatTimeout,
		WriteTimeout:     s.cfg.WriteTimeout,
		BufferSize:       s.cfg.MessageBufferSize,
	}, s.logger)
	defer func() {
		_ = c.Close()
		s.setState(StateDisconnected)
	}()

	if err := c.Connect(s.ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.connects.Add(1)
	s.setState(StateSubscribing)

	// Pending single-book resyncs are covered by the full resubscribe.
	s.takeResyncs()

	if err := s.subscribeAll(c); err != nil {
		return err
	}

	s.setState(StateStreaming)
	s.logger.Info("streaming", "subscriptions", len(s.cfg.Subscriptions))

	healthy := time.NewTimer(s.cfg.HealthyPeriod)
	defer healthy.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case err := <-c.Errors():
			s.flush(c)
			return err

		case <-healthy.C:
			bo.Reset()

		case <-s.resyncSig:
			if err := s.resubscribe(c, s.takeResyncs()); err != nil {
				return err
			}

		case msg := <-c.Messages():
			if err := s.forward(msg); err != nil {
				return err
			}
		}
	}
}

// subscribeAll resets every configured book, then subscribes the full set.
func (s *Session) subscribeAll(c Client) error {
	var books []codec.Arg
	for _, a := range s.cfg.Subscriptions {
		if codec.IsBookChannel(a.Channel) {
			books = append(books, a)
		}
	}
	if len(books) > 0 {
		if err := s.emit(RawMessage{Reset: books, ReceivedAt: time.Now()}); err != nil {
			return err
		}
	}

	for _, chunk := range codec.ChunkArgs(s.cfg.Subscriptions, codec.MaxArgsPerRequest) {
		if err := s.send(c, codec.OpSubscribe, chunk); err != nil {
			return err
		}
	}
	return nil
}

// resubscribe cycles the given books.
func (s *Session) resubscribe(c Client, args []codec.Arg) error {
	for _, chunk := range codec.ChunkArgs(args, codec.MaxArgsPerRequest) {
		if err := s.send(c, codec.OpUnsubscribe, chunk); err != nil {
			return err
		}
		if err := s.send(c, codec.OpSubscribe, chunk); err != nil {
			return err
		}
		s.resubscribes.Add(int64(len(chunk)))
		s.logger.Info("resubscribed books", "count", len(chunk), "first", chunk[0].Key())
	}
	return nil
}

func (s *Session) send(c Client, op string, args []codec.Arg) error {
	if err := s.limiter.Wait(s.ctx); err != nil {
		return err
	}
	req, err := codec.EncodeRequest(op, args)
	if err != nil {
		return err
	}
	if err := c.Send(req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Session) takeResyncs() []codec.Arg {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()
	if len(s.resyncs) == 0 {
		return nil
	}
	args := make([]codec.Arg, 0, len(s.resyncs))
	for k, a := range s.resyncs {
		args = append(args, a)
		delete(s.resyncs, k)
	}
	return args
}

// flush forwards frames the client read before it failed.
func (s *Session) flush(c Client) {
	for {
		select {
		case msg := <-c.Messages():
			if s.forward(msg) != nil {
				return
			}
		default:
			return
		}
	}
}

// forward logs event frames and passes data frames to the router.
func (s *Session) forward(msg TimestampedMessage) error {
	if isEvent(msg.Data) {
		s.handleEvent(msg)
		return nil
	}
	if err := s.emit(RawMessage{Data: msg.Data, ReceivedAt: msg.ReceivedAt}); err != nil {
		return err
	}
	s.forwarded.Add(1)
	return nil
}

// emit forwards msg, blocking while the router is behind.
func (s *Session) emit(msg RawMessage) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// handleEvent logs acknowledgements. Errors never end the session.
func (s *Session) handleEvent(msg TimestampedMessage) {
	f, err := codec.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		s.logger.Warn("undecodable event", "error", err)
		return
	}
	switch f.Event {
	case codec.EventError:
		s.eventErrors.Add(1)
		s.logger.Error("exchange error event", "code", f.Code, "msg", f.Msg)
	case codec.OpSubscribe, codec.OpUnsubscribe:
		s.logger.Debug("subscription ack", "event", f.Event, "channel", f.Arg.Channel, "inst_id", f.Arg.InstID)
	default:
		s.logger.Info("exchange event", "event", f.Event, "code", f.Code, "msg", f.Msg)
	}
}

// isEvent reports whether raw is an event frame. Event frames lead with
// the "event" key, data frames with "arg".
func isEvent(raw []byte) bool {
	head := raw[:min(len(raw), 16)]
	return bytes.Contains(head, []byte(`"event"`))
}
