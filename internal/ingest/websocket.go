package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Stream defaults.
const (
	DefaultURL = "wss://ws-live-data.polymarket.com"

	PingInterval      = 5 * time.Second
	DataTimeout       = 300 * time.Second
	DataCheckInterval = 60 * time.Second

	InitialBackoff = 5 * time.Second
	MaxBackoff     = 60 * time.Second

	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 10 * time.Second
)

var errDataTimeout = errors.New("no data received within timeout")

// State is the connection state of a Feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FeedConfig configures a Feed. Zero durations take the package defaults.
type FeedConfig struct {
	URL            string
	WhaleThreshold float64

	PingInterval      time.Duration
	DataTimeout       time.Duration
	DataCheckInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

func (c *FeedConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.PingInterval <= 0 {
		c.PingInterval = PingInterval
	}
	if c.DataTimeout <= 0 {
		c.DataTimeout = DataTimeout
	}
	if c.DataCheckInterval <= 0 {
		c.DataCheckInterval = DataCheckInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = MaxBackoff
	}
}

// Stats is a read-only snapshot of the feed counters.
type Stats struct {
	State            State
	Connected        bool
	MessagesReceived int64
	WhalesDetected   int64
	DecodeFailures   int64
	Reconnects       int64
	LastDataTime     time.Time
}

// Feed keeps a subscription to the trade stream alive and sends every whale
// trade to its output channel. Sends block when the channel is full.
type Feed struct {
	cfg     FeedConfig
	out     chan<- store.Trade
	logger  *slog.Logger
	metrics *metrics.Metrics

	state          atomic.Int32
	messages       atomic.Int64
	whales         atomic.Int64
	decodeFailures atomic.Int64
	reconnects     atomic.Int64
	lastData       atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFeed validates the configuration and creates a disconnected feed.
func NewFeed(cfg FeedConfig, out chan<- store.Trade, logger *slog.Logger, m *metrics.Metrics) (*Feed, error) {
	cfg.applyDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.WhaleThreshold <= 0 {
		return nil, fmt.Errorf("whale threshold must be positive, got %v", cfg.WhaleThreshold)
	}
	if out == nil {
		return nil, errors.New("feed output channel is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		cfg:     cfg,
		out:     out,
		logger:  logger.With("component", "feed"),
		metrics: metrics.OrNew(m),
		stopCh:  make(chan struct{}),
	}, nil
}

// Run connects and streams until ctx is cancelled or Stop is called,
// reconnecting with backoff after every failure. It always returns nil.
func (f *Feed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := NewBackoff(f.cfg.InitialBackoff, f.cfg.MaxBackoff)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			f.logger.Info("ws_loop_stopping")
			return nil
		}
		if attempt > 0 {
			f.reconnects.Add(1)
			f.metrics.Reconnects.Inc()
		}

		err := f.session(ctx, backoff)
		f.closeConnection()
		f.setState(StateDisconnected)
		if ctx.Err() != nil {
			f.logger.Info("ws_loop_stopping")
			return nil
		}

		delay := backoff.Next()
		f.logger.Warn("ws_disconnected", "error", err, "backoff", delay)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

// Stop ends Run: the stop flag is set and the socket closed.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.closeConnection()
}

// Stats returns the current counters.
func (f *Feed) Stats() Stats {
	s := Stats{
		State:            State(f.state.Load()),
		MessagesReceived: f.messages.Load(),
		WhalesDetected:   f.whales.Load(),
		DecodeFailures:   f.decodeFailures.Load(),
		Reconnects:       f.reconnects.Load(),
	}
	s.Connected = s.State == StateSubscribed || s.State == StateStreaming
	if ns := f.lastData.Load(); ns != 0 {
		s.LastDataTime = time.Unix(0, ns)
	}
	return s
}

// session runs one connection epoch: dial, subscribe, then stream until
// the first failure.
func (f *Feed) session(ctx context.Context, backoff *Backoff) error {
	f.setState(StateConnecting)
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	backoff.Reset()

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.setState(StateSubscribed)

	return f.stream(ctx, conn)
}

// connect dials the stream endpoint.
func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, resp, err := dialer.DialContext(ctx, f.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	// a new epoch gets a full data window
	f.touch()
	f.logger.Info("ws_connected", "endpoint", f.cfg.URL)
	return conn, nil
}

// subscribe sends the trade subscription once per connection.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := conn.WriteJSON(NewTradesSubscription()); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	f.logger.Info("ws_subscribed", "topic", ActivityTopic, "type", TradesType)
	return nil
}

// stream runs the keepalive, receive and watchdog activities until one of
// them fails or ctx ends. The socket is closed before returning.
func (f *Feed) stream(ctx context.Context, conn *websocket.Conn) error {
	f.setState(StateStreaming)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.pingLoop(gctx, conn) })
	g.Go(func() error { return f.receiveLoop(gctx, conn) })
	g.Go(func() error { return f.watchdog(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	return g.Wait()
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func (f *Feed) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		f.touch()
		f.messages.Add(1)
		f.metrics.MessagesReceived.Inc()

		if err := f.handleMessage(ctx, message); err != nil {
			return err
		}
	}
}

// handleMessage decodes a frame and emits its whale trades. It only fails
// when ctx ends while waiting for room in the output channel.
func (f *Feed) handleMessage(ctx context.Context, data []byte) error {
	trades, err := DecodeFrame(data)
	if err != nil {
		f.decodeFailures.Add(1)
		f.metrics.DecodeFailures.Inc()
		f.logger.Warn("ws_decode_error", "error", err, "raw", truncate(string(data), 200))
	}

	for _, trade := range trades {
		if trade.TradeValue < f.cfg.WhaleThreshold {
			continue
		}

		f.whales.Add(1)
		f.metrics.WhalesDetected.Inc()
		f.logger.Info("whale_detected",
			"wallet", truncate(trade.WalletAddress, 12),
			"market", truncate(trade.MarketTitle, 40),
			"side", trade.Side,
			"outcome", trade.Outcome,
			"value_usd", trade.TradeValue,
		)

		select {
		case f.out <- trade:
			f.metrics.WhaleQueueDepth.Set(float64(len(f.out)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// watchdog closes the epoch when no frame arrives within the data timeout.
func (f *Feed) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.DataCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := time.Unix(0, f.lastData.Load())
			if idle := time.Since(last); idle > f.cfg.DataTimeout {
				f.logger.Warn("ws_data_timeout", "idle", idle.Round(time.Second))
				return errDataTimeout
			}
		}
	}
}

func (f *Feed) touch() {
	f.lastData.Store(time.Now().UnixNano())
}

func (f *Feed) setState(s State) {
	f.state.Store(int32(s))
	if s == StateSubscribed || s == StateStreaming {
		f.metrics.FeedConnected.Set(1)
	} else {
		f.metrics.FeedConnected.Set(0)
	}
}

// closeConnection safely closes the current socket.
func (f *Feed) closeConnection() {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
