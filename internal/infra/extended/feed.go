package extended

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"perp_exec/internal/domain"
	"perp_exec/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 30 * time.Second
	defaultPingInterval  = 20 * time.Second
	defaultReadTimeout   = 60 * time.Second
	stopTimeout          = 5 * time.Second
	handshakeTimeout     = 10 * time.Second
)

// FeedConfig configures the orderbook stream.
type FeedConfig struct {
	Host          string // ws(s)://host, path is appended
	Symbol        string
	APIKey        string
	UserAgent     string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	PingInterval  time.Duration
	ReadTimeout   time.Duration
}

func (c *FeedConfig) setDefaults() {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = defaultReconnectMax
		if c.ReconnectMax < c.ReconnectBase {
			c.ReconnectMax = c.ReconnectBase
		}
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = infra.DefaultUserAgent
	}
}

// StreamURL builds the depth-1 orderbook stream address for a symbol.
func StreamURL(host, symbol string) string {
	return strings.TrimRight(host, "/") + "/stream.extended.exchange/v1/orderbooks/" + symbol + "?depth=1"
}

// FeedOption customizes a PriceFeed.
type FeedOption func(*PriceFeed)

// WithMetrics attaches feed counters.
func WithMetrics(m *infra.Metrics) FeedOption {
	return func(f *PriceFeed) { f.metrics = m }
}

// WithOnQuote registers a callback invoked on the reader goroutine for every accepted quote.
func WithOnQuote(fn func(domain.Quote)) FeedOption {
	return func(f *PriceFeed) { f.onQuote = fn }
}

// PriceFeed keeps the latest best bid/ask of one symbol from the venue stream.
// Readers never block on the network.
type PriceFeed struct {
	cfg FeedConfig
	url string

	quote atomic.Pointer[domain.Quote]

	conn     *websocket.Conn
	connDone chan struct{}
	mu       sync.RWMutex
	writeMu  sync.Mutex

	connected atomic.Bool
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once

	onQuote func(domain.Quote)
	metrics *infra.Metrics
	log     *slog.Logger
}

// NewPriceFeed creates a feed. Nothing connects until Start.
func NewPriceFeed(cfg FeedConfig, opts ...FeedOption) *PriceFeed {
	cfg.setDefaults()
	f := &PriceFeed{
		cfg:   cfg,
		url:   StreamURL(cfg.Host, cfg.Symbol),
		ready: make(chan struct{}),
		log:   slog.Default().With("module", "feed", "symbol", cfg.Symbol),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the connection loop. Calling it on a running feed is a no-op.
func (f *PriceFeed) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return nil
	}

	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.connectionLoop(ctx)

	return nil
}

// Stop cancels the loop, closes the socket and waits a bounded time for the reader.
func (f *PriceFeed) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.log.Info("🛑 Price feed stopped")
	case <-time.After(stopTimeout):
		f.log.Warn("⚠️ Price feed reader did not exit in time")
	}
}

// CurrentQuote returns the latest quote or ErrQuoteUnavailable before the first update.
func (f *PriceFeed) CurrentQuote() (domain.Quote, error) {
	q := f.quote.Load()
	if q == nil {
		return domain.Quote{}, domain.ErrQuoteUnavailable
	}
	return *q, nil
}

// AwaitFresh blocks until the first quote arrives, the timeout passes or ctx is done.
func (f *PriceFeed) AwaitFresh(ctx context.Context, timeout time.Duration) bool {
	if f.quote.Load() != nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// IsConnected reports whether the stream is currently up.
func (f *PriceFeed) IsConnected() bool {
	return f.connected.Load()
}

func (f *PriceFeed) connectionLoop(ctx context.Context) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("Price feed panic recovered", slog.Any("panic", r))
		}
	}()
	// a socket stored by connect after a concurrent Stop is closed here too
	defer f.closeConnection()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			f.log.Info("Price feed connection loop stopped")
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			f.log.Warn("⚠️ Orderbook stream connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)
		} else {
			retryCount = 0
			f.readLoop(ctx)
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("Orderbook stream disconnected, reconnecting")
		}

		delay := calculateBackoff(retryCount, f.cfg.ReconnectBase, f.cfg.ReconnectMax)
		retryCount++
		f.metrics.RecordReconnect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// calculateBackoff returns base*2^retry capped at max.
func calculateBackoff(retry int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (f *PriceFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	header := make(http.Header)
	header.Add("User-Agent", f.cfg.UserAgent)
	if f.cfg.APIKey != "" {
		header.Add("X-Api-Key", f.cfg.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	readTimeout := f.cfg.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	f.mu.Lock()
	f.conn = conn
	f.connDone = done
	f.mu.Unlock()

	f.connected.Store(true)
	f.metrics.SetFeedConnected(true)

	go f.pingLoop(ctx, done)

	f.log.Info("✅ Orderbook stream connected", slog.String("url", f.url))
	return nil
}

func (f *PriceFeed) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := f.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				f.log.Debug("ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (f *PriceFeed) threadSafeWrite(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.conn == nil {
		return fmt.Errorf("no conn")
	}
	return f.conn.WriteMessage(msgType, data)
}

func (f *PriceFeed) readLoop(ctx context.Context) {
	// cancellation unblocks ReadMessage instead of waiting out the read deadline
	stop := context.AfterFunc(ctx, f.closeConnection)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.log.Warn("Orderbook stream read error", slog.Any("error", err))
			}
			f.closeConnection()
			return
		}

		f.handleMessage(msg)
	}
}

func (f *PriceFeed) handleMessage(msg []byte) {
	f.metrics.RecordMessage()

	q, err := parseQuote(msg, f.cfg.Symbol, time.Now())
	if err != nil {
		f.metrics.RecordParseError()
		f.log.Debug("Orderbook message dropped", slog.Any("error", err))
		return
	}

	f.quote.Store(&q)
	f.readyOnce.Do(func() { close(f.ready) })

	if f.onQuote != nil {
		f.onQuote(q)
	}
}

func (f *PriceFeed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	if f.connDone != nil {
		close(f.connDone)
		f.connDone = nil
	}
	f.connected.Store(false)
	f.metrics.SetFeedConnected(false)
}

var errEmptySide = errors.New("orderbook side empty")

type orderbookMessage struct {
	Data struct {
		Bids []json.RawMessage `json:"b"`
		Asks []json.RawMessage `json:"a"`
	} `json:"data"`
}

// parseQuote extracts the best bid and ask from a stream message.
// Levels may be objects ({"price": ...} or {"p": ...}) or [price, size] pairs,
// with prices encoded as strings or numbers.
func parseQuote(msg []byte, symbol string, ts time.Time) (domain.Quote, error) {
	var m orderbookMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return domain.Quote{}, fmt.Errorf("decode orderbook: %w", err)
	}
	if len(m.Data.Bids) == 0 || len(m.Data.Asks) == 0 {
		return domain.Quote{}, errEmptySide
	}

	bid, err := levelPrice(m.Data.Bids[0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("bid: %w", err)
	}
	ask, err := levelPrice(m.Data.Asks[0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("ask: %w", err)
	}

	q := domain.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: ts}
	if err := q.Validate(); err != nil {
		return domain.Quote{}, fmt.Errorf("%w: bid=%s ask=%s", err, bid, ask)
	}
	return q, nil
}

func levelPrice(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return decimal.Zero, errors.New("empty level")
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return decimal.Zero, err
		}
		for _, key := range []string{"price", "p"} {
			if v, ok := obj[key]; ok {
				return jsonDecimal(v)
			}
		}
		return decimal.Zero, errors.New("level has no price field")
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return decimal.Zero, err
		}
		if len(arr) == 0 {
			return decimal.Zero, errors.New("empty level")
		}
		return jsonDecimal(arr[0])
	default:
		return decimal.Zero, fmt.Errorf("unsupported level %s", trimmed)
	}
}

// jsonDecimal decodes a JSON string or number without going through float64.
func jsonDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.NewFromString(s)
}
