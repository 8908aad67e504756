// Package feed streams closed klines from a Binance-compatible websocket
// endpoint and converts them into bars for the engine. Only closed candles
// are forwarded; a forming candle carries no confirmed volume signature.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wyckoff-scanner/internal/market"
)

// BarHandler receives each closed bar from the stream.
type BarHandler func(market.Bar)

// Config holds feed connection settings.
type Config struct {
	WSBaseURL  string   // e.g. wss://stream.binance.com:9443
	Symbols    []string // e.g. BTCUSDT
	Timeframes []string // e.g. 1h
}

// Feed manages one combined-stream websocket connection with automatic
// reconnection.
type Feed struct {
	cfg     Config
	handler BarHandler
	logger  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// combinedMessage is the envelope of a combined-stream payload.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent mirrors the Binance kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// New creates a feed. The handler is invoked once per closed candle, in
// stream order.
func New(cfg Config, handler BarHandler, logger zerolog.Logger) *Feed {
	return &Feed{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "Feed").Logger(),
	}
}

// Start connects and begins streaming. Reconnection is handled internally
// until Stop is called.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}
	if len(f.cfg.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	f.running = true

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go f.run(ctx)
	return nil
}

// Stop closes the connection and waits for the stream loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info().Msg("Feed stopped")
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.connectAndStream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Stream disconnected, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *Feed) connectAndStream(ctx context.Context) error {
	url := f.streamURL()
	f.logger.Info().Str("url", url).Msg("Connecting to kline stream")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		f.handleMessage(payload)
	}
}

// streamURL builds the combined-stream URL covering every symbol/timeframe
// pair.
func (f *Feed) streamURL() string {
	streams := make([]string, 0, len(f.cfg.Symbols)*len(f.cfg.Timeframes))
	for _, sym := range f.cfg.Symbols {
		for _, tf := range f.cfg.Timeframes {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), tf))
		}
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.cfg.WSBaseURL, strings.Join(streams, "/"))
}

func (f *Feed) handleMessage(payload []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Debug().Err(err).Msg("Unparseable stream message")
		return
	}

	var ev klineEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.EventType != "kline" {
		return
	}
	if !ev.Kline.IsClosed {
		return
	}

	bar, err := f.toBar(ev)
	if err != nil {
		f.logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("Dropping unparseable kline")
		return
	}
	f.handler(bar)
}

func (f *Feed) toBar(ev klineEvent) (market.Bar, error) {
	open, err := strconv.ParseFloat(ev.Kline.Open, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("open: %w", err)
	}
	high, err := strconv.ParseFloat(ev.Kline.High, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("high: %w", err)
	}
	low, err := strconv.ParseFloat(ev.Kline.Low, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("close: %w", err)
	}
	volume, err := strconv.ParseFloat(ev.Kline.Volume, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("volume: %w", err)
	}

	return market.Bar{
		Symbol:    ev.Symbol,
		Timeframe: ev.Kline.Interval,
		Timestamp: time.UnixMilli(ev.Kline.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    int64(volume),
	}, nil
}
