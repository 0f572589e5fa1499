package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	drepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when the socket is not open.
var ErrNotConnected = errors.New("finnhub not connected")

// Client implements a MarketStream backed by Finnhub WebSocket. Trades are
// turned into ticks whose volume is the running total for the trading day.
type Client struct {
	apiKey         string
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	loc            *time.Location
	dialer         *websocket.Dialer
	log            *applogger.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	subscribed []string

	volMu   sync.Mutex
	volumes map[string]dayVolume
}

type dayVolume struct {
	day   string
	total float64
}

// Option configures Client.
type Option func(*Client)

// WithLocation sets the location whose calendar day resets volume.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a new Finnhub MarketStream.
func New(apiKey, websocketURL string, reconnectDelay, pingInterval time.Duration, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		loc:            time.UTC,
		dialer:         websocket.DefaultDialer,
		log:            applogger.NewNop(),
		volumes:        make(map[string]dayVolume),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pingInterval <= 0 {
		c.pingInterval = 30 * time.Second
	}
	c.log = c.log.With(applogger.String("component", "finnhub"))
	return c
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("connected")
	return nil
}

// Subscribe subscribes to provider symbols. They are remembered and
// re-subscribed by Reconnect.
func (c *Client) Subscribe(_ context.Context, symbols ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	for _, s := range symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		if !contains(c.subscribed, s) {
			c.subscribed = append(c.subscribed, s)
		}
		c.log.Info("subscribed", applogger.String("symbol", s))
	}
	return nil
}

// Unsubscribe stops the feed for provider symbols.
func (c *Client) Unsubscribe(_ context.Context, symbols ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	for _, s := range symbols {
		msg := map[string]string{"type": "unsubscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", s, err)
		}
		c.subscribed = remove(c.subscribed, s)
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// Read streams ticks and errors until ctx is done or the socket fails.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				errs <- ErrNotConnected
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m fhMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				// pings and status frames
				continue
			}
			for _, d := range m.Data {
				select {
				case ticks <- c.toTick(d):
				case <-ctx.Done():
					return
				default:
					c.log.Warn("tick dropped", applogger.String("symbol", d.S))
				}
			}
		}
	}()

	return ticks, errs
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			c.mu.Unlock()
		}
	}
}

// toTick folds the trade size into the running day volume of its symbol.
func (c *Client) toTick(d fhTrade) *models.Tick {
	at := time.UnixMilli(d.T).In(c.loc)
	day := at.Format("2006-01-02")

	c.volMu.Lock()
	v := c.volumes[d.S]
	if v.day != day {
		v = dayVolume{day: day}
	}
	v.total += d.V
	c.volumes[d.S] = v
	total := v.total
	c.volMu.Unlock()

	return &models.Tick{
		Ticker: d.S,
		Date:   at,
		Close:  d.P,
		Volume: models.Float(total),
	}
}

// Reconnect closes, waits, reconnects and restores subscriptions.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	t := time.NewTimer(c.reconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	symbols := append([]string(nil), c.subscribed...)
	c.mu.Unlock()
	return c.Subscribe(ctx, symbols...)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

var _ drepo.MarketStream = (*Client)(nil)
