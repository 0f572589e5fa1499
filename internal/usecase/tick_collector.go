package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	drepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	mid "github.com/VigneshwaranJheyaraman/charts-helper/internal/middleware"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
)

// TickCollector reads the market stream, renames provider symbols to chart
// tickers and pushes ticks through the pipeline.
type TickCollector struct {
	stream  drepo.MarketStream
	proc    TickTarget
	metrics drepo.Metrics
	pipe    *mid.RealtimePipeline
	log     *applogger.Logger
	retry   time.Duration

	mu      sync.RWMutex
	aliases map[string]string
	symbols []string
	wg      sync.WaitGroup
}

// NewTickCollector sends ticks to pipe when set, otherwise straight to proc.
func NewTickCollector(stream drepo.MarketStream, proc TickTarget, metrics drepo.Metrics, pipe *mid.RealtimePipeline, l *applogger.Logger) *TickCollector {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &TickCollector{
		stream:  stream,
		proc:    proc,
		metrics: metrics,
		pipe:    pipe,
		log:     l,
		retry:   time.Second,
		aliases: make(map[string]string),
	}
}

// Alias maps a provider symbol to a chart ticker.
func (c *TickCollector) Alias(provider, ticker string) {
	c.mu.Lock()
	c.aliases[provider] = ticker
	c.mu.Unlock()
}

func (c *TickCollector) tickerFor(provider string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.aliases[provider]; ok {
		return t
	}
	return provider
}

// Follow subscribes the stream to every symbol published on bus and maps
// its provider name to the chart ticker.
func (c *TickCollector) Follow(ctx context.Context, bus *eventbus.Bus) string {
	return bus.Subscribe(models.SymbolChangedTopic, func(ev eventbus.Event) error {
		sym, err := eventbus.Decode[models.Symbol](ev.Payload)
		if err != nil {
			return err
		}
		return c.Track(ctx, *sym)
	})
}

// Track starts streaming sym and routes its ticks to sym.TickerName().
func (c *TickCollector) Track(ctx context.Context, sym models.Symbol) error {
	provider := strings.TrimSpace(sym.SymbolName)
	if provider == "" {
		return nil
	}
	c.Alias(provider, sym.TickerName())
	c.mu.Lock()
	known := false
	for _, s := range c.symbols {
		if s == provider {
			known = true
			break
		}
	}
	if !known {
		c.symbols = append(c.symbols, provider)
	}
	c.mu.Unlock()
	if known || !c.stream.IsConnected() {
		return nil
	}
	return c.stream.Subscribe(ctx, provider)
}

// IsConnected returns true if the market stream is connected.
func (c *TickCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes symbols and consumes until ctx is done.
func (c *TickCollector) Start(ctx context.Context, symbols ...string) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	for _, s := range symbols {
		if s != "" && !containsString(c.symbols, s) {
			c.symbols = append(c.symbols, s)
		}
	}
	all := append([]string(nil), c.symbols...)
	c.mu.Unlock()

	if err := c.stream.Subscribe(ctx, all...); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

// run reads one connection at a time and reconnects when it fails.
func (c *TickCollector) run(ctx context.Context) {
	for ctx.Err() == nil {
		connCtx, cancel := context.WithCancel(ctx)
		ticks, errs := c.stream.Read(connCtx)
		err := c.consume(ctx, ticks, errs)
		cancel()
		if ctx.Err() != nil {
			return
		}

		c.metrics.RecordError("stream")
		if err != nil {
			c.log.Warn("market stream interrupted", applogger.Error(err))
		}
		for ctx.Err() == nil {
			if rerr := c.stream.Reconnect(ctx); rerr == nil {
				c.log.Info("market stream reconnected")
				break
			} else if ctx.Err() == nil {
				c.log.Error("market stream reconnect failed", applogger.Error(rerr))
				sleep(ctx, c.retry)
			}
		}
	}
}

// consume returns when the connection ends.
func (c *TickCollector) consume(ctx context.Context, ticks <-chan *models.Tick, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if ticks == nil {
					return nil
				}
				continue
			}
			return err
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				if errs == nil {
					return nil
				}
				continue
			}
			if t == nil {
				continue
			}
			t.Ticker = c.tickerFor(t.Ticker)
			var err error
			if c.pipe != nil {
				err = c.pipe.Process(ctx, t)
			} else {
				err = c.proc.Process(ctx, t)
			}
			if err != nil {
				c.log.Debug("tick rejected",
					applogger.String("ticker", t.Ticker),
					applogger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
