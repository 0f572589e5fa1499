package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/usecase"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/cache"
	pkgch "github.com/VigneshwaranJheyaraman/charts-helper/pkg/clickhouse"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/config"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	xhttp "github.com/VigneshwaranJheyaraman/charts-helper/pkg/http"
	pkgkafka "github.com/VigneshwaranJheyaraman/charts-helper/pkg/kafka"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the components the App starts and stops. Optional ones are nil
// when their feature is disabled.
type Deps struct {
	Registry   *prometheus.Registry
	Bus        *eventbus.Bus
	Charts     *usecase.ChartDataManager
	Processor  *usecase.TickProcessor
	Collector  *usecase.TickCollector
	Consumer   *pkgkafka.Consumer
	Ticks      pkgkafka.MessageHandler
	Handler    xhttp.Handler
	ClickHouse *pkgch.Client
	Producer   *pkgkafka.Producer
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	deps       Deps
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, deps Deps) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{cfg: cfg, l: l, deps: deps}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	a.l.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start launches every component and the HTTP server without blocking.
func (a *App) Start(ctx context.Context) error {
	d := a.deps
	ticker := a.cfg.Symbol.TickerName()

	go d.Charts.Run(ctx)

	if d.Consumer != nil && d.Ticks != nil {
		d.Consumer.RegisterHandler(d.Ticks)
		if err := d.Consumer.Start(ctx); err != nil {
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", d.Ticks.Topic()))
	}

	if d.Collector != nil {
		d.Collector.Follow(ctx, d.Bus)
		if err := d.Collector.Track(ctx, a.cfg.Symbol); err != nil {
			return err
		}
		if err := d.Collector.Start(ctx, a.cfg.Finnhub.Symbols...); err != nil {
			a.l.Error("collector error", applogger.Error(err))
			return err
		}
		a.l.Info("collector started",
			applogger.String("ticker", ticker),
			applogger.Strings("symbols", a.cfg.Finnhub.Symbols),
		)
	}

	a.httpServer = xhttp.NewServer(d.Handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithLogger(a.l),
		xhttp.WithRegistry(d.Registry),
	)
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	a.l.Info("charts helper started",
		applogger.String("ticker", ticker),
		applogger.String("ticks_backend", a.cfg.Ticks.Backend),
		applogger.String("history_source", a.cfg.History.Source),
	)
	return nil
}

// Shutdown stops inputs first, then sinks and infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	d := a.deps
	a.l.Info("shutting down...")

	if d.Collector != nil {
		if err := d.Collector.Shutdown(ctx); err != nil {
			a.l.Warn("collector stop error", applogger.Error(err))
		}
	}

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}

	if d.Consumer != nil {
		if err := d.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if d.Charts != nil {
		d.Charts.Close()
	}
	if d.Processor != nil {
		d.Processor.Close()
	}
	if d.Producer != nil {
		if err := d.Producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if d.ClickHouse != nil {
		if err := d.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			a.l.Warn("cache close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
