package di

import (
	"context"
	"fmt"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/feed"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/handler/api"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/market"
	mid "github.com/VigneshwaranJheyaraman/charts-helper/internal/middleware"
	internalrepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/service/finnhub"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/service/ratelimit"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/usecase"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/cache"
	pkgch "github.com/VigneshwaranJheyaraman/charts-helper/pkg/clickhouse"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/config"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	pkghttp "github.com/VigneshwaranJheyaraman/charts-helper/pkg/http"
	pkgkafka "github.com/VigneshwaranJheyaraman/charts-helper/pkg/kafka"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/metrics"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

func ProvideEventBus(l *applogger.Logger) *eventbus.Bus {
	return eventbus.New(l)
}

// ProvideMarketManager resolves the configured rules, extended with exchange
// holidays when a calendar MIC is known.
func ProvideMarketManager(cfg *config.Config, l *applogger.Logger) (*market.Manager, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := market.NewClock(
		market.WithLocation(loc),
		market.WithMaxLookback(cfg.Market.MaxLookbackDays),
	)
	var source market.RuleSource = market.ExchangeRules{
		ByExchange: cfg.Market.Exchanges,
		Default:    cfg.Market.Rules,
	}
	source = market.NewCalendarRules(source,
		cfg.Market.Calendar.MIC,
		cfg.Market.Calendar.FromYear,
		cfg.Market.Calendar.ToYear,
		l,
	)
	m, err := market.NewManager(clock, source, cfg.Symbol, l)
	if err != nil {
		return nil, fmt.Errorf("market manager: %w", err)
	}
	return m, nil
}

func ProvideBucketizer(cfg *config.Config) (*feed.Bucketizer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return feed.NewBucketizerFromString(cfg.Market.DailyAnchor, loc)
}

// ProvideClickHouseClient connects only when a component reads or writes
// candles in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.Sinks.ClickHouse && cfg.History.Source != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideCandleStore ensures the candles table exists.
func ProvideCandleStore(client *pkgch.Client) (*internalrepo.ClickHouseCandleStore, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseCandleStore(client.DB(), client.Database())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a producer when ticks or candles go to Kafka.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if cfg.Ticks.Backend != usecase.BackendKafka && !cfg.Sinks.Kafka {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCache builds the history cache backend, or nil when caching is off.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	hc := cfg.History.Cache
	if !hc.Enabled {
		return nil, nil
	}
	if hc.Backend == "memory" {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(1000)), nil
	}

	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if hc.Backend == "layered" {
		return cache.NewLayeredCache(redisCache, cache.WithLayeredMemoryTTL(hc.TTL/2)), nil
	}
	return redisCache, nil
}

// ProvideHistoricalTransport selects the history source and wraps it with
// the cache.
func ProvideHistoricalTransport(
	cfg *config.Config,
	store *internalrepo.ClickHouseCandleStore,
	c cache.Service,
	l *applogger.Logger,
) (repository.HistoricalTransport, error) {
	var tr repository.HistoricalTransport
	switch cfg.History.Source {
	case "clickhouse":
		if store == nil {
			return nil, fmt.Errorf("history: clickhouse store unavailable")
		}
		tr = store
	default:
		client := pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.History.Timeout),
			pkghttp.WithDefaultHeaders(cfg.History.Headers),
		)
		tr = internalrepo.NewHTTPCandleTransport(client, cfg.History.URL)
	}
	if c != nil {
		tr = internalrepo.NewCachingTransport(tr, c, cfg.History.Cache.TTL, l)
	}
	return tr, nil
}

// ProvideCandleSink fans finalized candles out to the enabled sinks.
func ProvideCandleSink(
	cfg *config.Config,
	store *internalrepo.ClickHouseCandleStore,
	producer *pkgkafka.Producer,
) repository.CandleSink {
	var sinks []repository.CandleSink
	if cfg.Sinks.ClickHouse && store != nil {
		sinks = append(sinks, store)
	}
	if cfg.Sinks.Kafka && producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaCandlePublisher(producer, cfg.Kafka.CandlesTopic))
	}
	if len(sinks) == 0 {
		return nil
	}
	return internalrepo.NewMultiSink(sinks...)
}

// ProvideChartDataManager wires the engine for the configured symbol.
func ProvideChartDataManager(
	cfg *config.Config,
	transport repository.HistoricalTransport,
	session *market.Manager,
	buckets *feed.Bucketizer,
	bus *eventbus.Bus,
	sink repository.CandleSink,
	m repository.Metrics,
	l *applogger.Logger,
) (*usecase.ChartDataManager, error) {
	res, err := models.ParseResolution(cfg.Market.Resolution)
	if err != nil {
		return nil, fmt.Errorf("market.resolution: %w", err)
	}
	opts := []usecase.ChartOption{
		usecase.WithMetrics(m),
		usecase.WithLogger(l),
		usecase.WithRangeSize(cfg.Market.RangeSize),
		usecase.WithResolution(res),
	}
	if sink != nil {
		opts = append(opts, usecase.WithSink(sink))
	}
	charts, err := usecase.NewChartDataManager(cfg.Symbol, transport, session, buckets, bus, opts...)
	if err != nil {
		return nil, fmt.Errorf("chart data manager: %w", err)
	}
	return charts, nil
}

// ProvideTickPublisher publishes ticks when the kafka backend is selected.
func ProvideTickPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.TickPublisher {
	if cfg.Ticks.Backend != usecase.BackendKafka || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.TicksTopic)
}

// ProvideTickProcessor routes live ticks to the configured backend.
func ProvideTickProcessor(
	cfg *config.Config,
	charts *usecase.ChartDataManager,
	pub repository.TickPublisher,
	m repository.Metrics,
) (*usecase.TickProcessor, error) {
	return usecase.NewTickProcessor(charts, pub, m, cfg.Ticks.Backend)
}

// ProvideFinnhubStream creates the Finnhub WebSocket stream when enabled.
func ProvideFinnhubStream(cfg *config.Config, session *market.Manager, l *applogger.Logger) repository.MarketStream {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	return finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		finnhub.WithLocation(session.Location()),
		finnhub.WithLogger(l),
	)
}

// ProvideTickCollector builds the validating and throttling pipeline
// between the stream and the tick processor.
func ProvideTickCollector(
	cfg *config.Config,
	stream repository.MarketStream,
	proc *usecase.TickProcessor,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.TickCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Ticks.MaxRPS),
		mid.WithBufferSize(cfg.Ticks.Buffer),
	)
	return usecase.NewTickCollector(stream, proc, m, pipe, l)
}

// ProvideKafkaConsumer creates a consumer when ticks arrive through Kafka.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Ticks.Backend != usecase.BackendKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l, time.Second))
	return consumer, nil
}

// ProvideKafkaTicksHandler applies consumed ticks to the chart manager.
func ProvideKafkaTicksHandler(cfg *config.Config, charts *usecase.ChartDataManager, m repository.Metrics) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, charts, m)
}

func ProvideChartHandler(cfg *config.Config, l *applogger.Logger, charts *usecase.ChartDataManager) *api.ChartEchoHandler {
	return api.NewChartEchoHandler(l, charts, ratelimit.New(), cfg.Ticks.RateLimit)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	bus *eventbus.Bus,
	charts *usecase.ChartDataManager,
	proc *usecase.TickProcessor,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	handler *api.ChartEchoHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	c cache.Service,
) *server.App {
	return server.New(cfg, l, server.Deps{
		Registry:   reg,
		Bus:        bus,
		Charts:     charts,
		Processor:  proc,
		Collector:  collector,
		Consumer:   consumer,
		Ticks:      kh,
		Handler:    handler,
		ClickHouse: chClient,
		Producer:   producer,
		Cache:      c,
	})
}
