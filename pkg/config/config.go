package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // market timezones must resolve without system zoneinfo

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Log         applogger.Config `yaml:"log"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Symbol models.Symbol `yaml:"symbol"`
	Market struct {
		Timezone        string              `yaml:"timezone" default:"Asia/Kolkata"`
		DailyAnchor     string              `yaml:"daily_anchor" default:"05:30"`
		RangeSize       int                 `yaml:"range_size" default:"500" validate:"min=1"`
		MaxLookbackDays int                 `yaml:"max_lookback_days" default:"3660" validate:"min=1"`
		Resolution      string              `yaml:"resolution" default:"1D"`
		Rules           []models.MarketRule `yaml:"rules" validate:"dive"`
		// Exchange-specific rule lists keyed by symbol exchange.
		Exchanges map[string][]models.MarketRule `yaml:"exchanges" validate:"dive,dive"`
		Calendar  struct {
			MIC      string `yaml:"mic"`
			FromYear int    `yaml:"from_year"`
			ToYear   int    `yaml:"to_year"`
		} `yaml:"calendar"`
	} `yaml:"market"`
	History struct {
		Source  string            `yaml:"source" default:"http" validate:"oneof=http clickhouse"`
		URL     string            `yaml:"url"`
		Timeout time.Duration     `yaml:"timeout" default:"15s"`
		Headers map[string]string `yaml:"headers"`
		Cache   struct {
			Enabled bool          `yaml:"enabled"`
			Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
			TTL     time.Duration `yaml:"ttl" default:"1m"`
		} `yaml:"cache"`
	} `yaml:"history"`
	Ticks struct {
		// Backend routes live ticks: direct feeds the aggregator, kafka
		// publishes them and the consumer feeds the aggregator.
		Backend string `yaml:"backend" default:"direct" validate:"oneof=direct kafka"`
		MaxRPS  int    `yaml:"max_rps" default:"20"`
		Buffer  int    `yaml:"buffer" default:"1000"`
		// RateLimit caps POST /chart/tick per client per second.
		RateLimit int `yaml:"rate_limit" default:"50"`
	} `yaml:"ticks"`
	Sinks struct {
		ClickHouse bool `yaml:"clickhouse"`
		Kafka      bool `yaml:"kafka"`
	} `yaml:"sinks"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"charts"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		TicksTopic   string   `yaml:"ticks_topic" default:"chart.ticks"`
		CandlesTopic string   `yaml:"candles_topic" default:"chart.candles"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"charts-helper"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"charts"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults to the YAML document and validates it.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := getenv("HISTORY_URL"); v != "" {
		c.History.URL = v
	}
	if v := getenv("MARKET_TIMEZONE"); v != "" {
		c.Market.Timezone = v
	}
	if v := getenv("SYMBOL"); v != "" {
		// NAME:EXCHANGE:ID
		parts := strings.Split(v, ":")
		if len(parts) == 3 {
			c.Symbol.SymbolName, c.Symbol.Exchange, c.Symbol.SymbolID = parts[0], parts[1], parts[2]
			c.Symbol.Ticker = ""
		}
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = strings.Split(v, ",")
	}
	if v := getenv("TICKS_BACKEND"); v != "" {
		c.Ticks.Backend = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}

// Location resolves the market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.Market.Rules) == 0 {
		return fmt.Errorf("market.rules cannot be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := models.ParseSessionTime(c.Market.DailyAnchor); err != nil {
		return fmt.Errorf("market.daily_anchor: %w", err)
	}
	if _, err := models.ParseResolution(c.Market.Resolution); err != nil {
		return fmt.Errorf("market.resolution: %w", err)
	}
	if c.History.Source == "http" && c.History.URL == "" {
		return fmt.Errorf("history.url is required for the http source")
	}
	if c.Ticks.Backend == "kafka" || c.Sinks.Kafka {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty")
		}
	}
	if c.Finnhub.Enabled {
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required")
		}
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty")
		}
	}
	return nil
}
