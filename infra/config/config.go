// Package config loads the daemon configuration: a YAML file, then an
// optional .env file, then FXH_* environment overrides, then validation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging   Logging   `yaml:"logging"`
	Server    Server    `yaml:"server"`
	Executor  Executor  `yaml:"executor"`
	Simulator Simulator `yaml:"simulator"`
	Venue     Venue     `yaml:"venue"`
	Journal   Journal   `yaml:"journal"`
	Snapshot  Snapshot  `yaml:"snapshot"`
	Store     Store     `yaml:"store"`
	Outbox    Outbox    `yaml:"outbox"`
	Kafka     Kafka     `yaml:"kafka"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type Server struct {
	GRPCAddr    string `yaml:"grpc_addr" validate:"required"`
	HTTPAddr    string `yaml:"http_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type Risk struct {
	MaxOrderQty int64 `yaml:"max_order_qty" validate:"gte=0"`
	MaxNotional int64 `yaml:"max_notional" validate:"gte=0"`
}

type Executor struct {
	Route         string        `yaml:"route" validate:"oneof=simulated live"`
	Shards        int           `yaml:"shards" validate:"min=1,max=256"`
	QueueSize     uint64        `yaml:"queue_size" validate:"min=2"`
	UpdateBuffer  int           `yaml:"update_buffer" validate:"min=1"`
	SnapshotDepth int           `yaml:"snapshot_depth" validate:"min=1"`
	VenueTimeout  time.Duration `yaml:"venue_timeout" validate:"gt=0"`
	Risk          Risk          `yaml:"risk"`
}

type Simulator struct {
	LatencyBase      int64  `yaml:"latency_base_ns" validate:"gte=0"`
	LatencyJitter    int64  `yaml:"latency_jitter_ns" validate:"gte=0"`
	Seed             uint64 `yaml:"seed"`
	SlippageBps      string `yaml:"slippage_bps_per_lot" validate:"omitempty,numeric"`
	SlippageMaxTicks int64  `yaml:"slippage_max_ticks" validate:"gte=0"`
	HalfSpread       int64  `yaml:"half_spread" validate:"min=1"`
	QuoteQty         int64  `yaml:"quote_qty" validate:"min=1"`
}

type Venue struct {
	URL              string        `yaml:"url" validate:"omitempty,url"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"min=1"`
	Cooldown         time.Duration `yaml:"cooldown" validate:"gt=0"`
	RatePerSecond    float64       `yaml:"rate_per_second" validate:"gt=0"`
	Burst            int           `yaml:"burst" validate:"min=1"`
}

type Journal struct {
	Dir         string `yaml:"dir" validate:"required"`
	SegmentSize int64  `yaml:"segment_size" validate:"gte=0"`
}

type Snapshot struct {
	Dir      string        `yaml:"dir" validate:"required"`
	Interval time.Duration `yaml:"interval"`
}

type Store struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type Outbox struct {
	Dir string `yaml:"dir"`
}

type Kafka struct {
	Brokers  []string      `yaml:"brokers" validate:"dive,hostname_port"`
	Topic    string        `yaml:"topic" validate:"required_with=Brokers"`
	Interval time.Duration `yaml:"interval"`
}

// Default is a runnable single-node simulated setup.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info", Format: "json"},
		Server:  Server{GRPCAddr: ":9090", HTTPAddr: ":8080", MetricsAddr: ":9100"},
		Executor: Executor{
			Route:         "simulated",
			Shards:        4,
			QueueSize:     1 << 12,
			UpdateBuffer:  16,
			SnapshotDepth: 10,
			VenueTimeout:  2 * time.Second,
		},
		Simulator: Simulator{HalfSpread: 1, QuoteQty: 1},
		Venue: Venue{
			FailureThreshold: 5,
			Cooldown:         10 * time.Second,
			RatePerSecond:    50,
			Burst:            10,
		},
		Journal:  Journal{Dir: "data/journal", SegmentSize: 64 << 20},
		Snapshot: Snapshot{Dir: "data/snapshots"},
		Store:    Store{Driver: "sqlite", DSN: "data/ticks.db"},
		Kafka:    Kafka{Interval: time.Second},
	}
}

// Load reads path (may be empty for defaults only).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()

	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if q := c.Executor.QueueSize; q&(q-1) != 0 {
		return errors.Newf("executor.queue_size %d is not a power of two", q)
	}
	if c.Executor.Route == "live" && c.Venue.URL == "" {
		return errors.New("venue.url is required for the live route")
	}
	return nil
}

func overrideWithEnv(cfg *Config) error {
	str := map[string]*string{
		"FXH_LOG_LEVEL":    &cfg.Logging.Level,
		"FXH_LOG_FORMAT":   &cfg.Logging.Format,
		"FXH_GRPC_ADDR":    &cfg.Server.GRPCAddr,
		"FXH_HTTP_ADDR":    &cfg.Server.HTTPAddr,
		"FXH_METRICS_ADDR": &cfg.Server.MetricsAddr,
		"FXH_ROUTE":        &cfg.Executor.Route,
		"FXH_VENUE_URL":    &cfg.Venue.URL,
		"FXH_STORE_DRIVER": &cfg.Store.Driver,
		"FXH_STORE_DSN":    &cfg.Store.DSN,
		"FXH_JOURNAL_DIR":  &cfg.Journal.Dir,
		"FXH_OUTBOX_DIR":   &cfg.Outbox.Dir,
		"FXH_KAFKA_TOPIC":  &cfg.Kafka.Topic,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("FXH_SHARDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "FXH_SHARDS=%q", v)
		}
		cfg.Executor.Shards = n
	}
	if v, ok := os.LookupEnv("FXH_VENUE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "FXH_VENUE_TIMEOUT=%q", v)
		}
		cfg.Executor.VenueTimeout = d
	}
	if v, ok := os.LookupEnv("FXH_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return nil
}
