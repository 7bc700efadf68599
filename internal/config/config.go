package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Source kinds.
const (
	SourceFile  = "file"
	SourceKafka = "kafka"
)

// Sink kinds.
const (
	SinkSQLite     = "sqlite"
	SinkClickHouse = "clickhouse"
	SinkParquet    = "parquet"
	SinkKafka      = "kafka"
)

// Write modes.
const (
	WriteOverwrite = "overwrite"
	WriteAppend    = "append"
)

// Schema error policies.
const (
	SchemaErrorSkip  = "skip"
	SchemaErrorAbort = "abort"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Source        string
	InputPath     string
	InputLocation *time.Location

	Sink      string
	TableName string
	WriteMode string

	SQLitePath string

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	ParquetDir string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	KafkaIdleTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	Workers           int
	ExpandInterval    time.Duration
	RoundPrecision    int32
	SchemaErrorPolicy string
	ExtractMaxRetries int
	ScheduleInterval  time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(sharedcfg.EnvOrDefault("INPUT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid INPUT_TIMEZONE: %w", err)
	}

	idleTimeout, err := parsePositiveDuration("KAFKA_IDLE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	expandInterval, err := parsePositiveDuration("EXPAND_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	scheduleInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SCHEDULE_INTERVAL", "0s"))
	if err != nil || scheduleInterval < 0 {
		return nil, errors.New("invalid SCHEDULE_INTERVAL")
	}

	workers, err := parseIntInRange("WORKERS", runtime.NumCPU(), 1, 1024)
	if err != nil {
		return nil, err
	}

	precision, err := parseIntInRange("ROUND_PRECISION", 2, 0, 6)
	if err != nil {
		return nil, err
	}

	maxRetries, err := parseIntInRange("EXTRACT_MAX_RETRIES", 5, 0, 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source:        sharedcfg.EnvOrDefault("SOURCE", SourceFile),
		InputPath:     sharedcfg.EnvOrDefault("INPUT_PATH", "data/DataSamplewithpipe.csv"),
		InputLocation: loc,

		Sink:      sharedcfg.EnvOrDefault("SINK", SinkSQLite),
		TableName: sharedcfg.EnvOrDefault("TABLE_NAME", "weather_pattern"),
		WriteMode: sharedcfg.EnvOrDefault("WRITE_MODE", WriteOverwrite),

		SQLitePath: sharedcfg.EnvOrDefault("SQLITE_PATH", "data/weather.db"),

		ClickHouseAddr:     sharedcfg.EnvOrDefault("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: sharedcfg.EnvOrDefault("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:     sharedcfg.EnvOrDefault("CLICKHOUSE_USER", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		ParquetDir: sharedcfg.EnvOrDefault("PARQUET_DIR", "data/out"),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-weather-forecasts"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "weather-pattern"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "weather-pattern-etl"),
		KafkaIdleTimeout: idleTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		Workers:           workers,
		ExpandInterval:    expandInterval,
		RoundPrecision:    int32(precision),
		SchemaErrorPolicy: sharedcfg.EnvOrDefault("SCHEMA_ERROR_POLICY", SchemaErrorSkip),
		ExtractMaxRetries: maxRetries,
		ScheduleInterval:  scheduleInterval,

		HTTPAddr:        ":8080",
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}
	// An explicitly empty HTTP_ADDR disables the listener.
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case SourceFile:
		if c.InputPath == "" {
			return errors.New("INPUT_PATH is required when SOURCE=file")
		}
	case SourceKafka:
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required when SOURCE=kafka")
		}
	default:
		return fmt.Errorf("invalid SOURCE %q: want %s or %s", c.Source, SourceFile, SourceKafka)
	}

	switch c.Sink {
	case SinkSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when SINK=sqlite")
		}
	case SinkClickHouse:
		if c.ClickHouseAddr == "" {
			return errors.New("CLICKHOUSE_ADDR is required when SINK=clickhouse")
		}
	case SinkParquet:
		if c.ParquetDir == "" {
			return errors.New("PARQUET_DIR is required when SINK=parquet")
		}
	case SinkKafka:
		if c.KafkaSinkTopic == "" {
			return errors.New("KAFKA_SINK_TOPIC is required when SINK=kafka")
		}
	default:
		return fmt.Errorf("invalid SINK %q", c.Sink)
	}

	if (c.Source == SourceKafka || c.Sink == SinkKafka) && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if !tableNameRe.MatchString(c.TableName) {
		return fmt.Errorf("invalid TABLE_NAME %q: letters, digits and underscores only", c.TableName)
	}
	if c.WriteMode != WriteOverwrite && c.WriteMode != WriteAppend {
		return fmt.Errorf("invalid WRITE_MODE %q: want %s or %s", c.WriteMode, WriteOverwrite, WriteAppend)
	}
	if c.SchemaErrorPolicy != SchemaErrorSkip && c.SchemaErrorPolicy != SchemaErrorAbort {
		return fmt.Errorf("invalid SCHEMA_ERROR_POLICY %q: want %s or %s", c.SchemaErrorPolicy, SchemaErrorSkip, SchemaErrorAbort)
	}
	// A scheduled kafka run only sees messages since the last commit, so
	// overwriting would replace the table with the newest hours alone.
	if c.Source == SourceKafka && c.ScheduleInterval > 0 && c.WriteMode == WriteOverwrite && c.Sink != SinkKafka {
		return fmt.Errorf("WRITE_MODE=%s cannot be combined with SOURCE=kafka and SCHEDULE_INTERVAL: use %s", WriteOverwrite, WriteAppend)
	}
	return nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}
