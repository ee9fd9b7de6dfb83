package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	History   HistoryConfig   `mapstructure:"history"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Processor ProcessorConfig `mapstructure:"processor"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"` // SQLite database file
}

type FetcherConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Symbols  []string      `mapstructure:"symbols"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ThrottleConfig struct {
	Epsilon float64       `mapstructure:"epsilon"` // minimum absolute price delta that forces a history write
	Window  time.Duration `mapstructure:"window"`  // maximum elapsed time before a history write is forced
}

type LedgerConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "stock_quotes")
	v.SetDefault("kafka.group_id", "quote-processor-group")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("history.path", "data/history.db")

	v.SetDefault("fetcher.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("fetcher.api_key", "")
	v.SetDefault("fetcher.symbols", []string{"AAPL", "TSLA", "MSFT", "GOOGL", "AMZN"})
	v.SetDefault("fetcher.interval", 15*time.Second)
	v.SetDefault("fetcher.timeout", 5*time.Second)

	v.SetDefault("throttle.epsilon", 0.1)
	v.SetDefault("throttle.window", 5*time.Minute)

	v.SetDefault("ledger.starting_balance", 45000.0)

	v.SetDefault("processor.num_workers", 4)

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "history.path")
	bindEnv(v, "fetcher.base_url", "fetcher.api_key", "fetcher.symbols", "fetcher.interval", "fetcher.timeout")
	bindEnv(v, "throttle.epsilon", "throttle.window")
	bindEnv(v, "ledger.starting_balance")
	bindEnv(v, "processor.num_workers")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if len(cfg.Fetcher.Symbols) == 0 {
		return nil, fmt.Errorf("fetcher symbols cannot be empty")
	}
	if cfg.Throttle.Epsilon < 0 {
		return nil, fmt.Errorf("throttle epsilon cannot be negative")
	}
	if cfg.Ledger.StartingBalance < 0 {
		return nil, fmt.Errorf("ledger starting balance cannot be negative")
	}
	if cfg.Processor.NumWorkers <= 0 {
		return nil, fmt.Errorf("processor needs at least one worker")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
