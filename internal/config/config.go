package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values come from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables.
type Config struct {
	Env      string `yaml:"env"`
	HTTPPort string `yaml:"http_port"`
	GRPCPort string `yaml:"grpc_port"`

	DatabaseDSN string `yaml:"database_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`

	SweepInterval  time.Duration `yaml:"sweep_interval"`
	TypingTTL      time.Duration `yaml:"typing_ttl"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMissedPings int           `yaml:"max_missed_pings"`
	EditWindow     time.Duration `yaml:"edit_window"`

	// RateLimit of zero disables rate limiting.
	RateLimit  int64         `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	DebugRoutes    bool     `yaml:"debug_routes"`
}

func Default() Config {
	return Config{
		Env:            "development",
		HTTPPort:       "8083",
		GRPCPort:       "9083",
		AMQPExchange:   "chat.events",
		KafkaTopic:     "chat-notifications",
		JWTIssuer:      "auth-service",
		SweepInterval:  30 * time.Second,
		TypingTTL:      5 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMissedPings: 2,
		EditWindow:     15 * time.Minute,
		RateWindow:     time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.HTTPPort = getEnv("PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.DatabaseDSN = getEnv("DB_DSN", c.DatabaseDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.KafkaBrokers = getList("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnv("JWT_ISSUER", c.JWTIssuer)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.AllowedOrigins = getList("ALLOWED_ORIGINS", c.AllowedOrigins)

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SWEEP_INTERVAL", &c.SweepInterval},
		{"TYPING_TTL", &c.TypingTTL},
		{"PING_INTERVAL", &c.PingInterval},
		{"EDIT_WINDOW", &c.EditWindow},
		{"RATE_WINDOW", &c.RateWindow},
	}
	for _, d := range durations {
		if raw := getEnv(d.key, ""); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
				continue
			}
			*d.dst = v
		}
	}
	if raw := getEnv("MAX_MISSED_PINGS", ""); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_MISSED_PINGS: %w", err))
		} else {
			c.MaxMissedPings = v
		}
	}
	if raw := getEnv("RATE_LIMIT", ""); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
		} else {
			c.RateLimit = v
		}
	}
	if raw := getEnv("DEBUG_ROUTES", ""); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEBUG_ROUTES: %w", err))
		} else {
			c.DebugRoutes = v
		}
	}
	return errors.Join(errs...)
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.TypingTTL <= 0 {
		errs = append(errs, errors.New("TYPING_TTL must be positive"))
	}
	if c.PingInterval <= 0 || c.MaxMissedPings < 1 {
		errs = append(errs, errors.New("PING_INTERVAL and MAX_MISSED_PINGS must be positive"))
	}
	if c.EditWindow < 0 {
		errs = append(errs, errors.New("EDIT_WINDOW must not be negative"))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateWindow <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT needs a positive RATE_WINDOW"))
	}
	if c.RateLimit > 0 && c.RedisAddr == "" {
		errs = append(errs, errors.New("RATE_LIMIT needs REDIS_ADDR"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
