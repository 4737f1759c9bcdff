// Package config provides configuration loading using koanf.
// Precedence: environment variables, then compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/archivebot/internal/domain"
)

// Config holds all service configuration. Environment variables map onto
// keys by lowercasing and replacing "_" with ".", so every leaf key is a
// single word (LOG_LEVEL -> log.level, WHATSAPP_STOREPATH -> whatsapp.storepath).
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log  LogConfig  `koanf:"log"`
	HTTP HTTPConfig `koanf:"http"`
	GRPC GRPCConfig `koanf:"grpc"`

	WhatsApp   WhatsAppConfig   `koanf:"whatsapp"`
	QR         QRConfig         `koanf:"qr"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Bot        BotConfig        `koanf:"bot"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`
	NATS     NATSConfig     `koanf:"nats"`

	// Collaborators
	Gemini    GeminiConfig    `koanf:"gemini"`
	GCS       GCSConfig       `koanf:"gcs"`
	Shortener ShortenerConfig `koanf:"shortener"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Admin     AdminConfig     `koanf:"admin"`

	OTEL OTELConfig `koanf:"otel"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig holds the admin/health HTTP listener settings.
type HTTPConfig struct {
	Port int `koanf:"port"`
}

// GRPCConfig holds the gRPC health listener settings. Port 0 disables it.
type GRPCConfig struct {
	Port int `koanf:"port"`
}

// WhatsAppConfig holds the transport session settings.
type WhatsAppConfig struct {
	StorePath string        `koanf:"storepath"` // sqlite device store
	LogLevel  string        `koanf:"loglevel"`  // transport library log level
	SendRate  float64       `koanf:"sendrate"`  // outbound messages per second
	SendBurst int           `koanf:"sendburst"`
	Debounce  time.Duration `koanf:"debounce"` // fault-to-reconnect debounce
	Connect   time.Duration `koanf:"connect"`  // connect timeout
}

// QRConfig holds the pairing challenge throttle settings.
type QRConfig struct {
	Dir       string        `koanf:"dir"`
	Window    time.Duration `koanf:"window"`
	Max       int           `koanf:"max"`
	Cooldown  time.Duration `koanf:"cooldown"`
	Freshness time.Duration `koanf:"freshness"`
	Terminal  bool          `koanf:"terminal"`
}

// SupervisorConfig holds the reconnection state machine timings.
type SupervisorConfig struct {
	Settle     time.Duration `koanf:"settle"`
	Cooldown   time.Duration `koanf:"cooldown"`
	Teardown   time.Duration `koanf:"teardown"`
	Status     time.Duration `koanf:"status"`
	Probe      time.Duration `koanf:"probe"`
	Inactivity time.Duration `koanf:"inactivity"`
}

// DispatchConfig holds the message dispatcher settings.
type DispatchConfig struct {
	InFlightTTL time.Duration `koanf:"inflightttl"`
	Backend     string        `koanf:"backend"` // "memory" or "redis"
	CacheTTL    time.Duration `koanf:"cachettl"`
	CacheSize   int           `koanf:"cachesize"`
	Timeout     time.Duration `koanf:"timeout"` // per-message handler budget
}

// BotConfig holds chat-facing behavior.
type BotConfig struct {
	Timezone string `koanf:"timezone"`
	MaxMedia int64  `koanf:"maxmedia"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint   string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout    time.Duration `koanf:"timeout"`
	UsersTable string        `koanf:"userstable"`
	MediaTable string        `koanf:"mediatable"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// NATSConfig holds the lifecycle event publisher settings. Empty URL disables it.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// GeminiConfig holds the content classifier settings.
type GeminiConfig struct {
	APIKey   domain.SecretString `koanf:"apikey"`
	SecretID string              `koanf:"secretid"` // Secrets Manager fallback
	Model    string              `koanf:"model"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// GCSConfig holds the object storage settings.
type GCSConfig struct {
	Bucket          string `koanf:"bucket"`
	CredentialsFile string `koanf:"credentials"`
}

// ShortenerConfig holds the URL shortener settings.
type ShortenerConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AlertsConfig holds operator alert settings. Empty topic logs alerts instead.
type AlertsConfig struct {
	TopicARN string `koanf:"topic"`
}

// AdminConfig holds admin surface authentication.
type AdminConfig struct {
	Secret   domain.SecretString `koanf:"secret"`
	SecretID string              `koanf:"secretid"`
	TokenTTL time.Duration       `koanf:"tokenttl"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string  `koanf:"endpoint"`    // Empty disables OTLP export
	SampleRatio float64 `koanf:"sampleratio"` // fraction of root traces kept
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Log:         LogConfig{Level: "info", Format: "json"},
		HTTP:        HTTPConfig{Port: 3030},
		GRPC:        GRPCConfig{Port: 9090},

		WhatsApp: WhatsAppConfig{
			StorePath: "data/whatsapp.db",
			LogLevel:  "WARN",
			SendRate:  domain.OutboundRatePerSec,
			SendBurst: domain.OutboundBurst,
			Debounce:  domain.FaultDebounce,
			Connect:   domain.ConnectTimeout,
		},
		QR: QRConfig{
			Dir:       "public",
			Window:    domain.QRThrottleWindow,
			Max:       domain.QRMaxRegenerations,
			Cooldown:  domain.QRCooldown,
			Freshness: domain.QRArtifactFreshness,
			Terminal:  true,
		},
		Supervisor: SupervisorConfig{
			Settle:     domain.SettleDelay,
			Cooldown:   domain.ReconnectCooldown,
			Teardown:   domain.TeardownTimeout,
			Status:     domain.StatusTimeout,
			Probe:      domain.HealthProbeEvery,
			Inactivity: domain.InactivityTrigger,
		},
		Dispatch: DispatchConfig{
			InFlightTTL: domain.InFlightTTL,
			Backend:     "memory",
			CacheTTL:    domain.VerifiedCacheTTL,
			CacheSize:   domain.VerifiedCacheSize,
			Timeout:     domain.HandlerTimeout,
		},
		Bot: BotConfig{
			Timezone: "UTC",
			MaxMedia: domain.MaxMediaBytes,
		},

		DynamoDB: DynamoDBConfig{
			Timeout:    domain.DynamoDBTimeout,
			UsersTable: "users",
			MediaTable: "media",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Timeout: domain.RedisTimeout,
		},
		AWS:  AWSConfig{Region: "us-east-1"},
		NATS: NATSConfig{Subject: "archivebot.lifecycle"},

		Gemini:    GeminiConfig{Model: "gemini-1.5-flash", Timeout: domain.ClassifierTimeout},
		Shortener: ShortenerConfig{Endpoint: "http://tinyurl.com/api-create.php", Timeout: domain.ShortenerTimeout},
		Admin:     AdminConfig{TokenTTL: time.Hour},

		OTEL: OTELConfig{SampleRatio: 1},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing in prod cause a startup failure.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks timing invariants in every environment and required keys
// outside local development.
func validate(cfg *Config) error {
	if cfg.Supervisor.Settle >= cfg.Supervisor.Cooldown {
		return fmt.Errorf("%w: supervisor.settle must be shorter than supervisor.cooldown", domain.ErrConfigInvalid)
	}
	if cfg.QR.Window >= cfg.QR.Cooldown {
		return fmt.Errorf("%w: qr.window must be shorter than qr.cooldown", domain.ErrConfigInvalid)
	}
	if cfg.Supervisor.Probe < domain.MinHealthProbeTick || cfg.Supervisor.Probe > domain.MaxHealthProbeTick {
		return fmt.Errorf("%w: supervisor.probe must be between %s and %s",
			domain.ErrConfigInvalid, domain.MinHealthProbeTick, domain.MaxHealthProbeTick)
	}
	if cfg.Dispatch.Backend != "memory" && cfg.Dispatch.Backend != "redis" {
		return fmt.Errorf("%w: dispatch.backend %q", domain.ErrConfigInvalid, cfg.Dispatch.Backend)
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return fmt.Errorf("%w: otel.sampleratio must be within [0, 1]", domain.ErrConfigInvalid)
	}
	if _, err := time.LoadLocation(cfg.Bot.Timezone); err != nil {
		return fmt.Errorf("%w: bot.timezone: %v", domain.ErrConfigInvalid, err)
	}

	if !cfg.IsProd() {
		return nil
	}

	if cfg.Admin.Secret.IsEmpty() && cfg.Admin.SecretID == "" {
		return fmt.Errorf("%w: admin.secret", domain.ErrConfigRequired)
	}
	if cfg.Gemini.APIKey.IsEmpty() && cfg.Gemini.SecretID == "" {
		return fmt.Errorf("%w: gemini.apikey", domain.ErrConfigRequired)
	}
	if cfg.GCS.Bucket == "" {
		return fmt.Errorf("%w: gcs.bucket", domain.ErrConfigRequired)
	}
	if cfg.Dispatch.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}

	return nil
}

// Location returns the configured chat-facing time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
