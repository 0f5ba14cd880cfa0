package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP_PORT       string `mapstructure:"HTTP_PORT"`
	APP_ENV         string `mapstructure:"APP_ENV"`
	DB_STRING       string `mapstructure:"DB_STRING"`
	WEBHOOK_SECRET  string `mapstructure:"WEBHOOK_SECRET"`
	MAX_BODY_BYTES  int64  `mapstructure:"MAX_BODY_BYTES"`
	DEBUG_ENDPOINTS bool   `mapstructure:"DEBUG_ENDPOINTS"`
	BASE_PUBLIC_URL string `mapstructure:"BASE_PUBLIC_URL"`

	VINDECODER_BASE_URL   string        `mapstructure:"VINDECODER_BASE_URL"`
	VINDECODER_API_KEY    string        `mapstructure:"VINDECODER_API_KEY"`
	VINDECODER_SECRET_KEY string        `mapstructure:"VINDECODER_SECRET_KEY"`
	VINDECODER_TIMEOUT    time.Duration `mapstructure:"VINDECODER_TIMEOUT"`
	VINDECODER_RPS        float64       `mapstructure:"VINDECODER_RPS"`
	VINDECODER_BURST      int           `mapstructure:"VINDECODER_BURST"`

	PDF_ENABLED    bool          `mapstructure:"PDF_ENABLED"`
	RENDERER       string        `mapstructure:"RENDERER"`
	CHROME_PATH    string        `mapstructure:"CHROME_PATH"`
	GOTENBERG_URL  string        `mapstructure:"GOTENBERG_URL"`
	RENDER_TIMEOUT time.Duration `mapstructure:"RENDER_TIMEOUT"`

	EMAIL_ENABLED       bool          `mapstructure:"EMAIL_ENABLED"`
	SMTP_HOST           string        `mapstructure:"SMTP_HOST"`
	SMTP_PORT           int           `mapstructure:"SMTP_PORT"`
	SMTP_USER           string        `mapstructure:"SMTP_USER"`
	SMTP_PASSWORD       string        `mapstructure:"SMTP_PASSWORD"`
	MAIL_FROM           string        `mapstructure:"MAIL_FROM"`
	ADMIN_EMAIL         string        `mapstructure:"ADMIN_EMAIL"`
	ALERT_PAYLOAD_LIMIT int           `mapstructure:"ALERT_PAYLOAD_LIMIT"`
	MAIL_TIMEOUT        time.Duration `mapstructure:"MAIL_TIMEOUT"`

	DELIVERY_MODE string        `mapstructure:"DELIVERY_MODE"`
	LINK_STORE    string        `mapstructure:"LINK_STORE"`
	LINK_TTL      time.Duration `mapstructure:"LINK_TTL"`
	FILES_DIR     string        `mapstructure:"FILES_DIR"`
	S3_BUCKET     string        `mapstructure:"S3_BUCKET"`
	S3_REGION     string        `mapstructure:"S3_REGION"`
	S3_ENDPOINT   string        `mapstructure:"S3_ENDPOINT"`
	S3_PREFIX     string        `mapstructure:"S3_PREFIX"`

	DEDUPE_BACKEND        string        `mapstructure:"DEDUPE_BACKEND"`
	DEDUPE_TTL            time.Duration `mapstructure:"DEDUPE_TTL"`
	DEDUPE_SWEEP_SCHEDULE string        `mapstructure:"DEDUPE_SWEEP_SCHEDULE"`
	REDIS_URL             string        `mapstructure:"REDIS_URL"`

	KAFKA_BROKERS      string `mapstructure:"KAFKA_BROKERS"`
	KAFKA_EVENTS_TOPIC string `mapstructure:"KAFKA_EVENTS_TOPIC"`
	KAFKA_RESEND_TOPIC string `mapstructure:"KAFKA_RESEND_TOPIC"`
	KAFKA_GROUP_ID     string `mapstructure:"KAFKA_GROUP_ID"`

	MAX_CONCURRENT_PIPELINES int64         `mapstructure:"MAX_CONCURRENT_PIPELINES"`
	PIPELINE_TIMEOUT         time.Duration `mapstructure:"PIPELINE_TIMEOUT"`
	DECODE_TIMEOUT           time.Duration `mapstructure:"DECODE_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_PORT":       "8080",
	"APP_ENV":         "development",
	"MAX_BODY_BYTES":  1 << 20,
	"DEBUG_ENDPOINTS": false,

	"VINDECODER_BASE_URL": "https://api.vindecoder.eu/3.2",
	"VINDECODER_TIMEOUT":  "15s",
	"VINDECODER_RPS":      5.0,
	"VINDECODER_BURST":    5,

	"PDF_ENABLED":    true,
	"RENDERER":       "chrome",
	"RENDER_TIMEOUT": "20s",

	"EMAIL_ENABLED":       true,
	"SMTP_PORT":           587,
	"ALERT_PAYLOAD_LIMIT": 20000,
	"MAIL_TIMEOUT":        "15s",

	"DELIVERY_MODE": "attachment",
	"LINK_STORE":    "disk",
	"LINK_TTL":      "72h",
	"FILES_DIR":     "./files",

	"DEDUPE_BACKEND":        "memory",
	"DEDUPE_TTL":            "24h",
	"DEDUPE_SWEEP_SCHEDULE": "@every 10m",

	"KAFKA_EVENTS_TOPIC": "vinreport.deliveries",
	"KAFKA_RESEND_TOPIC": "vinreport.resend",
	"KAFKA_GROUP_ID":     "vin-report-service",

	"MAX_CONCURRENT_PIPELINES": 4,
	"PIPELINE_TIMEOUT":         "28s",
	"DECODE_TIMEOUT":           "15s",
}

var keys = []string{
	"HTTP_PORT", "APP_ENV", "DB_STRING", "WEBHOOK_SECRET", "MAX_BODY_BYTES", "DEBUG_ENDPOINTS", "BASE_PUBLIC_URL",
	"VINDECODER_BASE_URL", "VINDECODER_API_KEY", "VINDECODER_SECRET_KEY", "VINDECODER_TIMEOUT", "VINDECODER_RPS", "VINDECODER_BURST",
	"PDF_ENABLED", "RENDERER", "CHROME_PATH", "GOTENBERG_URL", "RENDER_TIMEOUT",
	"EMAIL_ENABLED", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "MAIL_FROM", "ADMIN_EMAIL", "ALERT_PAYLOAD_LIMIT", "MAIL_TIMEOUT",
	"DELIVERY_MODE", "LINK_STORE", "LINK_TTL", "FILES_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX",
	"DEDUPE_BACKEND", "DEDUPE_TTL", "DEDUPE_SWEEP_SCHEDULE", "REDIS_URL",
	"KAFKA_BROKERS", "KAFKA_EVENTS_TOPIC", "KAFKA_RESEND_TOPIC", "KAFKA_GROUP_ID",
	"MAX_CONCURRENT_PIPELINES", "PIPELINE_TIMEOUT", "DECODE_TIMEOUT",
}

// LoadConfig reads the environment, plus a .env file in the working
// directory when one exists.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once so the
// service fails at startup, not on the first webhook.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.VINDECODER_API_KEY != "", "VINDECODER_API_KEY is required")
	require(c.VINDECODER_SECRET_KEY != "", "VINDECODER_SECRET_KEY is required")

	if c.EMAIL_ENABLED {
		require(c.SMTP_HOST != "", "SMTP_HOST is required when EMAIL_ENABLED=true")
		require(c.MAIL_FROM != "", "MAIL_FROM is required when EMAIL_ENABLED=true")
		require(c.ADMIN_EMAIL != "", "ADMIN_EMAIL is required when EMAIL_ENABLED=true")
	}

	if c.PDF_ENABLED {
		switch c.RENDERER {
		case "chrome":
		case "gotenberg":
			require(c.GOTENBERG_URL != "", "GOTENBERG_URL is required when RENDERER=gotenberg")
		default:
			require(false, "RENDERER must be chrome or gotenberg, got %q", c.RENDERER)
		}
	}

	switch c.DELIVERY_MODE {
	case "attachment":
	case "link":
		switch c.LINK_STORE {
		case "disk":
			require(c.BASE_PUBLIC_URL != "", "BASE_PUBLIC_URL is required when LINK_STORE=disk")
			require(c.FILES_DIR != "", "FILES_DIR is required when LINK_STORE=disk")
		case "s3":
			require(c.S3_BUCKET != "", "S3_BUCKET is required when LINK_STORE=s3")
			require(c.S3_REGION != "", "S3_REGION is required when LINK_STORE=s3")
		default:
			require(false, "LINK_STORE must be disk or s3, got %q", c.LINK_STORE)
		}
	default:
		require(false, "DELIVERY_MODE must be attachment or link, got %q", c.DELIVERY_MODE)
	}

	switch c.DEDUPE_BACKEND {
	case "memory":
	case "redis":
		require(c.REDIS_URL != "", "REDIS_URL is required when DEDUPE_BACKEND=redis")
	default:
		require(false, "DEDUPE_BACKEND must be memory or redis, got %q", c.DEDUPE_BACKEND)
	}

	require(c.DEDUPE_TTL > 0, "DEDUPE_TTL must be positive")
	require(c.PIPELINE_TIMEOUT > 0 && c.PIPELINE_TIMEOUT < 30*time.Second,
		"PIPELINE_TIMEOUT must be below the platform's 30s webhook timeout, got %s", c.PIPELINE_TIMEOUT)
	require(c.MAX_CONCURRENT_PIPELINES > 0, "MAX_CONCURRENT_PIPELINES must be positive")

	return errors.Join(errs...)
}
