package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the relay process.
// Values come from env, optionally seeded by the file named in CONFIG_FILE.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Signal  SignalConfig
	Tracing TracingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. An empty Host disables the presence mirror.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// SignalConfig tunes the websocket signaling transport.
type SignalConfig struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64

	MessagesPerSecond float64
	Burst             int

	// AllowedOrigins is matched against the Origin header; "*" allows any.
	AllowedOrigins []string
}

// TracingConfig enables span export to a Jaeger collector.
type TracingConfig struct {
	Enabled    bool
	JaegerURL  string
	SampleRate float64
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	c := Config{}
	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port = v.GetInt("APP_PORT")

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port = v.GetInt("REDIS_PORT")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TTL")

	c.Signal.PingInterval = v.GetDuration("SIGNAL_PING_INTERVAL")
	c.Signal.PongTimeout = v.GetDuration("SIGNAL_PONG_TIMEOUT")
	c.Signal.WriteTimeout = v.GetDuration("SIGNAL_WRITE_TIMEOUT")
	c.Signal.SendBuffer = v.GetInt("SIGNAL_SEND_BUFFER")
	c.Signal.MaxMessageBytes = v.GetInt64("SIGNAL_MAX_MESSAGE_BYTES")
	c.Signal.MessagesPerSecond = v.GetFloat64("SIGNAL_MESSAGES_PER_SECOND")
	c.Signal.Burst = v.GetInt("SIGNAL_BURST")
	c.Signal.AllowedOrigins = splitList(v.GetString("SIGNAL_ALLOWED_ORIGINS"))

	c.Tracing.Enabled = v.GetBool("TRACING_ENABLED")
	c.Tracing.JaegerURL = strings.TrimSpace(v.GetString("TRACING_JAEGER_URL"))
	c.Tracing.SampleRate = v.GetFloat64("TRACING_SAMPLE_RATE")

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("SIGNAL_PING_INTERVAL", "25s")
	v.SetDefault("SIGNAL_PONG_TIMEOUT", "60s")
	v.SetDefault("SIGNAL_WRITE_TIMEOUT", "10s")
	v.SetDefault("SIGNAL_SEND_BUFFER", 64)
	v.SetDefault("SIGNAL_MAX_MESSAGE_BYTES", 64*1024)
	v.SetDefault("SIGNAL_MESSAGES_PER_SECOND", 50)
	v.SetDefault("SIGNAL_BURST", 100)
	v.SetDefault("SIGNAL_ALLOWED_ORIGINS", "*")
	v.SetDefault("TRACING_JAEGER_URL", "http://localhost:14268/api/traces")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
}

// Validate reports every problem at once. It takes a pointer because it fills
// environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 24 * time.Hour
	}

	if c.Signal.PingInterval <= 0 {
		c.Signal.PingInterval = 25 * time.Second
	}
	if c.Signal.PongTimeout <= 0 {
		c.Signal.PongTimeout = 60 * time.Second
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		errs = append(errs, errors.New("SIGNAL_PONG_TIMEOUT must be greater than SIGNAL_PING_INTERVAL"))
	}
	if c.Signal.WriteTimeout <= 0 {
		c.Signal.WriteTimeout = 10 * time.Second
	}
	if c.Signal.SendBuffer <= 0 {
		c.Signal.SendBuffer = 64
	}
	if c.Signal.MaxMessageBytes <= 0 {
		c.Signal.MaxMessageBytes = 64 * 1024
	}
	if c.Signal.MessagesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("SIGNAL_MESSAGES_PER_SECOND must be > 0, got %v", c.Signal.MessagesPerSecond))
	}
	if c.Signal.Burst <= 0 {
		errs = append(errs, fmt.Errorf("SIGNAL_BURST must be > 0, got %d", c.Signal.Burst))
	}
	if c.IsProduction() && containsWildcard(c.Signal.AllowedOrigins) {
		errs = append(errs, errors.New("SIGNAL_ALLOWED_ORIGINS must not contain * in production"))
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			errs = append(errs, errors.New("TRACING_JAEGER_URL is required when TRACING_ENABLED is set"))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATE must be within [0, 1], got %v", c.Tracing.SampleRate))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsLocal reports whether developer-friendly defaults (colored logs, debug level) apply.
func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr returns "" when the mirror is disabled.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsWildcard(list []string) bool {
	for _, s := range list {
		if s == "*" {
			return true
		}
	}
	return false
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
