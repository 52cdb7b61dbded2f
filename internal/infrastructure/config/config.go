package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Ecommerce EcommerceConfig
	WMS       WMSConfig
	Retry     RetryConfig
	Process   ProcessConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
	MaxBodySize     int64
	TrustedProxies  []string
}

// EcommerceConfig holds the order source API settings
type EcommerceConfig struct {
	BaseURL    string
	APIToken   string
	LocationID string
	Timeout    time.Duration
}

// WMSConfig holds the warehouse API settings and the static fulfillment settings
type WMSConfig struct {
	BaseURL         string
	Username        string
	Password        string
	WarehouseID     string
	Timeout         time.Duration
	LeadTimeDays    int
	ShippingMethod  string
	Priority        string
	ConfirmationTTL time.Duration // How long delivery confirmations suppress resubmission
}

// RetryConfig holds the delivery retry policy
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// ProcessConfig holds pipeline run settings
type ProcessConfig struct {
	Timeout   time.Duration // Upper bound of one pipeline run
	Retention time.Duration // How long the memory store keeps records
	Store     string        // memory or postgres
	Lock      string        // memory or redis
	LockTTL   time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    int           // in minutes
	ConnMaxIdleTime    int           // in minutes
	SlowQueryThreshold time.Duration // negative disables slow statement logging
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	SigningSecret string // HMAC-SHA256 secret; empty disables verification
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	LogsEnabled       bool // Export zap entries to the collector as OTLP logs
}

// Storage and lock backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// legacyEnv maps config keys to the environment names the bridge has always read.
// They are honored alongside the BRIDGE_ prefixed names.
var legacyEnv = map[string]string{
	"ecommerce.api_token":   "ECOMMERCE_API_TOKEN",
	"ecommerce.location_id": "ECOMMERCE_LOCATION_ID",
	"ecommerce.base_url":    "ECOMMERCE_API_BASE_URL",
	"wms.username":          "WMS_USERNAME",
	"wms.password":          "WMS_PASSWORD",
	"wms.warehouse_id":      "WMS_WAREHOUSE_ID",
	"wms.base_url":          "WMS_API_BASE_URL",
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BRIDGE_ prefix (e.g., BRIDGE_WMS_PASSWORD)
// 2. Unprefixed legacy names (e.g., WMS_PASSWORD)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		prefixed := "BRIDGE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", name, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ecommerce: EcommerceConfig{
			BaseURL:    v.GetString("ecommerce.base_url"),
			APIToken:   v.GetString("ecommerce.api_token"),
			LocationID: v.GetString("ecommerce.location_id"),
			Timeout:    v.GetDuration("ecommerce.timeout"),
		},
		WMS: WMSConfig{
			BaseURL:         v.GetString("wms.base_url"),
			Username:        v.GetString("wms.username"),
			Password:        v.GetString("wms.password"),
			WarehouseID:     v.GetString("wms.warehouse_id"),
			Timeout:         v.GetDuration("wms.timeout"),
			LeadTimeDays:    v.GetInt("wms.lead_time_days"),
			ShippingMethod:  v.GetString("wms.shipping_method"),
			Priority:        v.GetString("wms.priority"),
			ConfirmationTTL: v.GetDuration("wms.confirmation_ttl"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Multiplier:  v.GetFloat64("retry.multiplier"),
			Jitter:      v.GetFloat64("retry.jitter"),
		},
		Process: ProcessConfig{
			Timeout:   v.GetDuration("process.timeout"),
			Retention: v.GetDuration("process.retention"),
			Store:     v.GetString("process.store"),
			Lock:      v.GetString("process.lock"),
			LockTTL:   v.GetDuration("process.lock_ttl"),
		},
		Database: DatabaseConfig{
			Host:               v.GetString("database.host"),
			Port:               v.GetInt("database.port"),
			User:               v.GetString("database.user"),
			Password:           v.GetString("database.password"),
			DBName:             v.GetString("database.dbname"),
			SSLMode:            v.GetString("database.sslmode"),
			MaxOpenConns:       v.GetInt("database.max_open_conns"),
			MaxIdleConns:       v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime:    v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime:    v.GetInt("database.conn_max_idle_time"),
			SlowQueryThreshold: v.GetDuration("database.slow_query_threshold"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Webhook: WebhookConfig{
			SigningSecret: v.GetString("webhook.signing_secret"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fulfillment-bridge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "3000"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "1.0.0"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 90 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Ecommerce.BaseURL == "" {
		cfg.Ecommerce.BaseURL = "https://api.ecommerce-platform.com"
	}
	if cfg.Ecommerce.Timeout == 0 {
		cfg.Ecommerce.Timeout = 10 * time.Second
	}
	if cfg.WMS.BaseURL == "" {
		cfg.WMS.BaseURL = "https://api.warehouse-system.com"
	}
	if cfg.WMS.Timeout == 0 {
		cfg.WMS.Timeout = 15 * time.Second
	}
	if cfg.WMS.LeadTimeDays == 0 {
		cfg.WMS.LeadTimeDays = 1
	}
	if cfg.WMS.ShippingMethod == "" {
		cfg.WMS.ShippingMethod = "standard"
	}
	if cfg.WMS.Priority == "" {
		cfg.WMS.Priority = "normal"
	}
	if cfg.WMS.ConfirmationTTL == 0 {
		cfg.WMS.ConfirmationTTL = 7 * 24 * time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = 0.2
	}
	if cfg.Process.Timeout == 0 {
		cfg.Process.Timeout = 60 * time.Second
	}
	if cfg.Process.Retention == 0 {
		cfg.Process.Retention = 24 * time.Hour
	}
	if cfg.Process.Store == "" {
		cfg.Process.Store = BackendMemory
	}
	if cfg.Process.Lock == "" {
		cfg.Process.Lock = BackendMemory
	}
	if cfg.Process.LockTTL == 0 {
		cfg.Process.LockTTL = 2 * time.Minute
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fulfillment"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.SlowQueryThreshold == 0 {
		cfg.Database.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay (%s) cannot exceed retry.max_delay (%s)",
			c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %f", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1), got %f", c.Retry.Jitter)
	}
	if c.WMS.LeadTimeDays < 0 {
		return fmt.Errorf("wms.lead_time_days cannot be negative")
	}

	switch c.Process.Store {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("process.store must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Process.Store)
	}
	switch c.Process.Lock {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("process.lock must be %q or %q, got %q", BackendMemory, BackendRedis, c.Process.Lock)
	}
	if c.Process.LockTTL <= c.Process.Timeout {
		return fmt.Errorf("process.lock_ttl (%s) must exceed process.timeout (%s)", c.Process.LockTTL, c.Process.Timeout)
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Ecommerce.APIToken == "" {
			return fmt.Errorf("ecommerce.api_token is required in production")
		}
		if c.WMS.Username == "" || c.WMS.Password == "" {
			return fmt.Errorf("wms.username and wms.password are required in production")
		}
		if c.WMS.WarehouseID == "" {
			return fmt.Errorf("wms.warehouse_id is required in production")
		}
		if c.Process.Store == BackendPostgres && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
