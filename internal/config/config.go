package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the watcher application.
// Values come from environment variables, optionally layered over a YAML
// file named by CONFIG_FILE; `watcher serve --help` lists them.
type Config struct {
	HTTPAddr   string `json:"http_addr"`
	LogLevel   string `json:"log_level"`
	WatchesDir string `json:"watches_dir"`
	ConfigFile string `json:"config_file,omitempty"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// TimeWarp drives the scheduler from a fake clock advanced manually.
	TimeWarp bool `json:"time_warp"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	DrainTimeout           time.Duration `json:"-"`
	DrainTimeoutStr        string        `json:"drain_timeout"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// HistoryBackend: "memory" (in-process) or "postgres".
	HistoryBackend string `json:"history_backend"`
	DatabaseURL    string `json:"database_url"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HistoryRetryAttempts          int           `json:"history_retry_attempts"`
	HistoryRetryInitialBackoff    time.Duration `json:"-"`
	HistoryRetryInitialBackoffStr string        `json:"history_retry_initial_backoff"`
	HistoryRetryMaxBackoff        time.Duration `json:"-"`
	HistoryRetryMaxBackoffStr     string        `json:"history_retry_max_backoff"`

	ProvisionEnabled       bool          `json:"provision_enabled"`
	ProvisionInterval      time.Duration `json:"-"`
	ProvisionIntervalStr   string        `json:"provision_interval"`
	ProvisionLookaheadDays int           `json:"provision_lookahead_days"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	EmailDefaultAccount string         `json:"email_default_account,omitempty"`
	EmailAccounts       []EmailAccount `json:"-"`

	// Warnings lists values that were ignored in favour of defaults.
	Warnings []string `json:"-"`
}

// EmailAccount is one SMTP account, read from
// email.accounts.<id>.smtp.* in the config file.
type EmailAccount struct {
	ID       string
	Host     string
	Port     int
	User     string
	Password string
	Auth     string
	TLS      string
	From     string
	Timeout  time.Duration
}

type accountFile struct {
	From    string `mapstructure:"from"`
	Timeout string `mapstructure:"timeout"`
	SMTP    struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Auth     string `mapstructure:"auth"`
		TLS      string `mapstructure:"tls"`
	} `mapstructure:"smtp"`
}

var defaults = map[string]any{
	"http_addr":                     ":8080",
	"log_level":                     "info",
	"watches_dir":                   "./watches",
	"tick_interval":                 "1s",
	"time_warp":                     false,
	"eventbus_buffer_size":          "100",
	"drain_timeout":                 "30s",
	"http_shutdown_timeout":         "10s",
	"history_backend":               BackendMemory,
	"db_op_timeout":                 "5s",
	"db_max_open_conns":             "25",
	"db_max_idle_conns":             "5",
	"db_conn_max_lifetime":          "30m",
	"history_retry_attempts":        "5",
	"history_retry_initial_backoff": "100ms",
	"history_retry_max_backoff":     "5s",
	"provision_enabled":             true,
	"provision_interval":            "1h",
	"provision_lookahead_days":      "1",
	"metrics_enabled":               false,
	"metrics_path":                  "/metrics",
	"metrics_port":                  "9090",
	"analytics_window":              "5m",
	"analytics_retention":           "168h",
	"circuit_breaker_threshold":     "5",
	"circuit_breaker_cooldown":      "2m",
}

// Load reads configuration from environment variables, layered over the
// optional CONFIG_FILE, with defaults. It only fails when the config file
// cannot be read; value errors are reported by Validate.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config

	cfg.ConfigFile = v.GetString("config_file")
	if cfg.ConfigFile != "" {
		v.SetConfigFile(cfg.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, errors.Wrapf(err, "read config file %s", cfg.ConfigFile)
		}
	}

	cfg.HTTPAddr = v.GetString("http_addr")
	// Support a bare PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == defaults["http_addr"] {
		if port := v.GetString("port"); port != "" {
			cfg.HTTPAddr = ":" + port
		}
	}
	cfg.LogLevel = v.GetString("log_level")
	cfg.WatchesDir = v.GetString("watches_dir")
	cfg.TimeWarp = v.GetBool("time_warp")
	cfg.HistoryBackend = v.GetString("history_backend")
	cfg.DatabaseURL = v.GetString("database_url")
	cfg.ProvisionEnabled = v.GetBool("provision_enabled")
	cfg.MetricsEnabled = v.GetBool("metrics_enabled")
	cfg.MetricsPath = v.GetString("metrics_path")
	cfg.MetricsPort = v.GetString("metrics_port")
	cfg.RedisAddr = v.GetString("redis_addr")
	cfg.EmailDefaultAccount = v.GetString("email_default_account")

	cfg.TickIntervalStr = v.GetString("tick_interval")
	cfg.DrainTimeoutStr = v.GetString("drain_timeout")
	cfg.HTTPShutdownTimeoutStr = v.GetString("http_shutdown_timeout")
	cfg.DBOpTimeoutStr = v.GetString("db_op_timeout")
	cfg.DBConnMaxLifetimeStr = v.GetString("db_conn_max_lifetime")
	cfg.HistoryRetryInitialBackoffStr = v.GetString("history_retry_initial_backoff")
	cfg.HistoryRetryMaxBackoffStr = v.GetString("history_retry_max_backoff")
	cfg.ProvisionIntervalStr = v.GetString("provision_interval")
	cfg.AnalyticsWindowStr = v.GetString("analytics_window")
	cfg.AnalyticsRetentionStr = v.GetString("analytics_retention")
	cfg.CircuitBreakerCooldownStr = v.GetString("circuit_breaker_cooldown")

	cfg.EventBusBufferSize = cfg.positiveInt(v, "eventbus_buffer_size")
	cfg.DBMaxOpenConns = cfg.positiveInt(v, "db_max_open_conns")
	cfg.DBMaxIdleConns = cfg.positiveInt(v, "db_max_idle_conns")
	cfg.HistoryRetryAttempts = cfg.positiveInt(v, "history_retry_attempts")
	cfg.ProvisionLookaheadDays = cfg.nonNegativeInt(v, "provision_lookahead_days")
	cfg.CircuitBreakerThreshold = cfg.nonNegativeInt(v, "circuit_breaker_threshold")

	// Parse durations; validation is handled separately by Validate().
	for _, d := range []struct {
		src string
		dst *time.Duration
	}{
		{cfg.TickIntervalStr, &cfg.TickInterval},
		{cfg.DrainTimeoutStr, &cfg.DrainTimeout},
		{cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout},
		{cfg.DBOpTimeoutStr, &cfg.DBOpTimeout},
		{cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime},
		{cfg.HistoryRetryInitialBackoffStr, &cfg.HistoryRetryInitialBackoff},
		{cfg.HistoryRetryMaxBackoffStr, &cfg.HistoryRetryMaxBackoff},
		{cfg.ProvisionIntervalStr, &cfg.ProvisionInterval},
		{cfg.AnalyticsWindowStr, &cfg.AnalyticsWindow},
		{cfg.AnalyticsRetentionStr, &cfg.AnalyticsRetention},
		{cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown},
	} {
		if parsed, err := time.ParseDuration(d.src); err == nil {
			*d.dst = parsed
		}
	}

	accounts, err := loadAccounts(v)
	if err != nil {
		return cfg, err
	}
	cfg.EmailAccounts = accounts

	return cfg, nil
}

// positiveInt reads key as an integer above zero, falling back to the
// default with a warning.
func (c *Config) positiveInt(v *viper.Viper, key string) int {
	return c.intAtLeast(v, key, 1)
}

func (c *Config) nonNegativeInt(v *viper.Viper, key string) int {
	return c.intAtLeast(v, key, 0)
}

func (c *Config) intAtLeast(v *viper.Viper, key string, min int) int {
	def, _ := strconv.Atoi(defaults[key].(string))
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using default %d", strings.ToUpper(key), raw, def))
		return def
	}
	return n
}

func loadAccounts(v *viper.Viper) ([]EmailAccount, error) {
	var files map[string]accountFile
	if err := v.UnmarshalKey("email.accounts", &files); err != nil {
		return nil, errors.Wrap(err, "parse email.accounts")
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts := make([]EmailAccount, 0, len(ids))
	for _, id := range ids {
		f := files[id]
		acct := EmailAccount{
			ID:       id,
			Host:     f.SMTP.Host,
			Port:     f.SMTP.Port,
			User:     f.SMTP.User,
			Password: f.SMTP.Password,
			Auth:     f.SMTP.Auth,
			TLS:      f.SMTP.TLS,
			From:     f.From,
		}
		if f.Timeout != "" {
			d, err := time.ParseDuration(f.Timeout)
			if err != nil {
				return nil, errors.Wrapf(err, "email account %s timeout", id)
			}
			acct.Timeout = d
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

type maskedAccount struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Auth     string `json:"auth,omitempty"`
	TLS      string `json:"tls,omitempty"`
	From     string `json:"from,omitempty"`
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	accounts := make([]maskedAccount, len(c.EmailAccounts))
	for i, a := range c.EmailAccounts {
		accounts[i] = maskedAccount{
			ID:       a.ID,
			Host:     a.Host,
			Port:     a.Port,
			User:     a.User,
			Password: maskSecret(a.Password),
			Auth:     a.Auth,
			TLS:      a.TLS,
			From:     a.From,
		}
	}

	masked := struct {
		Config
		DatabaseURL   string          `json:"database_url"`
		EmailAccounts []maskedAccount `json:"email_accounts"`
	}{
		Config:        c,
		DatabaseURL:   maskSecret(c.DatabaseURL),
		EmailAccounts: accounts,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
