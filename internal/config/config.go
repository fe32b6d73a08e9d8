package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names an optional YAML file read before the environment.
const FileEnv = "GUESTLIST_CONFIG"

type Config struct {
	Port    string
	GinMode string

	RemoteBaseURL string
	RemoteBaseID  string
	RemoteTable   string
	RemoteAPIKey  string
	RemoteTimeout time.Duration
	RemoteRPS     float64

	AdminPIN      string
	KioskPIN      string
	SessionSecret string
	SessionTTL    time.Duration
	SecureCookie  bool

	FieldAliasesFile string
	SeedFile         string
	PageSize         int
	SummaryCacheTTL  time.Duration

	RateLimitRPS        float64
	RateLimitBurst      int
	LoginRateLimitRPS   float64
	LoginRateLimitBurst int

	KioskServerURL  string
	KioskRole       string
	KioskTimeout    time.Duration
	QueueDBPath     string
	QueueMaxRetries int
	WatchInterval   time.Duration

	LogLevel string
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"GIN_MODE":               "release",
	"AIRTABLE_BASE_URL":      "https://api.airtable.com/v0",
	"AIRTABLE_TABLE_NAME":    "Guests",
	"REMOTE_TIMEOUT":         "10s",
	"REMOTE_RPS":             5.0,
	"SESSION_TTL":            "12h",
	"SECURE_COOKIE":          false,
	"PAGE_SIZE":              50,
	"SUMMARY_CACHE_TTL":      "5s",
	"RATE_LIMIT_RPS":         10.0,
	"RATE_LIMIT_BURST":       40,
	"LOGIN_RATE_LIMIT_RPS":   0.2,
	"LOGIN_RATE_LIMIT_BURST": 5,
	"KIOSK_SERVER_URL":       "http://localhost:8080",
	"KIOSK_ROLE":             "kiosk",
	"KIOSK_TIMEOUT":          "8s",
	"QUEUE_DB_PATH":          "guestlist-queue.db",
	"QUEUE_MAX_RETRIES":      5,
	"WATCH_INTERVAL":         "15s",
	"LOG_LEVEL":              "info",
}

// Load reads defaults, then the optional file named by GUESTLIST_CONFIG,
// then the environment.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if err := v.BindEnv(FileEnv); err != nil {
		return nil, fmt.Errorf("binding %s: %w", FileEnv, err)
	}
	if path := v.GetString(FileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	return &Config{
		Port:    v.GetString("PORT"),
		GinMode: v.GetString("GIN_MODE"),

		RemoteBaseURL: v.GetString("AIRTABLE_BASE_URL"),
		RemoteBaseID:  v.GetString("AIRTABLE_BASE_ID"),
		RemoteTable:   v.GetString("AIRTABLE_TABLE_NAME"),
		RemoteAPIKey:  v.GetString("AIRTABLE_API_KEY"),
		RemoteTimeout: v.GetDuration("REMOTE_TIMEOUT"),
		RemoteRPS:     v.GetFloat64("REMOTE_RPS"),

		AdminPIN:      v.GetString("ADMIN_PIN"),
		KioskPIN:      v.GetString("KIOSK_PIN"),
		SessionSecret: v.GetString("SESSION_SECRET"),
		SessionTTL:    v.GetDuration("SESSION_TTL"),
		SecureCookie:  v.GetBool("SECURE_COOKIE"),

		FieldAliasesFile: v.GetString("FIELD_ALIASES_FILE"),
		SeedFile:         v.GetString("SEED_FILE"),
		PageSize:         v.GetInt("PAGE_SIZE"),
		SummaryCacheTTL:  v.GetDuration("SUMMARY_CACHE_TTL"),

		RateLimitRPS:        v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:      v.GetInt("RATE_LIMIT_BURST"),
		LoginRateLimitRPS:   v.GetFloat64("LOGIN_RATE_LIMIT_RPS"),
		LoginRateLimitBurst: v.GetInt("LOGIN_RATE_LIMIT_BURST"),

		KioskServerURL:  v.GetString("KIOSK_SERVER_URL"),
		KioskRole:       v.GetString("KIOSK_ROLE"),
		KioskTimeout:    v.GetDuration("KIOSK_TIMEOUT"),
		QueueDBPath:     v.GetString("QUEUE_DB_PATH"),
		QueueMaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		WatchInterval:   v.GetDuration("WATCH_INTERVAL"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}, nil
}

// ValidateServer reports settings the API server cannot start without.
func (c *Config) ValidateServer() error {
	var errs []error
	for name, val := range map[string]string{
		"AIRTABLE_BASE_ID":    c.RemoteBaseID,
		"AIRTABLE_TABLE_NAME": c.RemoteTable,
		"AIRTABLE_API_KEY":    c.RemoteAPIKey,
		"SESSION_SECRET":      c.SessionSecret,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.AdminPIN == "" && c.KioskPIN == "" {
		errs = append(errs, errors.New("at least one of ADMIN_PIN and KIOSK_PIN is required"))
	}
	return errors.Join(errs...)
}

// LoginPIN is the PIN the kiosk client logs in with for its role.
func (c *Config) LoginPIN() string {
	if c.KioskRole == "admin" {
		return c.AdminPIN
	}
	return c.KioskPIN
}
