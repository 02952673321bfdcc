package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Pricing  Pricing  `mapstructure:"pricing"`
	Webhooks Webhooks `mapstructure:"webhooks"`
	Log      Log      `mapstructure:"log"`
}

type Server struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	InternalAPIKey string        `mapstructure:"internal_api_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type Database struct {
	// Driver is "postgres" or "memory". The memory driver keeps the ledger in
	// process and is meant for local runs.
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r Redis) Addr() string {
	return r.Host + ":" + r.Port
}

type Ledger struct {
	Currency         string        `mapstructure:"currency"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	FallbackPolicy   string        `mapstructure:"fallback_policy"`
	FallbackSkew     time.Duration `mapstructure:"fallback_skew"`
}

// Pricing keys are case-folded by viper, so plan names and user ids in
// user_plans are matched in lower case.
type Pricing struct {
	DefaultPlan  string                      `mapstructure:"default_plan"`
	Plans        map[string]map[string]int64 `mapstructure:"plans"`
	UserPlans    map[string]string           `mapstructure:"user_plans"`
	PlanCacheTTL time.Duration               `mapstructure:"plan_cache_ttl"`
}

type Webhooks struct {
	WhatsAppSecret string        `mapstructure:"whatsapp_secret"`
	PaymentSecret  string        `mapstructure:"payment_secret"`
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads ./config/config.yml when present and lets the environment
// override any key, e.g. LEDGER_LOCK_TIMEOUT for ledger.lock_timeout.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.name", "DATABASE_NAME")
	v.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.internal_api_key", "INTERNAL_API_KEY")
	v.BindEnv("webhooks.whatsapp_secret", "WHATSAPP_WEBHOOK_SECRET")
	v.BindEnv("webhooks.payment_secret", "RAZORPAY_WEBHOOK_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "wallet")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.currency", "INR")
	v.SetDefault("ledger.lock_timeout", 3*time.Second)
	v.SetDefault("ledger.statement_timeout", 5*time.Second)
	v.SetDefault("ledger.operation_timeout", 10*time.Second)
	v.SetDefault("ledger.fallback_policy", "latest")
	v.SetDefault("ledger.fallback_skew", 2*time.Minute)

	v.SetDefault("pricing.default_plan", "standard")
	v.SetDefault("pricing.plans", map[string]map[string]int64{
		"standard": {
			"authentication": 15,
			"marketing":      100,
			"utility":        15,
		},
	})
	v.SetDefault("pricing.plan_cache_ttl", 10*time.Minute)

	v.SetDefault("webhooks.dedupe_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Ledger.Currency == "" {
		return errors.New("ledger.currency is required")
	}
	if c.Ledger.LockTimeout <= 0 || c.Ledger.OperationTimeout <= 0 {
		return errors.New("ledger.lock_timeout and ledger.operation_timeout must be positive")
	}
	if _, ok := c.Pricing.Plans[c.Pricing.DefaultPlan]; !ok {
		return fmt.Errorf("pricing.default_plan %q has no price table", c.Pricing.DefaultPlan)
	}
	return nil
}
