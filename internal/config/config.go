package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/spf13/viper"
)

// Configuration is the explicit, construction-time configuration of the
// engine. No package-level mutable state: the struct is built once and passed
// down.
type Configuration struct {
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Dunning    DunningConfig    `mapstructure:"dunning"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	CredHub    CredHubConfig    `mapstructure:"credhub"`
	Email      EmailConfig      `mapstructure:"email"`
}

type DeploymentConfig struct {
	Mode string `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type BillingConfig struct {
	// DefaultPlatformFeePercent applies when a plan does not set its own fee
	DefaultPlatformFeePercent float64 `mapstructure:"default_platform_fee_percent" validate:"gte=0,lte=100"`
	DefaultTaxPercent         float64 `mapstructure:"default_tax_percent" validate:"gte=0,lte=100"`
	// GatewayMaxRetries bounds the backoff retry loop around gateway charges
	GatewayMaxRetries uint64 `mapstructure:"gateway_max_retries"`
}

type DunningConfig struct {
	// MaxRetryAttempts is the failure count at which access is revoked
	MaxRetryAttempts int `mapstructure:"max_retry_attempts" validate:"gte=2"`
}

type CacheConfig struct {
	Type string `mapstructure:"type"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StripeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type CredHubConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RetryMax       int    `mapstructure:"retry_max"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
}

// NewConfig loads configuration from config files and environment variables
func NewConfig() (*Configuration, error) {
	v := viper.New()

	// Optional .env for local development
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUBKERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults are enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithHint("Failed to read configuration file").
				Mark(ierr.ErrSystem)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to unmarshal configuration").
			Mark(ierr.ErrSystem)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", "development")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("billing.default_platform_fee_percent", 15.0)
	v.SetDefault("billing.default_tax_percent", 0.0)
	v.SetDefault("billing.gateway_max_retries", 3)
	v.SetDefault("dunning.max_retry_attempts", 4)
	v.SetDefault("cache.type", "inmemory")
	v.SetDefault("credhub.timeout_seconds", 10)
	v.SetDefault("credhub.retry_max", 3)
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return ierr.WithError(err).
			WithHint("Invalid configuration").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// GetDefaultConfig returns a configuration suitable for tests and scripts
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: "development"},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: "debug"},
		Billing: BillingConfig{
			DefaultPlatformFeePercent: 15.0,
			DefaultTaxPercent:         0.0,
			GatewayMaxRetries:         3,
		},
		Dunning: DunningConfig{MaxRetryAttempts: 4},
		Cache:   CacheConfig{Type: "inmemory"},
	}
}
