package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/kkkkikiki/topup/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Checkout session configuration
	Checkout CheckoutConfig `env:",prefix=CHECKOUT_"`

	// Gift code inventory configuration
	Inventory InventoryConfig `env:",prefix=INVENTORY_"`

	// Stablecoin payment configuration
	Payment PaymentConfig `env:",prefix=PAYMENT_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string  `env:"PORT,default=8080"`
	Host           string  `env:"HOST,default=0.0.0.0"`
	ReadTimeout    int     `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout   int     `env:"WRITE_TIMEOUT,default=30"` // seconds
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=100"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Driver   string `env:"DRIVER,default=postgres"` // postgres or memory
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=topup"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=text"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// CheckoutConfig holds checkout session rules
type CheckoutConfig struct {
	SessionTTL       time.Duration `env:"SESSION_TTL,default=15m"`
	MaxAmountCents   int64         `env:"MAX_AMOUNT_CENTS,default=1000000"`
	AllowedDomains   []string      `env:"ALLOWED_DOMAINS,default=amazon.com,amazon.co.uk,amazon.de,amazon.ca,amazon.co.jp,amazon.fr,amazon.es,amazon.it"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	MaxMetadataBytes int           `env:"MAX_METADATA_BYTES,default=4096"`
}

// InventoryConfig holds gift code format and allocation settings
type InventoryConfig struct {
	CodePrefix          string `env:"CODE_PREFIX,default=AMZN-"`
	CodeLength          int    `env:"CODE_LENGTH,default=16"`
	MaxAllocationRounds int    `env:"MAX_ALLOCATION_ROUNDS,default=3"`
	CodeSecret          string `env:"CODE_SECRET"` // keys generated code batches
}

// PaymentConfig holds stablecoin conversion settings
type PaymentConfig struct {
	TokenDecimals int32 `env:"TOKEN_DECIMALS,default=6"`
	CentsPerToken int64 `env:"CENTS_PER_TOKEN,default=100"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration from the given lookuper
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services can't run with
func (c *Config) Validate() error {
	var errs []error
	if c.Checkout.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("CHECKOUT_SESSION_TTL must be positive"))
	}
	if c.Checkout.MaxAmountCents <= 0 {
		errs = append(errs, fmt.Errorf("CHECKOUT_MAX_AMOUNT_CENTS must be positive"))
	}
	if len(c.Checkout.AllowedDomains) == 0 {
		errs = append(errs, fmt.Errorf("CHECKOUT_ALLOWED_DOMAINS must not be empty"))
	}
	if c.Checkout.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("CHECKOUT_SWEEP_INTERVAL must be positive"))
	}
	if c.Checkout.MaxMetadataBytes <= 0 {
		errs = append(errs, fmt.Errorf("CHECKOUT_MAX_METADATA_BYTES must be positive"))
	}
	if c.Inventory.CodeLength <= 0 {
		errs = append(errs, fmt.Errorf("INVENTORY_CODE_LENGTH must be positive"))
	}
	if n := len(c.Inventory.CodePrefix) + c.Inventory.CodeLength; n > validation.MaxCodeLength {
		errs = append(errs, fmt.Errorf("INVENTORY_CODE_PREFIX plus INVENTORY_CODE_LENGTH must not exceed %d characters, got %d", validation.MaxCodeLength, n))
	}
	if c.App.IsProduction() && c.Inventory.CodeSecret == "" {
		errs = append(errs, fmt.Errorf("INVENTORY_CODE_SECRET must be set in production"))
	}
	if c.Inventory.MaxAllocationRounds <= 0 {
		errs = append(errs, fmt.Errorf("INVENTORY_MAX_ALLOCATION_ROUNDS must be positive"))
	}
	if c.Payment.TokenDecimals < 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_TOKEN_DECIMALS must not be negative"))
	}
	if c.Payment.CentsPerToken <= 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_CENTS_PER_TOKEN must be positive"))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or memory, got %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
