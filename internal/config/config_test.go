package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Checkout.SessionTTL != 15*time.Minute {
		t.Fatalf("expected 15m session ttl, got %v", cfg.Checkout.SessionTTL)
	}
	if cfg.Checkout.MaxAmountCents != 1000000 {
		t.Fatalf("unexpected ceiling %d", cfg.Checkout.MaxAmountCents)
	}
	if len(cfg.Checkout.AllowedDomains) != 8 || cfg.Checkout.AllowedDomains[0] != "amazon.com" {
		t.Fatalf("unexpected domains %v", cfg.Checkout.AllowedDomains)
	}
	if cfg.Inventory.CodePrefix != "AMZN-" || cfg.Inventory.CodeLength != 16 {
		t.Fatalf("unexpected code format %q/%d", cfg.Inventory.CodePrefix, cfg.Inventory.CodeLength)
	}
	if cfg.Server.GetServerAddr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr %s", cfg.Server.GetServerAddr())
	}
	if !cfg.App.IsDevelopment() {
		t.Fatalf("expected development environment by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"CHECKOUT_SESSION_TTL":      "5m",
		"CHECKOUT_ALLOWED_DOMAINS":  "amazon.com",
		"INVENTORY_CODE_PREFIX":     "GC-",
		"DB_DRIVER":                 "memory",
		"CHECKOUT_MAX_AMOUNT_CENTS": "50000",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Checkout.SessionTTL != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", cfg.Checkout.SessionTTL)
	}
	if len(cfg.Checkout.AllowedDomains) != 1 {
		t.Fatalf("expected one domain, got %v", cfg.Checkout.AllowedDomains)
	}
	if cfg.Inventory.CodePrefix != "GC-" || cfg.Database.Driver != "memory" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "amount and driver",
			env:  map[string]string{"CHECKOUT_MAX_AMOUNT_CENTS": "0", "DB_DRIVER": "mysql"},
			want: "DB_DRIVER",
		},
		{
			name: "zero sweep interval",
			env:  map[string]string{"CHECKOUT_SWEEP_INTERVAL": "0s"},
			want: "CHECKOUT_SWEEP_INTERVAL",
		},
		{
			name: "negative sweep interval",
			env:  map[string]string{"CHECKOUT_SWEEP_INTERVAL": "-1m"},
			want: "CHECKOUT_SWEEP_INTERVAL",
		},
		{
			name: "negative token decimals",
			env:  map[string]string{"PAYMENT_TOKEN_DECIMALS": "-2"},
			want: "PAYMENT_TOKEN_DECIMALS",
		},
		{
			name: "code wider than column",
			env:  map[string]string{"INVENTORY_CODE_PREFIX": strings.Repeat("P", 50), "INVENTORY_CODE_LENGTH": "16"},
			want: "INVENTORY_CODE_LENGTH",
		},
		{
			name: "production without code secret",
			env:  map[string]string{"APP_ENVIRONMENT": "production"},
			want: "INVENTORY_CODE_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(tt.env))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error naming %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadProductionWithSecret(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"APP_ENVIRONMENT":       "production",
		"INVENTORY_CODE_SECRET": "s3cret",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.App.IsProduction() || cfg.Inventory.CodeSecret != "s3cret" {
		t.Fatalf("unexpected config %+v", cfg.App)
	}
}
