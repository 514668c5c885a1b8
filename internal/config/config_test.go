package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"binance":     {Enabled: true, Driver: "binance"},
		"hyperliquid": {Enabled: true, Driver: "hyperliquid"},
	}
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "yolo" },
			wantSub: "unknown mode",
		},
		{
			name:    "same venues",
			mutate:  func(c *Config) { c.Trading.VenueB = c.Trading.VenueA },
			wantSub: "must differ",
		},
		{
			name:    "zero margin",
			mutate:  func(c *Config) { c.Trading.Margin = 0 },
			wantSub: "margin must be positive",
		},
		{
			name:    "positive stop loss",
			mutate:  func(c *Config) { c.Trading.StopLossPct = 1.0 },
			wantSub: "stop_loss_pct must be negative",
		},
		{
			name: "missing venue section",
			mutate: func(c *Config) {
				delete(c.Venues, "hyperliquid")
			},
			wantSub: "missing section",
		},
		{
			name: "disabled venue in trade mode",
			mutate: func(c *Config) {
				vc := c.Venues["binance"]
				vc.Enabled = false
				c.Venues["binance"] = vc
			},
			wantSub: "must be enabled",
		},
		{
			name:    "bad fail fraction",
			mutate:  func(c *Config) { c.Reconcile.FailFraction = 1.5 },
			wantSub: "fail_fraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestMonitorModeSkipsVenueChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("monitor mode should not require venues: %v", err)
	}
}
