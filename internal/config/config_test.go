// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8090",
			ReadTimeout: 30 * time.Second,
		},
		Logging:      LoggingConfig{Level: "info"},
		Actuator:     ActuatorConfig{Transport: "tcp"},
		Hopper:       HopperConfig{Transport: "tcp"},
		Coins:        CoinsConfig{Source: "serial"},
		Confirmation: ConfirmationConfig{Mode: "any"},
		App: AppConfig{
			Name:        "kiosk-control",
			Version:     "1.0.0",
			Environment: "development",
			KioskID:     "kiosk-001",
		},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validate(validConfig()))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server host", func(c *Config) { c.Server.Host = "" }},
		{"missing server port", func(c *Config) { c.Server.Port = "" }},
		{"missing kiosk id", func(c *Config) { c.App.KioskID = "" }},
		{"bad actuator transport", func(c *Config) { c.Actuator.Transport = "udp" }},
		{"bad hopper transport", func(c *Config) { c.Hopper.Transport = "carrier-pigeon" }},
		{"bad coin source", func(c *Config) { c.Coins.Source = "cash" }},
		{"bad confirmation mode", func(c *Config) { c.Confirmation.Mode = "most" }},
		{"bad environment", func(c *Config) { c.App.Environment = "prod" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"gpio enabled with wrong pin count", func(c *Config) {
			c.GPIO.Enabled = true
			c.GPIO.SelectorPins = []string{"GPIO5", "GPIO6"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestValidate_GPIODisabledSkipsPinCheck(t *testing.T) {
	cfg := validConfig()
	cfg.GPIO.Enabled = false
	cfg.GPIO.SelectorPins = nil
	assert.NoError(t, validate(cfg))
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		DBName:   "kiosk_control",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDatabaseDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=kiosk_control")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestGetServerAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:8090", cfg.GetServerAddr())
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDebugEnabled(), "development implies debug")

	cfg.App.Environment = "production"
	require.NoError(t, validate(cfg))
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDebugEnabled())

	cfg.App.Debug = true
	assert.True(t, cfg.IsDebugEnabled())
}
