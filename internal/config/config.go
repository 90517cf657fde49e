// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Links        LinksConfig        `mapstructure:"links"`
	Actuator     ActuatorConfig     `mapstructure:"actuator"`
	Hopper       HopperConfig       `mapstructure:"hopper"`
	Coins        CoinsConfig        `mapstructure:"coins"`
	Bills        BillsConfig        `mapstructure:"bills"`
	GPIO         GPIOConfig         `mapstructure:"gpio"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Slots        SlotsConfig        `mapstructure:"slots"`
	App          AppConfig          `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           string        `mapstructure:"port" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LinksConfig represents the shared serial link configuration
type LinksConfig struct {
	Sensor SerialLinkConfig `mapstructure:"sensor"`
	Coin   SerialLinkConfig `mapstructure:"coin"`
	Bill   SerialLinkConfig `mapstructure:"bill"`
}

// SerialLinkConfig represents one serial line
type SerialLinkConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// ActuatorConfig represents the dispense board connection
type ActuatorConfig struct {
	Transport         string        `mapstructure:"transport"` // tcp or serial
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	EphemeralFallback bool          `mapstructure:"ephemeral_fallback"`
	SerialPort        string        `mapstructure:"serial_port"`
	BaudRate          int           `mapstructure:"baud_rate"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	Retries           int           `mapstructure:"retries"`
	PulseDuration     time.Duration `mapstructure:"pulse_duration"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	InterUnitDelay    time.Duration `mapstructure:"inter_unit_delay"`
}

// HopperConfig represents the change hopper connection
type HopperConfig struct {
	Transport      string        `mapstructure:"transport"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	SerialPort     string        `mapstructure:"serial_port"`
	BaudRate       int           `mapstructure:"baud_rate"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Retries        int           `mapstructure:"retries"`
	PerCoinTime    time.Duration `mapstructure:"per_coin_time"`
}

// CoinsConfig represents coin acceptance configuration
type CoinsConfig struct {
	Source       string        `mapstructure:"source"` // serial or gpio
	CoinValues   map[int]int   `mapstructure:"coin_values"`
	PollBalance  bool          `mapstructure:"poll_balance"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PulsePin     string        `mapstructure:"pulse_pin"`
}

// BillsConfig represents bill acceptance configuration
type BillsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Source         string        `mapstructure:"source"` // shared or dedicated
	Port           string        `mapstructure:"port"`
	BaudRate       int           `mapstructure:"baud_rate"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	DetectKeywords []string      `mapstructure:"detect_keywords"`
}

// GPIOConfig represents the expansion multiplexer pin assignment
type GPIOConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	SelectorPins []string `mapstructure:"selector_pins"`
	SignalPin    string   `mapstructure:"signal_pin"`
}

// ConfirmationConfig represents drop-sensor confirmation tuning
type ConfirmationConfig struct {
	Sensors       []int         `mapstructure:"sensors"`
	Mode          string        `mapstructure:"mode"` // any, all, first
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Samples       int           `mapstructure:"samples"`
	SampleGap     time.Duration `mapstructure:"sample_gap"`
	Simulate      bool          `mapstructure:"simulate"`
	SimulateDelay time.Duration `mapstructure:"simulate_delay"`
}

// SlotsConfig maps item names to physical slot numbers
type SlotsConfig struct {
	Items map[string][]int `mapstructure:"items"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	KioskID     string `mapstructure:"kiosk_id" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./internal/config")
	viper.AddConfigPath("/etc/kiosk-control")

	// Environment variable support
	viper.SetEnvPrefix("KIOSK_CONTROL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file; defaults alone are a runnable configuration
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8090")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "kiosk_control")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.max_lifetime", "5m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// Link defaults
	viper.SetDefault("links.sensor.port", "/dev/ttyUSB0")
	viper.SetDefault("links.sensor.baud_rate", 115200)
	viper.SetDefault("links.coin.port", "/dev/ttyUSB0")
	viper.SetDefault("links.coin.baud_rate", 115200)
	viper.SetDefault("links.bill.port", "")
	viper.SetDefault("links.bill.baud_rate", 9600)

	// Actuator board defaults
	viper.SetDefault("actuator.transport", "tcp")
	viper.SetDefault("actuator.host", "192.168.1.50")
	viper.SetDefault("actuator.port", 5000)
	viper.SetDefault("actuator.ephemeral_fallback", true)
	viper.SetDefault("actuator.baud_rate", 115200)
	viper.SetDefault("actuator.command_timeout", "2s")
	viper.SetDefault("actuator.retries", 2)
	viper.SetDefault("actuator.pulse_duration", "500ms")
	viper.SetDefault("actuator.confirm_timeout", "8s")
	viper.SetDefault("actuator.inter_unit_delay", "300ms")

	// Hopper defaults
	viper.SetDefault("hopper.transport", "tcp")
	viper.SetDefault("hopper.host", "192.168.1.51")
	viper.SetDefault("hopper.port", 5000)
	viper.SetDefault("hopper.baud_rate", 115200)
	viper.SetDefault("hopper.command_timeout", "2s")
	viper.SetDefault("hopper.retries", 2)
	viper.SetDefault("hopper.per_coin_time", "800ms")

	// Coin acceptance defaults
	viper.SetDefault("coins.source", "serial")
	viper.SetDefault("coins.poll_balance", true)
	viper.SetDefault("coins.poll_interval", "2s")
	viper.SetDefault("coins.pulse_pin", "GPIO17")

	// Bill acceptance defaults
	viper.SetDefault("bills.enabled", true)
	viper.SetDefault("bills.source", "shared")
	viper.SetDefault("bills.baud_rate", 9600)
	viper.SetDefault("bills.debounce_window", "300ms")
	viper.SetDefault("bills.detect_keywords", []string{"CH340", "FTDI", "CP210", "USB"})

	// Expansion multiplexer defaults
	viper.SetDefault("gpio.enabled", false)
	viper.SetDefault("gpio.selector_pins", []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19"})
	viper.SetDefault("gpio.signal_pin", "GPIO26")

	// Confirmation defaults
	viper.SetDefault("confirmation.sensors", []int{1})
	viper.SetDefault("confirmation.mode", "any")
	viper.SetDefault("confirmation.poll_interval", "500ms")
	viper.SetDefault("confirmation.samples", 3)
	viper.SetDefault("confirmation.sample_gap", "10ms")
	viper.SetDefault("confirmation.simulate", false)
	viper.SetDefault("confirmation.simulate_delay", "1s")

	// App defaults
	viper.SetDefault("app.name", "kiosk-control")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.kiosk_id", "kiosk-001")
	viper.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.App.KioskID == "" {
		return fmt.Errorf("app.kiosk_id is required")
	}

	switch config.Actuator.Transport {
	case "tcp", "serial":
	default:
		return fmt.Errorf("actuator.transport must be tcp or serial")
	}
	switch config.Hopper.Transport {
	case "tcp", "serial":
	default:
		return fmt.Errorf("hopper.transport must be tcp or serial")
	}

	switch config.Coins.Source {
	case "serial", "gpio":
	default:
		return fmt.Errorf("coins.source must be serial or gpio")
	}

	switch config.Confirmation.Mode {
	case "any", "all", "first":
	default:
		return fmt.Errorf("confirmation.mode must be one of: any, all, first")
	}

	if config.GPIO.Enabled && len(config.GPIO.SelectorPins) != 4 {
		return fmt.Errorf("gpio.selector_pins must name exactly 4 pins")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
