// Package config loads the bridge configuration: where the Termux API socket
// lives, how to reach the remote-object proxy, and where outcomes are journaled.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaozhiapp/termuxbridge/internal/history"
	"github.com/xiaozhiapp/termuxbridge/internal/termuxapi"
)

// BridgeConfig holds all bridge settings.
type BridgeConfig struct {
	API     APIConfig     `yaml:"api"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	History HistoryConfig `yaml:"history"`
}

// APIConfig describes the Termux API TCP endpoint.
type APIConfig struct {
	// Host is the address the Termux API service listens on.
	Host string `yaml:"host"`

	// Port is the TCP port. 0 means "ask the Termux service through the proxy".
	Port int `yaml:"port"`

	// Timeout bounds the connect attempt, every receive, and the whole command.
	Timeout Duration `yaml:"timeout"`
}

// ProxyConfig describes the remote-object proxy connection.
type ProxyConfig struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8765/rpc.
	// Empty disables the proxy.
	URL string `yaml:"url"`

	// Timeout bounds each remote call.
	Timeout Duration `yaml:"timeout"`
}

// HistoryConfig selects the outcome journal backend.
type HistoryConfig struct {
	// Enabled turns journaling on.
	Enabled bool `yaml:"enabled"`

	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "10s"
// or from a bare integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if secs, err := strconv.Atoi(value.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a BridgeConfig with the stock Termux defaults.
func DefaultConfig() *BridgeConfig {
	return &BridgeConfig{
		API: APIConfig{
			Host:    "localhost",
			Port:    80,
			Timeout: Duration(10 * time.Second),
		},
		Proxy: ProxyConfig{
			URL:     "",
			Timeout: Duration(5 * time.Second),
		},
		History: HistoryConfig{
			Enabled:    false,
			Driver:     "sqlite",
			SQLitePath: "data/history.db",
		},
	}
}

// LoadConfig loads bridge configuration from a YAML file and applies
// environment overrides. If the file doesn't exist, defaults are used.
func LoadConfig(path string) (*BridgeConfig, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return config, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, config); err != nil {
				return DefaultConfig(), err
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *BridgeConfig) applyEnv() error {
	if host := os.Getenv("TERMUX_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("TERMUX_API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid TERMUX_API_PORT %q: %w", port, err)
		}
		c.API.Port = p
	}
	if timeout := os.Getenv("TERMUX_API_TIMEOUT"); timeout != "" {
		var d Duration
		if err := d.UnmarshalYAML(&yaml.Node{Kind: yaml.ScalarNode, Value: timeout}); err != nil {
			return fmt.Errorf("invalid TERMUX_API_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if url := os.Getenv("RPC_PROXY_URL"); url != "" {
		c.Proxy.URL = url
	}
	return nil
}

// Validate checks that the configuration is usable.
// Returns nil if valid, or an error describing the first problem found.
func (c *BridgeConfig) Validate() error {
	if strings.TrimSpace(c.API.Host) == "" {
		return fmt.Errorf("api.host must not be empty")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.API.Port == 0 && c.Proxy.URL == "" {
		return fmt.Errorf("api.port is 0 but no proxy.url is configured to discover it")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Proxy.URL != "" && !strings.HasPrefix(c.Proxy.URL, "ws://") && !strings.HasPrefix(c.Proxy.URL, "wss://") {
		return fmt.Errorf("proxy.url must use ws:// or wss://, got %q", c.Proxy.URL)
	}
	if c.History.Enabled {
		switch c.History.Driver {
		case "sqlite":
			if c.History.SQLitePath == "" {
				return fmt.Errorf("history.sqlite_path is required for the sqlite driver")
			}
		case "postgres":
			if c.History.PostgresDSN == "" {
				return fmt.Errorf("history.postgres_dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("unknown history.driver %q", c.History.Driver)
		}
	}
	return nil
}

// Address returns host:port for the API endpoint.
func (c *APIConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Endpoint converts the API settings for termuxapi.
func (c APIConfig) Endpoint() termuxapi.Endpoint {
	return termuxapi.Endpoint{Host: c.Host, Port: c.Port, Timeout: c.Timeout.Std()}
}

// Journal converts the history settings for history.Open.
func (c HistoryConfig) Journal() history.Config {
	cfg := history.DefaultConfig(c.SQLitePath)
	if c.Driver != "" {
		cfg.Driver = c.Driver
	}
	if c.Driver == "postgres" {
		cfg.Postgres = history.DefaultPostgresConfig()
		cfg.Postgres.DSN = c.PostgresDSN
	}
	return cfg
}
