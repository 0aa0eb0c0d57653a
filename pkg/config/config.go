// Package config loads the relay configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/relay/pkg/multiplexing"
	"gopkg.in/yaml.v3"
)

// Endpoint directions
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// Endpoint transports
const (
	TransportTCP  = "tcp"
	TransportFile = "file"
)

// TCP endpoint modes
const (
	ModeListen  = "listen"
	ModeConnect = "connect"
)

// Config is the root of the configuration file
type Config struct {
	Broker    BrokerConfig     `yaml:"broker"`
	Log       LogConfig        `yaml:"log"`
	Muxer     MuxerConfig      `yaml:"muxer"`
	BBDO      BBDOConfig       `yaml:"bbdo"`
	API       APIConfig        `yaml:"api"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// BrokerConfig identifies this process
type BrokerConfig struct {
	Name       string `yaml:"name"`
	InstanceID uint32 `yaml:"instance_id"`
	CacheDir   string `yaml:"cache_dir"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MuxerConfig holds the queue settings shared by every output
type MuxerConfig struct {
	HighWatermark  int   `yaml:"high_watermark"`
	MaxDiskBytes   int64 `yaml:"max_disk_bytes"`
	Compress       bool  `yaml:"compress"`
	PersistOnClose bool  `yaml:"persist_on_close"`
}

// BBDOConfig holds protocol settings
type BBDOConfig struct {
	AckLimit           int           `yaml:"ack_limit"`
	Resync             bool          `yaml:"resync"`
	Extensions         []string      `yaml:"extensions"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
}

// APIConfig holds the listeners of the HTTP and gRPC servers. An empty
// address disables the server.
type APIConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// EndpointConfig describes one input or output
type EndpointConfig struct {
	Name          string        `yaml:"name"`
	Direction     string        `yaml:"direction"`
	Transport     string        `yaml:"transport"`
	Mode          string        `yaml:"mode"`
	Address       string        `yaml:"address"`
	Path          string        `yaml:"path"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Filters       []string      `yaml:"filters"`
}

// Default returns the configuration used for anything the file omits
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Name:       "relay",
			InstanceID: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
		Muxer: MuxerConfig{
			HighWatermark:  10000,
			PersistOnClose: true,
		},
		BBDO: BBDOConfig{
			AckLimit:           1000,
			Resync:             true,
			NegotiationTimeout: 30 * time.Second,
		},
		API: APIConfig{
			HTTPAddr:        "127.0.0.1:9090",
			MetricsInterval: 10 * time.Second,
		},
	}
}

// Load reads and validates the configuration at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.Transport == "" {
			ep.Transport = TransportTCP
		}
		if ep.Transport == TransportTCP && ep.Mode == "" {
			ep.Mode = ModeConnect
		}
		if ep.RetryInterval == 0 {
			ep.RetryInterval = 15 * time.Second
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Broker.Name == "" {
		return errors.New("broker.name is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if c.Muxer.HighWatermark < 0 {
		return fmt.Errorf("muxer.high_watermark must not be negative")
	}
	if c.Muxer.MaxDiskBytes < 0 {
		return fmt.Errorf("muxer.max_disk_bytes must not be negative")
	}
	if c.BBDO.AckLimit < 0 {
		return fmt.Errorf("bbdo.ack_limit must not be negative")
	}

	names := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if err := ep.validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if names[ep.Name] {
			return fmt.Errorf("endpoints[%d]: duplicate name %q", i, ep.Name)
		}
		names[ep.Name] = true
	}
	return nil
}

func (ep EndpointConfig) validate() error {
	if ep.Name == "" {
		return errors.New("name is required")
	}

	switch ep.Direction {
	case DirectionInput, DirectionOutput:
	default:
		return fmt.Errorf("%s: direction must be %q or %q", ep.Name, DirectionInput, DirectionOutput)
	}

	switch ep.Transport {
	case TransportTCP:
		if ep.Mode != ModeListen && ep.Mode != ModeConnect {
			return fmt.Errorf("%s: mode must be %q or %q", ep.Name, ModeListen, ModeConnect)
		}
		if ep.Address == "" {
			return fmt.Errorf("%s: address is required", ep.Name)
		}
	case TransportFile:
		if ep.Path == "" {
			return fmt.Errorf("%s: path is required", ep.Name)
		}
	default:
		return fmt.Errorf("%s: unknown transport %q", ep.Name, ep.Transport)
	}

	if len(ep.Filters) > 0 && ep.Direction == DirectionInput {
		return fmt.Errorf("%s: filters only apply to outputs", ep.Name)
	}
	if _, err := multiplexing.ParseFilter(ep.Filters); err != nil {
		return fmt.Errorf("%s: %w", ep.Name, err)
	}
	return nil
}
