package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoanBrand/pollbroke/internal/queue"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTCPAddress     = "0.0.0.0:1883"
	DefaultMaxConnections = 1024
	DefaultReadBufferSize = 4096
	MinReadBufferSize     = 16

	// MaxPacketSize is the most a remaining length can express.
	MaxPacketSize = 268435455
)

type Config struct {
	// TCP Address specifies the TCP address for the server to listen on,
	// in the form "host:port". If empty, "0.0.0.0:1883" is used.
	TCP struct {
		Address string `json:"address" yaml:"address"`
	} `json:"tcp" yaml:"tcp"`

	// WS Address optionally specifies an address for the server to listen on for Websocket connections,
	// in the form "host:port". If empty, Websocket is not used.
	WS struct {
		Address     string `json:"address" yaml:"address"`
		CheckOrigin bool   `json:"check_origin" yaml:"check_origin"`
	} `json:"ws" yaml:"ws"`

	// Metrics Address optionally specifies where to serve Prometheus metrics on /metrics.
	Metrics struct {
		Address string `json:"address" yaml:"address"`
	} `json:"metrics" yaml:"metrics"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file" yaml:"file"`
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`

	// Maximum number of concurrently connected clients. Default 1024.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// Capacity in bytes of every connection's receive ring. Must be a power of two, 16 to 2^31. Default 4096.
	ReadBufferSize int `json:"read_buffer_size" yaml:"read_buffer_size"`

	// Largest accepted remaining length. Default and maximum 268435455.
	MaxPacketSize uint32 `json:"max_packet_size" yaml:"max_packet_size"`
}

// New returns a Config loaded from fPath, or the defaults if fPath is empty.
func New(fPath string) (*Config, error) {
	c := Config{}
	if fPath == "" {
		return &c, c.validate()
	}

	if err := c.LoadFromFile(fPath); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromFile reads a JSON, or for .yaml/.yml files a YAML, config file.
func (c *Config) LoadFromFile(fPath string) error {
	data, err := os.ReadFile(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return c.validate()
}

func (c *Config) validate() error {
	if c.TCP.Address == "" {
		c.TCP.Address = DefaultTCPAddress
	} else if !strings.Contains(c.TCP.Address, ":") {
		c.TCP.Address += ":1883" // if just ip/host specified
	}

	if c.WS.Address != "" {
		if !strings.Contains(c.WS.Address, ":") {
			c.WS.Address += ":80"
		}
	}

	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	} else if c.MaxConnections < 0 {
		return errors.New("max_connections cannot be negative")
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.ReadBufferSize < MinReadBufferSize || c.ReadBufferSize&(c.ReadBufferSize-1) != 0 {
		return errors.New("read_buffer_size must be a power of two of at least 16")
	}
	if int64(c.ReadBufferSize) > queue.MaxRingCapacity {
		return errors.New("read_buffer_size cannot exceed 2147483648")
	}

	if c.MaxPacketSize == 0 || c.MaxPacketSize > MaxPacketSize {
		c.MaxPacketSize = MaxPacketSize
	}

	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "error", "warn", "info", "debug":
		default:
			return errors.New("unknown log level: " + c.Log.Level)
		}
	}

	return nil
}
