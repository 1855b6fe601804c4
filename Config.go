/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	_ "embed" // Required for embedding default Config file
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables of the engine. NewEngine replaces zero SocketReadSize,
// SocketWriteSize, MaxPayloadSize, ThreadFrequency and ThreadTimeout values with
// DefaultConfig's; the other fields keep their zero meaning.
type Config struct {
	ListenAddress string `yaml:"ListenAddress"` // IP:Port to accept inbound connections on. Empty disables listening.

	SocketReadSize  int `yaml:"SocketReadSize"`  // Bytes read per Connection.read call. Default 16 KiB (§4.5).
	SocketWriteSize int `yaml:"SocketWriteSize"` // Bytes written per Connection.write call. Default 16 KiB (§4.5).

	MaxPayloadSize int `yaml:"MaxPayloadSize"` // Upper bound on a trusted packet `size` field. Default 10 MiB (§3).

	ThreadFrequency time.Duration `yaml:"ThreadFrequency"` // Minimum tick duration for the Reactor/Dispatcher loops. Default 50ms (§4.5, §4.6).
	ThreadTimeout   time.Duration `yaml:"ThreadTimeout"`   // Maximum time Stop waits for both loops to exit. Default 1s (§5).

	DataQueueCapacity int `yaml:"DataQueueCapacity"` // Backpressure bound on the per-connection data-out queue. 0 = unbounded (§5).

	MaxInboundConnections int `yaml:"MaxInboundConnections"` // Inbound accepts are refused once the Reactor holds this many connections, outbound ones included. 0 = unbounded.
}

// configYAML mirrors Config but with the two duration fields as parseable strings,
// since yaml.v3 cannot unmarshal a duration string directly into time.Duration.
type configYAML struct {
	ListenAddress         string `yaml:"ListenAddress"`
	SocketReadSize        int    `yaml:"SocketReadSize"`
	SocketWriteSize       int    `yaml:"SocketWriteSize"`
	MaxPayloadSize        int    `yaml:"MaxPayloadSize"`
	ThreadFrequency       string `yaml:"ThreadFrequency"`
	ThreadTimeout         string `yaml:"ThreadTimeout"`
	DataQueueCapacity     int    `yaml:"DataQueueCapacity"`
	MaxInboundConnections int    `yaml:"MaxInboundConnections"`
}

// UnmarshalYAML implements yaml.Unmarshaler so ThreadFrequency/ThreadTimeout can be
// written as human-readable durations ("50ms") in the config file.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	// Seed raw with the current values so keys absent from the document keep them.
	raw := configYAML{
		ListenAddress:         c.ListenAddress,
		SocketReadSize:        c.SocketReadSize,
		SocketWriteSize:       c.SocketWriteSize,
		MaxPayloadSize:        c.MaxPayloadSize,
		DataQueueCapacity:     c.DataQueueCapacity,
		MaxInboundConnections: c.MaxInboundConnections,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.ListenAddress = raw.ListenAddress
	c.SocketReadSize = raw.SocketReadSize
	c.SocketWriteSize = raw.SocketWriteSize
	c.MaxPayloadSize = raw.MaxPayloadSize
	c.DataQueueCapacity = raw.DataQueueCapacity
	c.MaxInboundConnections = raw.MaxInboundConnections

	if raw.ThreadFrequency != "" {
		d, err := time.ParseDuration(raw.ThreadFrequency)
		if err != nil {
			return err
		}
		c.ThreadFrequency = d
	}
	if raw.ThreadTimeout != "" {
		d, err := time.ParseDuration(raw.ThreadTimeout)
		if err != nil {
			return err
		}
		c.ThreadTimeout = d
	}
	return nil
}

//go:embed "Config Default.yaml"
var defaultConfigYAML []byte

// DefaultConfig returns the engine's built-in configuration.
func DefaultConfig() (config Config) {
	// The embedded YAML is the single source of truth for defaults; errors here
	// indicate a broken build artifact, not a runtime condition.
	if err := yaml.Unmarshal(defaultConfigYAML, &config); err != nil {
		panic("core: invalid embedded default config: " + err.Error())
	}
	return config
}

// LoadConfig reads a YAML configuration file and overlays it onto DefaultConfig.
// A missing or empty file is not an error; the defaults are used as-is.
func LoadConfig(data []byte) (config Config, err error) {
	config = DefaultConfig()
	if len(data) == 0 {
		return config, nil
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.SocketReadSize == 0 {
		c.SocketReadSize = defaults.SocketReadSize
	}
	if c.SocketWriteSize == 0 {
		c.SocketWriteSize = defaults.SocketWriteSize
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = defaults.MaxPayloadSize
	}
	if c.ThreadFrequency == 0 {
		c.ThreadFrequency = defaults.ThreadFrequency
	}
	if c.ThreadTimeout == 0 {
		c.ThreadTimeout = defaults.ThreadTimeout
	}
}
