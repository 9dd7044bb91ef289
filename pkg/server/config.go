package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the resolved server configuration.
type ServerConfig struct {
	Host                string
	TCPPort             int
	UDPPort             int
	HTTPPort            int // websocket bridge + metrics; 0 disables
	ConfirmationTimeout time.Duration
	MaxRetransmissions  int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:                "0.0.0.0",
		TCPPort:             4567,
		UDPPort:             4567,
		HTTPPort:            0,
		ConfirmationTimeout: 250 * time.Millisecond,
		MaxRetransmissions:  3,
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Datagram DatagramSection `toml:"datagram"`
}

type ServerSection struct {
	Host     string `toml:"host"`
	TCPPort  int    `toml:"tcp_port"`
	UDPPort  int    `toml:"udp_port"`
	HTTPPort int    `toml:"http_port"`
}

type DatagramSection struct {
	ConfirmationTimeoutMs int `toml:"confirmation_timeout_ms"`
	MaxRetransmissions    int `toml:"max_retransmissions"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:     "0.0.0.0",
			TCPPort:  4567,
			UDPPort:  4567,
			HTTPPort: 0,
		},
		Datagram: DatagramSection{
			ConfirmationTimeoutMs: 250,
			MaxRetransmissions:    3,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# IPK24-CHAT Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.UDPPort != 0 {
		cfg.UDPPort = c.Server.UDPPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if c.Datagram.ConfirmationTimeoutMs != 0 {
		cfg.ConfirmationTimeout = time.Duration(c.Datagram.ConfirmationTimeoutMs) * time.Millisecond
	}
	if c.Datagram.MaxRetransmissions != 0 {
		cfg.MaxRetransmissions = c.Datagram.MaxRetransmissions
	}

	return cfg
}
