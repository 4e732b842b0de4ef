// Package sessionconfig loads the configuration a node needs to join
// the overlay and negotiate a round: its own listen address, the known
// server roster's addresses, and admission timing, from a YAML or JSON
// file with environment-variable overrides.
package sessionconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a dissent node.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Role        string         `yaml:"role" json:"role"` // server, client
	ListenAddr  string         `yaml:"listen_addr" json:"listen_addr"`
	Servers     []ServerConfig `yaml:"servers" json:"servers"`
	Session     SessionConfig  `yaml:"session" json:"session"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ServerConfig is one known server's roster entry: its hex-encoded id,
// its long-term public key (hex-encoded), and its dial address.
type ServerConfig struct {
	Id      string `yaml:"id" json:"id"`
	PubKey  string `yaml:"pubkey" json:"pubkey"`
	Address string `yaml:"address" json:"address"`
}

// SessionConfig tunes the negotiation protocol's timing. RoundChunkSize
// is validated but not read by round.NullRound, which pulls a fixed
// 1024-byte chunk per epoch.
type SessionConfig struct {
	AdmissionWindow time.Duration `yaml:"admission_window" json:"admission_window"`
	QueueRetry      time.Duration `yaml:"queue_retry" json:"queue_retry"`
	RoundChunkSize  int           `yaml:"round_chunk_size" json:"round_chunk_size"`
}

// LoggingConfig configures the logger package's default logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig configures the metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoadFromFile reads and parses cfg from path, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionconfig: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("sessionconfig: parse %s (tried YAML and JSON): %w", path, err)
		}
	}
	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes cfg to path as YAML, or JSON if path ends in .json.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("sessionconfig: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultAdmissionWindow mirrors server.DefaultAdmissionWindow, kept
// independent to avoid sessionconfig importing the session packages.
const DefaultAdmissionWindow = 30 * time.Second

// DefaultQueueRetry mirrors client.DefaultQueueRetry.
const DefaultQueueRetry = 5 * time.Second

const defaultRoundChunkSize = 4096

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Session.AdmissionWindow == 0 {
		cfg.Session.AdmissionWindow = DefaultAdmissionWindow
	}
	if cfg.Session.QueueRetry == 0 {
		cfg.Session.QueueRetry = DefaultQueueRetry
	}
	if cfg.Session.RoundChunkSize == 0 {
		cfg.Session.RoundChunkSize = defaultRoundChunkSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "127.0.0.1:9090"
	}
}
