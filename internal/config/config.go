package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPort         = 8080
	DefaultMaxPeers     = 5
	DefaultMaxWorkers   = 10
	DefaultSharedDir    = "./files/"
	DefaultDownloadsDir = "./downloads/"
	DefaultLogLevel     = "info"
)

// Config holds everything a node needs to start.
type Config struct {
	Name     string
	Port     int
	MaxPeers int

	// SearchTimeout bounds how long a search waits for results. Zero
	// disables the wait.
	SearchTimeout time.Duration

	SharedDir    string
	DownloadsDir string
	MaxWorkers   int

	// AdvertiseAddress is sent to other peers as our address. When empty the
	// local address of each outbound connection is used.
	AdvertiseAddress string

	MDNS     bool
	LogLevel string
}

// Duration is a time.Duration read from a JSON string such as "15s".
type Duration time.Duration

// UnmarshalJSON parses a duration string; an empty string means zero.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// fileConfig mirrors the on-disk config.json layout.
type fileConfig struct {
	DefaultPeer struct {
		Name     string `json:"name"`
		Port     *int   `json:"port"`
		MaxPeers *int   `json:"max_peers"`
	} `json:"default_peer"`
	SearchTimeout    *Duration `json:"search_timeout"`
	SharedDir        string    `json:"shared_dir"`
	DownloadsDir     string    `json:"downloads_dir"`
	MaxWorkers       *int      `json:"max_workers"`
	AdvertiseAddress string    `json:"advertise_address"`
	MDNS             *bool     `json:"mdns"`
	LogLevel         string    `json:"log_level"`
}

// Default returns a configuration with a generated node name.
func Default() Config {
	return Config{
		Name:         GenerateName(),
		Port:         DefaultPort,
		MaxPeers:     DefaultMaxPeers,
		SharedDir:    DefaultSharedDir,
		DownloadsDir: DefaultDownloadsDir,
		MaxWorkers:   DefaultMaxWorkers,
		LogLevel:     DefaultLogLevel,
	}
}

// GenerateName returns a random "peer-xxxxxxxx" name.
func GenerateName() string {
	return "peer-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Load reads a JSON configuration file on top of Default. A missing file
// is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.apply(data); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.DefaultPeer.Name != "" {
		c.Name = fc.DefaultPeer.Name
	}
	if fc.DefaultPeer.Port != nil {
		c.Port = *fc.DefaultPeer.Port
	}
	if fc.DefaultPeer.MaxPeers != nil {
		c.MaxPeers = *fc.DefaultPeer.MaxPeers
	}
	if fc.SearchTimeout != nil {
		c.SearchTimeout = time.Duration(*fc.SearchTimeout)
	}
	if fc.SharedDir != "" {
		c.SharedDir = fc.SharedDir
	}
	if fc.DownloadsDir != "" {
		c.DownloadsDir = fc.DownloadsDir
	}
	if fc.MaxWorkers != nil {
		c.MaxWorkers = *fc.MaxWorkers
	}
	if fc.AdvertiseAddress != "" {
		c.AdvertiseAddress = fc.AdvertiseAddress
	}
	if fc.MDNS != nil {
		c.MDNS = *fc.MDNS
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	return nil
}

// Validate checks the values a node cannot run without.
func (c Config) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, " \t\r\n") {
		return fmt.Errorf("invalid peer name %q: must be non-empty and contain no spaces", c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("max_peers must be positive, got %d", c.MaxPeers)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("search_timeout must not be negative, got %s", c.SearchTimeout)
	}
	if c.SharedDir == "" || c.DownloadsDir == "" {
		return errors.New("shared_dir and downloads_dir must be set")
	}
	return nil
}
