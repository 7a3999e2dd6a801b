// Package config handles configuration loading, validation, and persistence
// for raidscope.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 7999
	DefaultTZSPPort   = 37008
)

// Capture modes.
const (
	ModeReplay  = "replay"
	ModeTZSP    = "tzsp"
	ModeProcess = "process"
)

// Config is the root configuration structure for raidscope.
type Config struct {
	mu   sync.RWMutex
	path string

	Capture   CaptureConfig   `json:"capture"`
	Loot      LootConfig      `json:"loot"`
	Display   DisplayConfig   `json:"display"`
	ItemDB    ItemDBConfig    `json:"itemdb"`
	PacketLog PacketLogConfig `json:"packet_log"`
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Metrics   MetricsConfig   `json:"metrics"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	Mode string `json:"mode"`

	// Replay
	ReplayFile    string `json:"replay_file"`
	PacketDelayMS int    `json:"packet_delay_ms"`
	Skip          int    `json:"skip"`
	Limit         int    `json:"limit"`
	Strict        bool   `json:"strict"`

	// Direction of replayed capture-tool records.
	LocalSubnet string `json:"local_subnet"`

	// TZSP mirror
	TZSPPort     int    `json:"tzsp_port"`
	GamePortMin  int    `json:"game_port_min"`
	GamePortMax  int    `json:"game_port_max"`
	MirrorSubnet string `json:"mirror_subnet"`

	// External capture process printing NDJSON records.
	Command    []string `json:"command"`
	WorkingDir string   `json:"working_dir"`

	QueueSize int `json:"queue_size"`
}

// LootConfig decides which crates are shown.
type LootConfig struct {
	PriceThreshold    int64    `json:"price_threshold"`
	IgnoredPrefixes   []string `json:"ignored_prefixes"`
	IgnoredContainers []string `json:"ignored_containers"`
	Wanted            []string `json:"wanted_templates"`
	// PriceBrackets are ascending price limits used to grade rows.
	PriceBrackets []int64 `json:"price_brackets"`
}

// DisplayConfig tunes the snapshot refresher.
type DisplayConfig struct {
	RefreshIntervalMS int     `json:"refresh_interval_ms"`
	BacklogThreshold  int     `json:"backlog_threshold"`
	MaxSkips          int     `json:"max_skips"`
	MinMoveDelta      float64 `json:"min_move_delta"`
	MaxDeadPlayers    int     `json:"max_dead_players"`
	TableEnabled      bool    `json:"table_enabled"`
}

// ItemDBConfig locates the item catalog.
type ItemDBConfig struct {
	Path      string `json:"path"`
	ImportDir string `json:"import_dir"`
	CacheSize int    `json:"cache_size"`
	// ReimportTime is the daily HH:MM at which ImportDir is read again.
	ReimportTime string `json:"reimport_time"`
}

// PacketLogConfig controls the live packet log and its archive.
type PacketLogConfig struct {
	Enabled        bool     `json:"enabled"`
	Directory      string   `json:"directory"`
	Compress       bool     `json:"compress"`
	RemoveUploaded bool     `json:"remove_uploaded"`
	RetentionDays  int      `json:"retention_days"`
	S3             S3Config `json:"s3"`
}

// S3Config holds the archive bucket settings. An empty bucket disables
// uploads.
type S3Config struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// APIConfig holds REST and websocket settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// HealthConfig tunes the periodic engine checks.
type HealthConfig struct {
	IntervalSec  int     `json:"interval_sec"`
	BacklogRatio float64 `json:"backlog_ratio"`
	StallSec     int     `json:"stall_sec"`
	MinDiskMB    uint64  `json:"min_disk_mb"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Mode:         ModeTZSP,
			LocalSubnet:  "192.168.88.",
			TZSPPort:     DefaultTZSPPort,
			GamePortMin:  16900,
			GamePortMax:  17100,
			MirrorSubnet: "192.168.",
			QueueSize:    4096,
		},
		Loot: LootConfig{
			PriceThreshold:    30000,
			IgnoredPrefixes:   []string{"Pockets", "Scabbard"},
			IgnoredContainers: []string{"SecuredContainer", "Scabbard"},
			PriceBrackets:     []int64{50000, 100000, 300000},
		},
		Display: DisplayConfig{
			RefreshIntervalMS: 1000,
			BacklogThreshold:  20,
			MaxSkips:          10,
			MinMoveDelta:      1,
			MaxDeadPlayers:    4,
			TableEnabled:      true,
		},
		ItemDB: ItemDBConfig{
			Path:         "data/items.db",
			CacheSize:    4096,
			ReimportTime: "04:00",
		},
		PacketLog: PacketLogConfig{
			Enabled:       true,
			Directory:     "packet_logs",
			Compress:      true,
			RetentionDays: 14,
			S3: S3Config{
				Prefix: "packet_logs",
				Region: "us-east-1",
			},
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   50,
		},
		MQTT: MQTTConfig{
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "raidscope",
		},
		Metrics: MetricsConfig{Enabled: true},
		Health: HealthConfig{
			IntervalSec:  30,
			BacklogRatio: 0.8,
			StallSec:     60,
			MinDiskMB:    512,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file lists every option known to this build.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// JSON renders the whole configuration as indented JSON.
func (c *Config) JSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marshal()
}

func (c *Config) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// GetCapture returns a copy of the capture section.
func (c *Config) GetCapture() CaptureConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture
}

func (c *Config) SetCapture(v CaptureConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture = v
}

// GetLoot returns a copy of the loot section.
func (c *Config) GetLoot() LootConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Loot
}

func (c *Config) SetLoot(v LootConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Loot = v
}

func (c *Config) GetDisplay() DisplayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Display
}

func (c *Config) SetDisplay(v DisplayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Display = v
}

// UpdateField sets one key of a section from a loosely typed value, the
// way the config API receives it.
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, m, err := c.sectionFields(section)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s.%s", section, key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	return nil
}

// Field returns the current value of one key as UpdateField accepts it.
func (c *Config) Field(section, key string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, m, err := c.sectionFields(section)
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("unknown field %s.%s", section, key)
	}
	return v, nil
}

// sectionFields returns the section struct and its fields keyed by JSON
// name. Callers hold the lock.
func (c *Config) sectionFields(section string) (interface{}, map[string]interface{}, error) {
	var target interface{}
	switch section {
	case "capture":
		target = &c.Capture
	case "loot":
		target = &c.Loot
	case "display":
		target = &c.Display
	case "packet_log":
		target = &c.PacketLog
	case "mqtt":
		target = &c.MQTT
	case "health":
		target = &c.Health
	case "logging":
		target = &c.Logging
	default:
		return nil, nil, fmt.Errorf("unknown config section %q", section)
	}

	data, err := json.Marshal(target)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal section %s: %w", section, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("decode section %s: %w", section, err)
	}
	return target, m, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = p
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Capture.Mode {
	case ModeReplay:
		return c.Capture.ReplayFile == ""
	case ModeProcess:
		return len(c.Capture.Command) == 0
	}
	return false
}
