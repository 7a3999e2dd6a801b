package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateCapture(&cfg.Capture, result)
	validateLoot(&cfg.Loot, result)
	validateDisplay(&cfg.Display, result)
	validateOutputs(cfg, result)

	return result
}

func validateCapture(c *CaptureConfig, result *ValidationResult) {
	switch c.Mode {
	case ModeReplay:
		if strings.TrimSpace(c.ReplayFile) == "" {
			result.AddError("capture.replay_file", "replay file is required in replay mode")
		} else if _, err := os.Stat(c.ReplayFile); os.IsNotExist(err) {
			result.AddError("capture.replay_file",
				fmt.Sprintf("file does not exist: %s", c.ReplayFile))
		}
	case ModeTZSP:
		validatePort(c.TZSPPort, "capture.tzsp_port", result)
	case ModeProcess:
		if len(c.Command) == 0 {
			result.AddError("capture.command", "capture command is required in process mode")
		}
	default:
		result.AddError("capture.mode",
			fmt.Sprintf("unknown mode %q (expected %s, %s or %s)", c.Mode, ModeReplay, ModeTZSP, ModeProcess))
	}

	if c.Skip < 0 || c.Limit < 0 || c.PacketDelayMS < 0 {
		result.AddError("capture.skip", "skip, limit and packet delay must not be negative")
	}

	if c.GamePortMin > c.GamePortMax {
		result.AddError("capture.game_port_min", "game port range is inverted")
	}
	validatePort(c.GamePortMin, "capture.game_port_min", result)
	validatePort(c.GamePortMax, "capture.game_port_max", result)

	if c.QueueSize < 1 {
		result.AddError("capture.queue_size", "queue size must be at least 1")
	} else if c.QueueSize < 64 {
		result.AddWarning("capture.queue_size",
			fmt.Sprintf("small queue (%d) will block the capture source under load", c.QueueSize))
	}

	if c.LocalSubnet == "" {
		result.AddWarning("capture.local_subnet", "empty local subnet marks every replayed record incoming")
	}
}

func validateLoot(l *LootConfig, result *ValidationResult) {
	if l.PriceThreshold < 0 {
		result.AddError("loot.price_threshold", "price threshold must not be negative")
	}
	if !sort.SliceIsSorted(l.PriceBrackets, func(i, j int) bool { return l.PriceBrackets[i] < l.PriceBrackets[j] }) {
		result.AddError("loot.price_brackets", "price brackets must be ascending")
	}
	for _, w := range l.Wanted {
		if len(w) != 24 {
			result.AddWarning("loot.wanted_templates",
				fmt.Sprintf("template id %q is not 24 characters", w))
		}
	}
}

func validateDisplay(d *DisplayConfig, result *ValidationResult) {
	if d.RefreshIntervalMS < 50 {
		result.AddWarning("display.refresh_interval_ms",
			"refresh interval less than 50ms competes with the decoder")
	}
	if d.MaxSkips < 0 {
		result.AddError("display.max_skips", "max skips must not be negative")
	}
	if d.MinMoveDelta < 0 {
		result.AddError("display.min_move_delta", "min move delta must not be negative")
	}
}

func validateOutputs(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if cfg.Capture.Mode == ModeTZSP && cfg.API.Port == cfg.Capture.TZSPPort {
			result.AddWarning("api.port", "api port equals the TZSP port")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	pl := cfg.PacketLog
	if pl.Enabled && strings.TrimSpace(pl.Directory) == "" {
		result.AddError("packet_log.directory", "packet log directory is required when enabled")
	}
	if pl.S3.Bucket != "" && (pl.S3.AccessKey == "") != (pl.S3.SecretKey == "") {
		result.AddError("packet_log.s3.access_key", "access key and secret key must be set together")
	}

	if strings.TrimSpace(cfg.ItemDB.Path) == "" {
		result.AddWarning("itemdb.path", "no item database, all loot is priced at 0")
	}
	if t := cfg.ItemDB.ReimportTime; t != "" {
		if _, err := time.Parse("15:04", t); err != nil {
			result.AddError("itemdb.reimport_time", fmt.Sprintf("%q is not HH:MM", t))
		}
	}

	if r := cfg.Health.BacklogRatio; r < 0 || r > 1 {
		result.AddError("health.backlog_ratio", "backlog ratio must be between 0 and 1")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
