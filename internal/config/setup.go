package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	return runSetupWizard(cfg, bufio.NewReader(os.Stdin), os.Stdout)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║         raidscope - First Run Setup          ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "── Packet Source ──")
	cfg.Capture.Mode = promptString(reader, out,
		fmt.Sprintf("Capture mode (%s/%s/%s)", ModeTZSP, ModeReplay, ModeProcess), cfg.Capture.Mode)

	switch cfg.Capture.Mode {
	case ModeReplay:
		cfg.Capture.ReplayFile = promptString(reader, out, "Replay file (NDJSON)", cfg.Capture.ReplayFile)
		cfg.Capture.LocalSubnet = promptString(reader, out, "Local subnet prefix", cfg.Capture.LocalSubnet)
		cfg.Capture.Strict = promptBool(reader, out, "Stop on the first decode mismatch", cfg.Capture.Strict)
	case ModeTZSP:
		cfg.Capture.TZSPPort = promptInt(reader, out, "TZSP listen port", cfg.Capture.TZSPPort)
		cfg.Capture.MirrorSubnet = promptString(reader, out, "Local subnet prefix of mirrored traffic", cfg.Capture.MirrorSubnet)
	case ModeProcess:
		cmd := promptString(reader, out, "Capture command", strings.Join(cfg.Capture.Command, " "))
		cfg.Capture.Command = strings.Fields(cmd)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Loot ──")
	cfg.Loot.PriceThreshold = int64(promptInt(reader, out, "Minimum crate price", int(cfg.Loot.PriceThreshold)))
	cfg.ItemDB.ImportDir = promptString(reader, out, "Item dump directory to import (blank to skip)", cfg.ItemDB.ImportDir)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Outputs ──")
	cfg.API.Port = promptInt(reader, out, "Web UI / REST port", cfg.API.Port)
	cfg.PacketLog.Enabled = promptBool(reader, out, "Keep packet logs of live sessions", cfg.PacketLog.Enabled)
	if cfg.PacketLog.Enabled {
		cfg.PacketLog.S3.Bucket = promptString(reader, out, "S3 bucket for packet logs (blank to keep local)", cfg.PacketLog.S3.Bucket)
	}
	cfg.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.MQTT.Port)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "no")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
