package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Mode != ModeTZSP || cfg.Capture.TZSPPort != DefaultTZSPPort {
		t.Errorf("expected tzsp defaults, got %+v", cfg.Capture)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("expected the default file to be written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `{"capture": {"mode": "replay", "replay_file": "x.ndjson"}, "loot": {"price_threshold": 5}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Mode != ModeReplay || cfg.Loot.PriceThreshold != 5 {
		t.Errorf("expected overlay values, got %+v %+v", cfg.Capture, cfg.Loot)
	}
	if cfg.Capture.LocalSubnet != "192.168.88." || cfg.Display.MaxDeadPlayers != 4 {
		t.Errorf("expected untouched defaults, got %q %d", cfg.Capture.LocalSubnet, cfg.Display.MaxDeadPlayers)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if !strings.Contains(string(raw), "backlog_threshold") {
		t.Errorf("expected the re-saved file to list every option")
	}
}

func TestLoadBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0o644)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Capture.Mode = "pcap" }, "capture.mode"},
		{"replay without file", func(c *Config) { c.Capture.Mode = ModeReplay }, "capture.replay_file"},
		{"process without command", func(c *Config) { c.Capture.Mode = ModeProcess }, "capture.command"},
		{"inverted ports", func(c *Config) { c.Capture.GamePortMin = 18000 }, "capture.game_port_min"},
		{"brackets", func(c *Config) { c.Loot.PriceBrackets = []int64{10, 5} }, "loot.price_brackets"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }, "mqtt.broker_url"},
		{"half credentials", func(c *Config) {
			c.PacketLog.S3.Bucket = "b"
			c.PacketLog.S3.AccessKey = "k"
		}, "packet_log.s3.access_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			res := Validate(cfg)
			if tt.field == "" {
				if !res.IsValid() {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			found := false
			for _, e := range res.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error on %s, got %v", tt.field, res.Errors)
			}
		})
	}
}

func TestUpdateField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateField("loot", "price_threshold", 90000); err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.GetLoot().PriceThreshold != 90000 {
		t.Errorf("expected 90000, got %d", cfg.GetLoot().PriceThreshold)
	}
	if err := cfg.UpdateField("loot", "nope", 1); err == nil {
		t.Errorf("expected an unknown field error")
	}
	if err := cfg.UpdateField("api", "port", 1); err == nil {
		t.Errorf("expected api to be read-only")
	}
	if err := cfg.UpdateField("display", "max_skips", "many"); err == nil {
		t.Errorf("expected a type error")
	}
}

func TestSetupWizard(t *testing.T) {
	replay := filepath.Join(t.TempDir(), "session.ndjson")
	os.WriteFile(replay, nil, 0o644)

	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))
	input := strings.Join([]string{
		ModeReplay, replay, "", "yes",
		"75000", "",
		"", "no", "no",
	}, "\n") + "\n"

	if err := runSetupWizard(cfg, bufio.NewReader(strings.NewReader(input)), io.Discard); err != nil {
		t.Fatalf("wizard: %v", err)
	}
	if cfg.Capture.ReplayFile != replay || !cfg.Capture.Strict || cfg.Loot.PriceThreshold != 75000 {
		t.Errorf("unexpected answers applied: %+v %+v", cfg.Capture, cfg.Loot)
	}
	if cfg.PacketLog.Enabled {
		t.Errorf("expected packet log disabled")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Errorf("expected the wizard to save: %v", err)
	}
}

func TestSetupWizardInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))
	if err := runSetupWizard(cfg, bufio.NewReader(strings.NewReader("pcap\n")), io.Discard); err == nil {
		t.Fatal("expected validation to fail")
	}
}
