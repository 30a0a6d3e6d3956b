package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"rtplisten":"127.0.0.1:5004","fec":true,"gmin":5,"reorderdelayms":20}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}
	if cfg.RTPListen != "127.0.0.1:5004" || !cfg.FECEnabled || cfg.GMin != 5 || cfg.ReorderDelayMs != 20 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func TestGapHoldImplausible(t *testing.T) {
	cfg := Config{ReorderDelayMs: 10, RepairTriggerTimeMs: 200}
	if !cfg.GapHoldImplausible() {
		t.Fatal("expected implausible gap_hold_time to be flagged")
	}
	cfg2 := Config{ReorderDelayMs: 50, RepairTriggerTimeMs: 60}
	if cfg2.GapHoldImplausible() {
		t.Fatal("did not expect a plausible gap_hold_time to be flagged")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
