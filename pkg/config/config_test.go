package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `listen_addr: ":9000"`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ListenAddr != ":9000" {
		t.Errorf("expected explicit listen_addr preserved, got %q", c.ListenAddr)
	}
	if c.Timeouts.IdleClose == 0 {
		t.Error("expected default idle_close timeout to be applied")
	}
	if c.MemoryPath != "data/.memory.yaml" {
		t.Errorf("expected default memory path, got %q", c.MemoryPath)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	path := writeTempConfig(t, `
auth:
  device_whitelist: ["device-1", "device-2"]
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.Snapshot()
	snap.Auth.DeviceWhitelist[0] = "mutated"

	if c.Auth.DeviceWhitelist[0] == "mutated" {
		t.Fatal("mutating a snapshot's slice must not affect the live config")
	}
}

func TestEnvOverridesListenAddr(t *testing.T) {
	path := writeTempConfig(t, `listen_addr: ":8000"`)
	t.Setenv("GATEWAY_LISTEN_ADDR", ":9999")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ListenAddr != ":9999" {
		t.Errorf("expected env override to win, got %q", c.ListenAddr)
	}
}
