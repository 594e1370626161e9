package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShippedConfigParses(t *testing.T) {
	cfg, err := NewConfig("config.toml")
	if err != nil {
		t.Fatalf("parse config.toml: %v", err)
	}
	if cfg.Server.Port != 7760 || cfg.Server.ChannelName != DefaultChannelName {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	if cfg.LockTimeout() != 15*time.Minute {
		t.Fatalf("lock timeout %v", cfg.LockTimeout())
	}
	if !cfg.Features["qredo"] || !cfg.Features["ledger"] {
		t.Fatalf("features not loaded: %v", cfg.Features)
	}
	if cfg.LogInfo.Path == "" || cfg.LogInfo.Path[0] == '~' {
		t.Fatalf("log path not expanded: %q", cfg.LogInfo.Path)
	}
}

func TestPartialConfigGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "partial.toml")
	body := `
[Keyring]
LockTimeoutMin = 5

[Network]
Default = "testnet"
`
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewConfig(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LockTimeout() != 5*time.Minute {
		t.Fatalf("explicit value overwritten: %v", cfg.LockTimeout())
	}
	if cfg.Keyring.Argon2Time == 0 || cfg.Keyring.Argon2MemoryKiB == 0 || cfg.Keyring.Argon2Threads == 0 {
		t.Fatalf("kdf defaults missing: %+v", cfg.Keyring)
	}
	if cfg.ConnectionRequestTTL() != 5*time.Minute {
		t.Fatalf("connection ttl %v", cfg.ConnectionRequestTTL())
	}
	if cfg.Network.Default != "testnet" || len(cfg.Network.Available) == 0 {
		t.Fatalf("network %+v", cfg.Network)
	}
	if cfg.Session.Endpoint == "" || cfg.Session.MaxResubscriptions == 0 {
		t.Fatalf("session defaults missing: %+v", cfg.Session)
	}
	if cfg.Features == nil {
		t.Fatal("features map should never be nil")
	}
}

func TestDefaultMatchesSanitizedEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.toml")
	if err := os.WriteFile(p, []byte("[Common]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := NewConfig(p)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	def := Default()
	if fromFile.Server != def.Server || fromFile.Keyring != def.Keyring || fromFile.RateLimit != def.RateLimit {
		t.Fatalf("defaults differ:\n%+v\n%+v", fromFile, def)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := NewConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("missing file should fail")
	}
}
