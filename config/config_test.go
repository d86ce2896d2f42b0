/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/serval-mesh/meshd/config"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhizome.conf")
	body := `# comment
space=2048
rhizome.enable=false
rhizome.fetch_interval_ms=500
interface.folder=/tmp/dummies
rhizome.api.addfile.uri=/addfile
mdp.wifi.tick_ms=20
mdp.eth0.tick_ms=5000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RhizomeEnable {
		t.Error("expected rhizome.enable=false to override the default")
	}
	if cfg.SpaceKiB != 2048 {
		t.Errorf("space = %d KiB, want 2048", cfg.SpaceKiB)
	}
	if cfg.RhizomeFetchIntervalMS != 500 {
		t.Errorf("fetch interval = %d, want 500", cfg.RhizomeFetchIntervalMS)
	}
	if cfg.InterfaceFolder != "/tmp/dummies" {
		t.Errorf("interface.folder = %q", cfg.InterfaceFolder)
	}
	if cfg.AddFile.URI != "/addfile" {
		t.Errorf("addfile.uri = %q", cfg.AddFile.URI)
	}
	if cfg.AddFile.AllowedAddress != "127.0.0.1" {
		t.Errorf("addfile.allowedaddress default = %q, want 127.0.0.1", cfg.AddFile.AllowedAddress)
	}
	if cfg.MDPTickMSByType["wifi"] != 20 {
		t.Errorf("mdp.wifi.tick_ms = %d, want 20", cfg.MDPTickMSByType["wifi"])
	}
	if cfg.MDPTickMSByInterface["eth0"] != 5000 {
		t.Errorf("mdp.eth0.tick_ms = %d, want 5000", cfg.MDPTickMSByInterface["eth0"])
	}
}

func TestLoadRejectsOutOfRangeInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhizome.conf")
	os.WriteFile(path, []byte("rhizome.fetch_interval_ms=0\n"), 0o644)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for fetch_interval_ms=0")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhizome.conf")
	os.WriteFile(path, []byte("bogus.key=1\n"), 0o644)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an unrecognised option")
	}
}
