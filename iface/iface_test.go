/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package iface_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/serval-mesh/meshd/iface"
)

func TestParseRule(t *testing.T) {
	r, err := iface.ParseRule("+eth0=ETHERNET:4110:1000000")
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if !r.Allow || r.Name != "eth0" || r.Type != iface.TypeEthernet || r.Port != 4110 || r.BPS != 1_000_000 {
		t.Fatalf("unexpected rule: %+v", r)
	}

	deny, err := iface.ParseRule("-wlan1")
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if deny.Allow {
		t.Fatal("expected a deny rule")
	}
}

func TestParseRuleRejectsMissingSign(t *testing.T) {
	if _, err := iface.ParseRule("eth0"); err == nil {
		t.Fatal("expected an error for a rule without a leading +/-")
	}
}

// TestSweepAdmitsDummyInterface drives a loopback file-backed dummy
// interface setup: a folder source reporting one ">name" candidate should
// transition it from absent to UP after one sweep.
func TestSweepAdmitsDummyInterface(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dummy-a")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed dummy file: %v", err)
	}

	mgr := iface.NewManager(4110)
	mgr.AddSource(fakeSource{cands: []iface.SourceInterface{
		{Name: ">dummy-a", Dummy: true, FilePath: path},
	}})

	if err := mgr.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	up := mgr.UpInterfaces()
	if len(up) != 1 {
		t.Fatalf("expected 1 UP interface after sweep, got %d", len(up))
	}
}

func TestSweepClosesUndetectedInterface(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dummy-a")
	os.WriteFile(path, nil, 0o644)

	mgr := iface.NewManager(4110)
	src := &toggleSource{cands: []iface.SourceInterface{{Name: ">dummy-a", Dummy: true, FilePath: path}}}
	mgr.AddSource(src)

	if err := mgr.Sweep(); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(mgr.UpInterfaces()) != 1 {
		t.Fatal("expected interface UP after first sweep")
	}

	src.cands = nil // the source no longer reports it
	if err := mgr.Sweep(); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(mgr.UpInterfaces()) != 0 {
		t.Fatal("expected interface closed after not being redetected")
	}
}

type fakeSource struct{ cands []iface.SourceInterface }

func (f fakeSource) Discover() ([]iface.SourceInterface, error) { return f.cands, nil }

type toggleSource struct{ cands []iface.SourceInterface }

func (t *toggleSource) Discover() ([]iface.SourceInterface, error) { return t.cands, nil }
