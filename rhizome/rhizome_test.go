/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizome_test

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/rhizome"
	"github.com/serval-mesh/meshd/rhizome/sign"
)

func newStore(t *testing.T, spaceBytes int64) (*rhizome.Store, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "rhizome-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	os.Remove(f.Name())
	s, err := rhizome.Open(f.Name(), spaceBytes)
	if err != nil {
		t.Fatal(err)
	}
	return s, func() { s.Close(); os.Remove(f.Name()) }
}

func sidHex(kp sign.KeyPair) string {
	return strings.ToUpper(fmt.Sprintf("%x", []byte(kp.Public)))
}

func buildManifest(kp sign.KeyPair, version uint64, payload []byte, name, groups string) *rhizome.Manifest {
	fields := []rhizome.Field{
		{Key: "id", Value: sidHex(kp)},
		{Key: "version", Value: strconv.FormatUint(version, 10)},
		{Key: "filesize", Value: strconv.Itoa(len(payload))},
		{Key: "service", Value: "file"},
		{Key: "date", Value: "1700000000000"},
		{Key: "name", Value: name},
	}
	if len(payload) > 0 {
		fields = append(fields, rhizome.Field{Key: "filehash", Value: sign.PayloadHash(payload)})
	}
	if groups != "" {
		fields = append(fields, rhizome.Field{Key: "groups", Value: groups})
	}
	m := rhizome.New(fields)
	m.Sign(kp)
	return m
}

func TestManifestRoundTrip(t *testing.T) {
	kp, _ := sign.GenerateKeyPair()
	m := buildManifest(kp, 1, []byte("hello"), "hello.txt", "")
	out1 := m.Serialize()
	parsed, err := rhizome.Parse(out1)
	if err != nil {
		t.Fatal(err)
	}
	out2 := parsed.Serialize()
	if string(out1) != string(out2) {
		t.Fatalf("round trip mismatch:\n%q\n%q", out1, out2)
	}
}

func TestAddDuplicateStaleReplace(t *testing.T) {
	s, cleanup := newStore(t, 10*cos.MiB)
	defer cleanup()

	kp, _ := sign.GenerateKeyPair()

	m1 := buildManifest(kp, 1, []byte("v1 payload"), "f", "")
	if _, err := s.Add(m1, []byte("v1 payload")); err != nil {
		t.Fatalf("initial add: %v", err)
	}

	dup := buildManifest(kp, 1, []byte("v1 payload"), "f", "")
	if _, err := s.Add(dup, []byte("v1 payload")); !cos.IsAlreadyPresent(err) {
		t.Fatalf("want AlreadyPresent, got %v", err)
	}

	stale := buildManifest(kp, 0, nil, "f", "")
	if _, err := s.Add(stale, nil); !cos.IsStale(err) {
		t.Fatalf("want Stale, got %v", err)
	}

	m2 := buildManifest(kp, 2, []byte("v2 payload, longer"), "f", "")
	if _, err := s.Add(m2, []byte("v2 payload, longer")); err != nil {
		t.Fatalf("replace add: %v", err)
	}
	_, version, ok := s.Lookup(sidHex(kp))
	if !ok || version != 2 {
		t.Fatalf("want version 2 reachable, got %d ok=%v", version, ok)
	}
}

func TestMakeSpaceEviction(t *testing.T) {
	s, cleanup := newStore(t, cos.MiB)
	defer cleanup()

	lowKP, _ := sign.GenerateKeyPair()
	lowPayload := make([]byte, 900*cos.KiB)
	lowM := buildManifest(lowKP, 1, lowPayload, "big", "")
	if _, err := s.Add(lowM, lowPayload); err != nil {
		t.Fatalf("low-priority add: %v", err)
	}

	if err := s.PutGroup("g1", 3); err != nil {
		t.Fatal(err)
	}
	highKP, _ := sign.GenerateKeyPair()
	highPayload := make([]byte, 300*cos.KiB)
	highM := buildManifest(highKP, 1, highPayload, "small", "g1")
	if _, err := s.Add(highM, highPayload); err != nil {
		t.Fatalf("high-priority add: %v", err)
	}

	if _, _, ok := s.Lookup(sidHex(lowKP)); ok {
		t.Fatalf("expected low-priority bundle to be evicted")
	}
	if _, _, ok := s.Lookup(sidHex(highKP)); !ok {
		t.Fatalf("expected high-priority bundle to be present")
	}
	if s.Used() > s.Space()-cos.KiB*64 {
		t.Fatalf("used %d exceeds space-headroom", s.Used())
	}
}

func TestBARPicklable(t *testing.T) {
	bar := rhizome.BAR{IDPrefix: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, Version: 42, Bucket: 9}
	raw := bar.Marshal()
	got, err := rhizome.UnmarshalBAR(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got != bar {
		t.Fatalf("unmarshal(marshal(bar)) != bar: %+v vs %+v", got, bar)
	}
}

func TestCursorPicklable(t *testing.T) {
	c := rhizome.Cursor{SizeHigh: 123456, BIDHigh: [6]byte{9, 8, 7, 6, 5, 4}}
	pickled := c.Pickle()
	sizeHigh, bidHigh, err := rhizome.Unpickle(pickled[:])
	if err != nil {
		t.Fatal(err)
	}
	if sizeHigh != c.SizeHigh || bidHigh != c.BIDHigh {
		t.Fatalf("unpickle(pickle(c)) != c")
	}
}
