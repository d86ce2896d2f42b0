/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package subscriber_test

import (
	"testing"
	"time"

	"github.com/serval-mesh/meshd/subscriber"
)

func sidFor(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

func TestGetOrCreateIsInsertionOrdered(t *testing.T) {
	tbl := subscriber.NewTable()
	a, b, c := sidFor(1), sidFor(2), sidFor(3)

	tbl.GetOrCreate(b)
	tbl.GetOrCreate(a)
	tbl.GetOrCreate(c)
	tbl.GetOrCreate(b) // re-observing b must not move it

	all := tbl.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 subscribers, got %d", len(all))
	}
	if all[0].SID != b || all[1].SID != a || all[2].SID != c {
		t.Fatalf("expected insertion order [b,a,c], got %v", all)
	}
}

func TestObserveUpdatesReachability(t *testing.T) {
	tbl := subscriber.NewTable()
	sid := sidFor(7)
	now := time.Now()

	sub := tbl.Observe(now, sid, 2, "10.0.0.5:4110", subscriber.Direct)
	if sub.Reachability != subscriber.Direct {
		t.Fatalf("expected Direct, got %v", sub.Reachability)
	}
	if sub.IfaceIndex != 2 {
		t.Fatalf("expected iface index 2, got %d", sub.IfaceIndex)
	}

	got, ok := tbl.Get(sid)
	if !ok || got != sub {
		t.Fatalf("Get did not return the observed subscriber")
	}
}

func TestExpireStaleTransitionsToNone(t *testing.T) {
	tbl := subscriber.NewTable()
	sid := sidFor(9)
	t0 := time.Now()
	sub := tbl.Observe(t0, sid, 0, "", subscriber.Broadcast)

	tick := 500 * time.Millisecond
	// well within N ticks: still reachable
	tbl.ExpireStale(t0.Add(tick), tick, 3)
	if sub.Reachability == subscriber.None {
		t.Fatal("expired too early")
	}

	// past N ticks since last heard: must transition to None
	tbl.ExpireStale(t0.Add(4*tick), tick, 3)
	if sub.Reachability != subscriber.None {
		t.Fatalf("expected None after staleness window, got %v", sub.Reachability)
	}
}

func TestPacketScratchPreviousReference(t *testing.T) {
	tbl := subscriber.NewTable()
	sender := tbl.GetOrCreate(sidFor(1))
	other := tbl.GetOrCreate(sidFor(2))

	scratch := tbl.NewPacketScratch()
	if scratch.Previous() != nil {
		t.Fatal("expected no PREVIOUS candidate on a fresh scratch")
	}

	scratch.SetSender(sender)
	if !scratch.IsPrevious(sender) {
		t.Fatal("sender should be the initial PREVIOUS candidate")
	}
	if scratch.IsPrevious(other) {
		t.Fatal("other was never observed; must not match PREVIOUS")
	}

	scratch.Observe(other)
	if !scratch.IsPrevious(other) {
		t.Fatal("expected other to become the PREVIOUS candidate after Observe")
	}
	if scratch.IsPrevious(sender) {
		t.Fatal("sender should no longer be the PREVIOUS candidate")
	}
}
