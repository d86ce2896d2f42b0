/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package txq_test

import (
	"sync"
	"testing"
	"time"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/overlay"
	"github.com/serval-mesh/meshd/sched"
	"github.com/serval-mesh/meshd/subscriber"
	"github.com/serval-mesh/meshd/txq"
)

type fakeSender struct {
	up   []txq.InterfaceInfo
	mu   sync.Mutex
	sent []sentPacket
}

type sentPacket struct {
	ifaceIdx int
	unicast  bool
	addr     string
	data     []byte
}

func (f *fakeSender) UpInterfaces() []txq.InterfaceInfo { return f.up }
func (f *fakeSender) Send(ifaceIdx int, unicast bool, addr string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, sentPacket{ifaceIdx, unicast, addr, cp})
	return nil
}

func payload(s string) *buf.Buffer {
	b := buf.New()
	_ = b.AppendBytes([]byte(s))
	return b
}

func sidFor(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

func TestEnqueueClampsBroadcastTTL(t *testing.T) {
	s, _ := sched.NewTestScheduler()
	e := txq.NewEngine(s)
	f := &txq.Frame{Type: overlay.FrameMDP, TTL: 31, Payload: payload("x")}
	e.Enqueue(txq.PriorityOrdinary, f)
	if f.TTL != 2 {
		t.Fatalf("expected broadcast TTL clamped to 2, got %d", f.TTL)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	s, _ := sched.NewTestScheduler()
	e := txq.NewEngine(s)
	q := e.Queue(txq.PriorityRhizomeAdv)
	q.MaxLength = 2
	e.Enqueue(txq.PriorityRhizomeAdv, &txq.Frame{Type: overlay.FrameRhizomeAdv, Payload: payload("a")})
	e.Enqueue(txq.PriorityRhizomeAdv, &txq.Frame{Type: overlay.FrameRhizomeAdv, Payload: payload("b")})
	e.Enqueue(txq.PriorityRhizomeAdv, &txq.Frame{Type: overlay.FrameRhizomeAdv, Payload: payload("c")})
	if q.Len() != 2 {
		t.Fatalf("expected queue capped at 2, got %d", q.Len())
	}
}

func TestFillSendPacketUnicast(t *testing.T) {
	s, _ := sched.NewTestScheduler()
	e := txq.NewEngine(s)
	tbl := subscriber.NewTable()
	dest := tbl.Observe(time.Now(), sidFor(1), 0, "10.0.0.9:4110", subscriber.Direct)

	e.Enqueue(txq.PriorityOrdinary, &txq.Frame{
		Type:        overlay.FrameMDP,
		Destination: dest,
		SendCopies:  1,
		Payload:     payload("hello"),
	})

	sender := &fakeSender{up: []txq.InterfaceInfo{{Index: 0, MTU: 1200}}}
	if err := e.FillSendPacket(time.Now(), tbl, sender, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 packet sent, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if !got.unicast || got.addr != "10.0.0.9:4110" {
		t.Fatalf("expected unicast to dest address, got %+v", got)
	}
	if e.Queue(txq.PriorityOrdinary).Len() != 0 {
		t.Fatalf("expected frame removed after send_copies reaches 0")
	}
}

func TestFillSendPacketBroadcastCoversAllInterfacesAcrossDispatches(t *testing.T) {
	s, _ := sched.NewTestScheduler()
	e := txq.NewEngine(s)
	tbl := subscriber.NewTable()

	e.Enqueue(txq.PriorityOrdinary, &txq.Frame{
		Type:    overlay.FrameMDP,
		Payload: payload("bcast"),
	})

	up := []txq.InterfaceInfo{{Index: 0, MTU: 1200}, {Index: 1, MTU: 1200}}
	sender := &fakeSender{up: up}

	// first dispatch covers interface 0 only (one packet per dispatch)
	if err := e.FillSendPacket(time.Now(), tbl, sender, nil, nil); err != nil {
		t.Fatal(err)
	}
	if e.Queue(txq.PriorityOrdinary).Len() != 1 {
		t.Fatal("broadcast frame must remain queued until every UP interface is covered")
	}

	// second dispatch covers interface 1; frame is now fully covered
	if err := e.FillSendPacket(time.Now(), tbl, sender, nil, nil); err != nil {
		t.Fatal(err)
	}
	if e.Queue(txq.PriorityOrdinary).Len() != 0 {
		t.Fatal("expected broadcast frame removed once all UP interfaces covered")
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 packets (one per interface), got %d", len(sender.sent))
	}
	if sender.sent[0].ifaceIdx == sender.sent[1].ifaceIdx {
		t.Fatal("expected the two dispatches to cover distinct interfaces")
	}
}

func TestFillSendPacketDropsExpiredFrame(t *testing.T) {
	s, _ := sched.NewTestScheduler()
	e := txq.NewEngine(s)
	tbl := subscriber.NewTable()
	q := e.Queue(txq.PriorityRhizomeAdv)
	q.LatencyTarget = time.Millisecond

	e.Enqueue(txq.PriorityRhizomeAdv, &txq.Frame{
		Type:       overlay.FrameRhizomeAdv,
		Payload:    payload("stale"),
		EnqueuedAt: time.Now().Add(-time.Hour),
	})

	sender := &fakeSender{up: []txq.InterfaceInfo{{Index: 0, MTU: 1200}}}
	if err := e.FillSendPacket(time.Now(), tbl, sender, nil, nil); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Fatal("expected expired frame to be dropped, not sent")
	}
	if len(sender.sent) != 0 {
		t.Fatal("expired frame must not be sent")
	}
}
