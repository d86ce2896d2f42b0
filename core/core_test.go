/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package core_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/config"
	"github.com/serval-mesh/meshd/core"
	"github.com/serval-mesh/meshd/mdp"
	"github.com/serval-mesh/meshd/overlay"
	"github.com/serval-mesh/meshd/rhizome/sign"
	"github.com/serval-mesh/meshd/subscriber"
	"github.com/serval-mesh/meshd/txq"
	"github.com/serval-mesh/meshd/vomp"
)

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	cfg := config.Defaults()
	cfg.RhizomeEnable = false // no background sync rounds in this test
	self, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "rhizome.db")
	c, err := core.New(cfg, dbPath, 1<<20, self)
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewWiresEmptyStatus(t *testing.T) {
	c := newTestCore(t)
	st := c.Status()
	if st.ManifestCount != 0 || st.CallCount != 0 {
		t.Errorf("fresh core reports non-empty status: %+v", st)
	}
	for _, want := range []string{"voice", "routing", "mdp", "rhizome-adv"} {
		if _, ok := st.QueueDepths[want]; !ok {
			t.Errorf("status missing queue depth for %q", want)
		}
	}
}

func TestHandleInboundSelfAnnounceRegistersSubscriber(t *testing.T) {
	c := newTestCore(t)

	var remoteSID subscriber.SID
	remoteSID[0] = 0xAB
	remote := &subscriber.Subscriber{SID: remoteSID, SendFull: true}

	pkt := buf.New()
	if err := overlay.WritePacketHeader(pkt); err != nil {
		t.Fatalf("WritePacketHeader: %v", err)
	}
	scratch := subscriber.NewTable().NewPacketScratch()
	if err := overlay.WriteSelfAnnounce(pkt, scratch, remote); err != nil {
		t.Fatalf("WriteSelfAnnounce: %v", err)
	}

	if err := c.HandleInbound(pkt.Bytes(), "eth0"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if _, ok := c.Subscribers.Get(remoteSID); !ok {
		t.Fatal("expected the announcing subscriber to be registered")
	}
}

func TestHandleInboundRejectsBadMagic(t *testing.T) {
	c := newTestCore(t)
	if err := c.HandleInbound([]byte{0, 0, 0, 0}, "eth0"); err == nil {
		t.Fatal("expected an error for a non-overlay packet")
	}
}

func TestDialVoMPQueuesFrameAndEmitsCallTo(t *testing.T) {
	c := newTestCore(t)
	var mon bytes.Buffer
	c.Monitor = &mon

	var remote subscriber.SID
	remote[0] = 5
	call, err := c.DialVoMP(remote, "100", "200")
	if err != nil {
		t.Fatalf("DialVoMP: %v", err)
	}
	if call.Local.State != vomp.CallPrep {
		t.Fatalf("dialing side must be CALLPREP, got %s", call.Local.State)
	}
	if got := c.TXQ.Queue(txq.PriorityVoice).Len(); got != 1 {
		t.Fatalf("expected 1 frame on the voice queue, got %d", got)
	}
	out := mon.String()
	if !strings.Contains(out, "CALLTO:") || !strings.Contains(out, "CALLSTATUS:") {
		t.Fatalf("monitor output missing CALLTO/CALLSTATUS lines: %q", out)
	}
}

func TestInboundVoMPFrameAcceptsCallAndEmitsCallFrom(t *testing.T) {
	c := newTestCore(t)
	var mon bytes.Buffer
	c.Monitor = &mon

	var callerSID subscriber.SID
	callerSID[0] = 9
	caller := c.Subscribers.GetOrCreate(callerSID)

	f := &vomp.WireFrame{
		RemoteStateAsSeenBySender: vomp.NoCall,
		LocalStateAsSeenBySender:  vomp.CallPrep,
		SenderSeq:                 1,
		SenderSession:             0xabc123,
		CodecFlags:                uint32(1) << vomp.CodecPCM,
		SrcDID:                    "200",
		DstDID:                    "100",
	}
	if err := c.MDP.Dispatch(caller, mdp.Encode(mdp.PortVoMP, f.Marshal())); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if c.Vomp.Len() != 1 {
		t.Fatalf("expected one registered call, got %d", c.Vomp.Len())
	}
	call, ok := c.Vomp.GetByRemoteSession(0xabc123)
	if !ok {
		t.Fatal("call must be findable by the peer's session id")
	}
	if call.Remote.DID != "200" {
		t.Fatalf("remote DID = %q, want 200", call.Remote.DID)
	}
	out := mon.String()
	if !strings.Contains(out, "CALLFROM:") || !strings.Contains(out, "CODECS:") {
		t.Fatalf("monitor output missing CALLFROM/CODECS lines: %q", out)
	}

	// a second frame from the same peer session must reuse the call
	f.SenderSeq = 2
	if err := c.MDP.Dispatch(caller, mdp.Encode(mdp.PortVoMP, f.Marshal())); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if c.Vomp.Len() != 1 {
		t.Fatalf("expected the same call reused, got %d entries", c.Vomp.Len())
	}
}

func TestHangupVoMPNotifiesPeerAndMonitor(t *testing.T) {
	c := newTestCore(t)
	var mon bytes.Buffer
	c.Monitor = &mon

	var remote subscriber.SID
	remote[0] = 6
	call, err := c.DialVoMP(remote, "100", "200")
	if err != nil {
		t.Fatal(err)
	}
	queued := c.TXQ.Queue(txq.PriorityVoice).Len()
	c.HangupVoMP(call)
	if call.Local.State != vomp.CallEnded {
		t.Fatalf("expected CALLENDED after hangup, got %s", call.Local.State)
	}
	if got := c.TXQ.Queue(txq.PriorityVoice).Len(); got != queued+1 {
		t.Fatalf("hangup must enqueue a state frame for the peer (%d -> %d)", queued, got)
	}
	if !strings.Contains(mon.String(), "HANGUP:") {
		t.Fatalf("monitor output missing HANGUP line: %q", mon.String())
	}
}
