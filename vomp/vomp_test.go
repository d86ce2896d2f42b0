/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package vomp_test

import (
	"testing"
	"time"

	"github.com/serval-mesh/meshd/subscriber"
	"github.com/serval-mesh/meshd/vomp"
)

func TestDialCollisionResolvesToSingleInCall(t *testing.T) {
	now := time.Now()
	var alice, bob subscriber.SID
	alice[0], bob[0] = 1, 2
	codecs := uint32(1) << vomp.Codec2_2400

	a := vomp.NewCall(alice, bob, "X", "Y", true, now, 0x1111)
	b := vomp.NewCall(bob, alice, "Y", "X", true, now, 0x2222)
	a.Dial()
	b.Dial()

	// Each sees the other's CALLPREP/RINGINGOUT frames in some order;
	// simulate a few exchange rounds converging per the transition table.
	aState := a.Update(now, vomp.CallPrep, codecs, codecs)
	bState := b.Update(now, vomp.CallPrep, codecs, codecs)
	if aState != vomp.RingingOut || bState != vomp.RingingOut {
		t.Fatalf("want both RINGINGOUT after mutual CALLPREP, got a=%s b=%s", aState, bState)
	}

	// a initiated and sees b as RINGINGOUT -> INCALL; a is the
	// non-initiator from b's perspective is false (both initiated), so
	// the collision rule allows both to reach
	// INCALL once each observes the other already RINGINGOUT/INCALL.
	aState = a.Update(now, vomp.RingingOut, codecs, codecs)
	bState = b.Update(now, vomp.RingingOut, codecs, codecs)
	if aState != vomp.InCall || bState != vomp.InCall {
		t.Fatalf("want both INCALL, got a=%s b=%s", aState, bState)
	}
}

func TestNonInitiatorAcceptsOnCollision(t *testing.T) {
	now := time.Now()
	var alice, bob subscriber.SID
	c := vomp.NewCall(alice, bob, "X", "Y", false, now, 0x3333) // did not initiate
	state := c.Update(now, vomp.RingingOut, 0, 0)
	if state != vomp.RingingIn {
		t.Fatalf("non-initiator observing RINGINGOUT should become RINGINGIN, got %s", state)
	}
}

func TestCodecMismatchEndsCall(t *testing.T) {
	now := time.Now()
	var alice, bob subscriber.SID
	c := vomp.NewCall(alice, bob, "X", "Y", true, now, 0x4444)
	c.Dial()
	state := c.Update(now, vomp.CallPrep, 1<<vomp.Codec2_2400, 1<<vomp.CodecGSMFull)
	if state != vomp.CallEnded {
		t.Fatalf("want CALLENDED on empty codec intersection, got %s", state)
	}
}

func TestAudioDuplicateSuppression(t *testing.T) {
	now := time.Now()
	var alice, bob subscriber.SID
	c := vomp.NewCall(alice, bob, "X", "Y", true, now, 0x5555)
	if c.ObserveAudio(100) {
		t.Fatal("first observation must not be a duplicate")
	}
	if !c.ObserveAudio(100) {
		t.Fatal("second observation of the same end-time must be a duplicate")
	}
}

func TestWireFrameRoundTrip(t *testing.T) {
	f := &vomp.WireFrame{
		RemoteStateAsSeenBySender:  vomp.InCall,
		LocalStateAsSeenBySender:   vomp.InCall,
		RecipientSeqAsSeenBySender: 7,
		SenderSeq:                  9,
		ElapsedMS:                  1234,
		RecipientSession:           0xabcdef,
		SenderSession:              0x112233,
		HasAudio:                   true,
		AudioClock:                 5000,
		AudioCodec:                 vomp.CodecPCM,
		Samples:                    []byte{1, 2, 3, 4},
	}
	raw := f.Marshal()
	got, err := vomp.ParseWireFrame(raw, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioClock != f.AudioClock || got.SenderSession != f.SenderSession || string(got.Samples) != string(f.Samples) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, f)
	}
}

func TestPreCallWireFrameRoundTrip(t *testing.T) {
	f := &vomp.WireFrame{
		RemoteStateAsSeenBySender: vomp.NoCall,
		LocalStateAsSeenBySender:  vomp.CallPrep,
		SenderSeq:                 1,
		SenderSession:             0x00beef,
		CodecFlags:                1<<vomp.Codec2_2400 | 1<<vomp.CodecDTMF,
		SrcDID:                    "5551212",
		DstDID:                    "5553434",
	}
	got, err := vomp.ParseWireFrame(f.Marshal(), false)
	if err != nil {
		t.Fatal(err)
	}
	if got.CodecFlags != f.CodecFlags {
		t.Fatalf("codec flags: got %08x want %08x", got.CodecFlags, f.CodecFlags)
	}
	if got.SrcDID != f.SrcDID || got.DstDID != f.DstDID {
		t.Fatalf("DIDs: got %q/%q want %q/%q", got.SrcDID, got.DstDID, f.SrcDID, f.DstDID)
	}
}

func TestTableDestroysAfterBothEnded(t *testing.T) {
	tbl := vomp.NewTable()
	now := time.Now()
	var alice, bob subscriber.SID
	call, err := tbl.Dial(alice, bob, "X", "Y", now)
	if err != nil {
		t.Fatal(err)
	}
	call.Local.State = vomp.CallEnded
	call.Remote.State = vomp.CallEnded
	tbl.Tick(now)
	if tbl.Len() != 1 {
		t.Fatalf("call must survive the same tick it ended on")
	}
	tbl.Tick(now.Add(vomp.StatusInterval + time.Millisecond))
	if tbl.Len() != 0 {
		t.Fatalf("call must be destroyed one status interval after both ended")
	}
}
