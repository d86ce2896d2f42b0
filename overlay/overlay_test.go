/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package overlay_test

import (
	"bytes"
	"testing"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/overlay"
	"github.com/serval-mesh/meshd/subscriber"
)

func sidFor(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

func TestPacketHeaderRoundTrip(t *testing.T) {
	b := buf.New()
	if err := overlay.WritePacketHeader(b); err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader(b.Bytes())
	if err := overlay.ReadPacketHeader(r); err != nil {
		t.Fatal(err)
	}
}

func TestPacketHeaderRejectsBadMagic(t *testing.T) {
	r := buf.NewReader([]byte{'X', 0, 0, 0})
	if err := overlay.ReadPacketHeader(r); !cos.IsProtocol(err) {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	b := buf.New()
	body := buf.New()
	_ = body.AppendBytes([]byte("payload"))
	if err := overlay.WriteFrame(b, overlay.FrameMDP, 5, body); err != nil {
		t.Fatal(err)
	}

	r := buf.NewReader(b.Bytes())
	ftype, ttl, gotBody, err := overlay.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if ftype != overlay.FrameMDP || ttl != 5 {
		t.Fatalf("expected MDP/ttl=5, got %v/%d", ftype, ttl)
	}
	if !bytes.Equal(gotBody.Bytes(), []byte("payload")) {
		t.Fatalf("expected %q, got %q", "payload", gotBody.Bytes())
	}
}

func TestWriteFrameRejectsTTLOverMax(t *testing.T) {
	b := buf.New()
	body := buf.New()
	if err := overlay.WriteFrame(b, overlay.FrameRouteAdv, overlay.MaxTTL+1, body); !cos.IsValidation(err) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestSelfAnnounceFullClearsSendFull(t *testing.T) {
	tbl := subscriber.NewTable()
	self := tbl.GetOrCreate(sidFor(1))
	self.SendFull = true

	scratch := tbl.NewPacketScratch()
	b := buf.New()
	if err := overlay.WriteSelfAnnounce(b, scratch, self); err != nil {
		t.Fatal(err)
	}
	if self.SendFull {
		t.Fatal("SendFull must be cleared after being honoured")
	}

	rtbl := subscriber.NewTable()
	rscratch := rtbl.NewPacketScratch()
	r := buf.NewReader(b.Bytes())
	ftype, _, body, err := overlay.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if ftype != overlay.FrameSelfAnnounce {
		t.Fatalf("expected self-announce, got %v", ftype)
	}
	got, err := overlay.ReadSelfAnnounce(body, rtbl, rscratch)
	if err != nil {
		t.Fatal(err)
	}
	if got.SID != self.SID {
		t.Fatalf("expected SID %x, got %x", self.SID, got.SID)
	}
}

func TestAddressPreviousShorthand(t *testing.T) {
	tbl := subscriber.NewTable()
	sender := tbl.GetOrCreate(sidFor(2))
	scratch := tbl.NewPacketScratch()
	scratch.SetSender(sender)

	b := buf.New()
	if err := overlay.WriteAddress(b, scratch, sender); err != nil {
		t.Fatal(err)
	}
	// PREVIOUS is exactly one byte on the wire.
	if b.Len() != 1 {
		t.Fatalf("expected 1-byte PREVIOUS encoding, got %d bytes", b.Len())
	}

	r := buf.NewReader(b.Bytes())
	got, err := overlay.ReadAddress(r, tbl, scratch)
	if err != nil {
		t.Fatal(err)
	}
	if got != sender {
		t.Fatalf("expected PREVIOUS to resolve to sender")
	}
}

func TestReadAddressPreviousWithoutPriorReference(t *testing.T) {
	tbl := subscriber.NewTable()
	scratch := tbl.NewPacketScratch()
	r := buf.NewReader([]byte{0x00})
	if _, err := overlay.ReadAddress(r, tbl, scratch); !cos.IsProtocol(err) {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
}
