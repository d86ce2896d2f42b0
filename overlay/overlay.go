// Package overlay implements the wire codec for outbound/inbound overlay
// packets: the fixed magic header, per-frame type/TTL/RFS-length
// tagging, address compression via the subscriber table's PREVIOUS scratch,
// and the self-announce frame every interface tick must carry.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package overlay

import (
	"bytes"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/subscriber"
)

// Magic is the 4-byte sequence every overlay packet begins with.
var Magic = [4]byte{'O', 0x10, 0x00, 0x01}

// MaxTTL is the largest TTL a frame may carry; broadcast frames are
// clamped to a much smaller TTL by the TX queue engine.
const MaxTTL = 31

// FrameType tags what kind of frame body follows the TTL/RFS-length pair.
type FrameType byte

const (
	FrameSelfAnnounce FrameType = 1
	FrameRouteAdv     FrameType = 2
	FrameMDP          FrameType = 3
	FrameRhizomeAdv   FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameSelfAnnounce:
		return "self-announce"
	case FrameRouteAdv:
		return "route-adv"
	case FrameMDP:
		return "mdp"
	case FrameRhizomeAdv:
		return "rhizome-adv"
	default:
		return "unknown"
	}
}

// Address field tags: a full SID, one of two abbreviation widths,
// or the one-byte PREVIOUS shorthand.
const (
	addrPrevious byte = 0x00
	addrFull     byte = 0x01
	addrAbbrev12 byte = 0x02
	addrAbbrev8  byte = 0x03
)

// WritePacketHeader appends the magic that begins every outgoing packet.
func WritePacketHeader(b *buf.Buffer) error {
	return b.AppendBytes(Magic[:])
}

// ReadPacketHeader consumes and validates the magic. A mismatch means this
// is not an overlay packet; such a packet is ignored and the interface
// kept up, so callers should treat this error as "drop the
// packet", not as interface failure.
func ReadPacketHeader(b *buf.Buffer) error {
	got, err := b.GetBytes(len(Magic))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, Magic[:]) {
		return cos.NewErr(cos.KindProtocol, "bad overlay magic % x", got)
	}
	return nil
}

// WriteFrame appends a complete frame: type, TTL, then body framed with an
// RFS length. body's length is already known (two-pass encoding into a
// scratch buffer), so no PatchRFS is needed here.
func WriteFrame(b *buf.Buffer, ftype FrameType, ttl byte, body *buf.Buffer) error {
	if ttl > MaxTTL {
		return cos.NewErr(cos.KindValidation, "ttl %d exceeds max %d", ttl, MaxTTL)
	}
	if err := b.AppendByte(byte(ftype)); err != nil {
		return err
	}
	if err := b.AppendByte(ttl); err != nil {
		return err
	}
	if _, err := b.AppendRFS(body.Len()); err != nil {
		return err
	}
	return b.AppendBytes(body.Bytes())
}

// ReadFrame consumes one frame, returning a reader over just its body.
func ReadFrame(b *buf.Buffer) (ftype FrameType, ttl byte, body *buf.Buffer, err error) {
	t, err := b.GetByte()
	if err != nil {
		return 0, 0, nil, err
	}
	ttl, err = b.GetByte()
	if err != nil {
		return 0, 0, nil, err
	}
	n, err := b.GetRFS()
	if err != nil {
		return 0, 0, nil, err
	}
	raw, err := b.GetBytesPtr(n)
	if err != nil {
		return 0, 0, nil, err
	}
	return FrameType(t), ttl, buf.NewReader(raw), nil
}

// WriteAddress appends sub's address, using the PREVIOUS shorthand when
// scratch says sub is already the last address referenced in this packet.
func WriteAddress(b *buf.Buffer, scratch *subscriber.PacketScratch, sub *subscriber.Subscriber) error {
	var err error
	if scratch.IsPrevious(sub) {
		err = b.AppendByte(addrPrevious)
	} else {
		if err = b.AppendByte(addrFull); err == nil {
			err = b.AppendBytes(sub.SID[:])
		}
	}
	if err != nil {
		return err
	}
	scratch.Observe(sub)
	return nil
}

// ReadAddress consumes an address field, resolving PREVIOUS and
// abbreviations against tbl/scratch, creating a new Subscriber on first
// sight of a full SID.
func ReadAddress(b *buf.Buffer, tbl *subscriber.Table, scratch *subscriber.PacketScratch) (*subscriber.Subscriber, error) {
	tag, err := b.GetByte()
	if err != nil {
		return nil, err
	}
	var sub *subscriber.Subscriber
	switch tag {
	case addrPrevious:
		sub = scratch.Previous()
		if sub == nil {
			return nil, cos.NewErr(cos.KindProtocol, "PREVIOUS address with no prior reference in packet")
		}
		return sub, nil
	case addrFull:
		raw, err := b.GetBytes(32)
		if err != nil {
			return nil, err
		}
		var sid subscriber.SID
		copy(sid[:], raw)
		sub = tbl.GetOrCreate(sid)
	case addrAbbrev8, addrAbbrev12:
		n := 12
		if tag == addrAbbrev8 {
			n = 8
		}
		raw, err := b.GetBytes(n)
		if err != nil {
			return nil, err
		}
		sub, err = resolveAbbrev(tbl, raw)
		if err != nil {
			return nil, err
		}
	default:
		return nil, cos.NewErr(cos.KindProtocol, "invalid overlay address tag 0x%02x", tag)
	}
	scratch.Observe(sub)
	return sub, nil
}

func resolveAbbrev(tbl *subscriber.Table, prefix []byte) (*subscriber.Subscriber, error) {
	for _, sub := range tbl.All() {
		if bytes.HasPrefix(sub.SID[:], prefix) {
			return sub, nil
		}
	}
	return nil, cos.NewErr(cos.KindNotFound, "no cached SID matches %d-byte abbreviation % x", len(prefix), prefix)
}

// WriteSelfAnnounceBody writes just the self-announce frame's body (an
// address field) into body, for a producer (e.g. iface's tick) that hands
// the result to the TX queue engine as a Frame payload rather than framing
// it immediately. When send_full is set the announce carries the full
// SID, not a shortened form; once honoured, the flag is cleared.
func WriteSelfAnnounceBody(body *buf.Buffer, scratch *subscriber.PacketScratch, self *subscriber.Subscriber) error {
	if self.SendFull {
		if err := body.AppendByte(addrFull); err != nil {
			return err
		}
		if err := body.AppendBytes(self.SID[:]); err != nil {
			return err
		}
		self.SendFull = false
	} else if err := WriteAddress(body, scratch, self); err != nil {
		return err
	}
	scratch.SetSender(self)
	return nil
}

// WriteSelfAnnounce appends a fully-framed self-announce frame to b; a
// convenience for callers (tests, one-off sends) that do not route through
// the TX queue engine's own framing pass.
func WriteSelfAnnounce(b *buf.Buffer, scratch *subscriber.PacketScratch, self *subscriber.Subscriber) error {
	body := buf.New()
	if err := WriteSelfAnnounceBody(body, scratch, self); err != nil {
		return err
	}
	return WriteFrame(b, FrameSelfAnnounce, 1, body)
}

// ReadSelfAnnounce consumes a self-announce frame body, returning the
// announcing subscriber. The receiver must admit addresses from the rest
// of the packet only after this frame has been seen.
func ReadSelfAnnounce(body *buf.Buffer, tbl *subscriber.Table, scratch *subscriber.PacketScratch) (*subscriber.Subscriber, error) {
	sub, err := ReadAddress(body, tbl, scratch)
	if err != nil {
		return nil, err
	}
	scratch.SetSender(sub)
	return sub, nil
}
