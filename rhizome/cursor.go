// Sync cursor: a half-open range over the 2D key
// (payload_size, manifest_id), and its 10-byte wire ("pickled") form.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizome

import "github.com/serval-mesh/meshd/cmn/cos"

// WireCursorSize is the fixed 10-byte pickled form: a 4-byte size bound
// plus a 6-byte manifest-id prefix bound.
const WireCursorSize = 10

// Cursor defines a half-open range over (payload_size, manifest_id) used
// to request one delta slice of a peer's BAR set.
type Cursor struct {
	SizeLow   uint32
	BIDLow    [6]byte
	SizeHigh  uint32
	BIDHigh   [6]byte
	LimitSize uint32
	LimitBID  [6]byte
}

// Pickle packs the cursor's upper bound (size_high, bid_high) — the part a
// peer reports back and the initiator uses to advance — into the 10-byte
// wire form.
func (c Cursor) Pickle() [WireCursorSize]byte {
	var out [WireCursorSize]byte
	out[0] = byte(c.SizeHigh >> 24)
	out[1] = byte(c.SizeHigh >> 16)
	out[2] = byte(c.SizeHigh >> 8)
	out[3] = byte(c.SizeHigh)
	copy(out[4:10], c.BIDHigh[:])
	return out
}

// Unpickle parses a 10-byte wire cursor into the (SizeHigh, BIDHigh) pair;
// the caller supplies the range's lower bound and limits separately, since
// those are local query state rather than wire-transmitted.
func Unpickle(raw []byte) (sizeHigh uint32, bidHigh [6]byte, err error) {
	if len(raw) != WireCursorSize {
		return 0, bidHigh, cos.NewErr(cos.KindParse, "cursor: want %d bytes, got %d", WireCursorSize, len(raw))
	}
	sizeHigh = uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	copy(bidHigh[:], raw[4:10])
	return sizeHigh, bidHigh, nil
}

// Advance moves the low bound past a processed response: size_low becomes
// the response's limit_size_high and bid_low its limit_bid_high with the
// low bits forced to 0xFF, since the far end reported that all BIDs with
// that prefix are covered.
func (c *Cursor) Advance(respSizeHigh uint32, respBIDHigh [6]byte) {
	c.SizeLow = respSizeHigh
	c.BIDLow = respBIDHigh
	for i := 2; i < 6; i++ {
		c.BIDLow[i] = 0xff
	}
}

// Done reports whether the range is now empty; the enquiry re-issue loop
// terminates once Advance has collapsed [low, high) to nothing.
func (c Cursor) Done() bool {
	if c.SizeLow != c.SizeHigh {
		return c.SizeLow > c.SizeHigh
	}
	return bytesCompare(c.BIDLow[:], c.BIDHigh[:]) >= 0
}

func bytesCompare(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// InRange reports whether (size, bidPrefix) falls within [low, high).
func (c Cursor) InRange(size uint32, bidPrefix [6]byte) bool {
	if size < c.SizeLow || size > c.SizeHigh {
		return false
	}
	if size == c.SizeLow && bytesCompare(bidPrefix[:], c.BIDLow[:]) < 0 {
		return false
	}
	if size == c.SizeHigh && bytesCompare(bidPrefix[:], c.BIDHigh[:]) >= 0 {
		return false
	}
	return true
}
