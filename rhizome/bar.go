// Bundle Advertisement Records: fixed-width digests enabling
// set reconciliation between peers without transferring full manifests.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizome

import "github.com/serval-mesh/meshd/cmn/cos"

// BARSize is the fixed on-wire width of a BAR: an 8-byte manifest id
// prefix, an 8-byte version, and a 1-byte coarse size/expiry bucket.
const BARSize = 17

// BAR is a compact digest of one stored bundle.
type BAR struct {
	IDPrefix [8]byte
	Version  uint64
	Bucket   byte // coarse log2(payload size) bucket, 0..255
}

// SizeBucket buckets a payload size into a coarse power-of-two class,
// used only to help a peer guess
// whether fetching is worthwhile before asking for the full manifest.
func SizeBucket(size int64) byte {
	b := byte(0)
	for size > 0 {
		size >>= 1
		b++
	}
	return b
}

// NewBAR builds a BAR for a stored bundle.
func NewBAR(id string, version uint64, payloadSize int64) (BAR, error) {
	raw, err := hexDecode(id)
	if err != nil {
		return BAR{}, err
	}
	if len(raw) < 8 {
		return BAR{}, cos.NewErr(cos.KindValidation, "bar: id too short for an 8-byte prefix")
	}
	var bar BAR
	copy(bar.IDPrefix[:], raw[:8])
	bar.Version = version
	bar.Bucket = SizeBucket(payloadSize)
	return bar, nil
}

// Marshal writes the BAR to its fixed 17-byte wire form.
func (b BAR) Marshal() []byte {
	out := make([]byte, BARSize)
	copy(out, b.IDPrefix[:])
	for i := 0; i < 8; i++ {
		out[8+i] = byte(b.Version >> (56 - 8*i))
	}
	out[16] = b.Bucket
	return out
}

// UnmarshalBAR parses a 17-byte wire-form BAR.
func UnmarshalBAR(raw []byte) (BAR, error) {
	if len(raw) != BARSize {
		return BAR{}, cos.NewErr(cos.KindParse, "bar: want %d bytes, got %d", BARSize, len(raw))
	}
	var b BAR
	copy(b.IDPrefix[:], raw[:8])
	for i := 0; i < 8; i++ {
		b.Version = b.Version<<8 | uint64(raw[8+i])
	}
	b.Bucket = raw[16]
	return b, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, cos.NewErr(cos.KindParse, "hex: odd length %d", len(s))
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, cos.NewErr(cos.KindParse, "hex: invalid digit %q", c)
	}
}
