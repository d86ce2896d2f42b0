// Package buf implements the overlay frame buffer: a grow-on-append
// byte container with checkpoint/rewind, a hard size limit, and deferred
// "RFS" length patching so a variable-width length prefix can be written
// before its payload's size is known.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package buf

import (
	"github.com/serval-mesh/meshd/cmn/cos"
)

const defaultAlloc = 256

// Buffer is both a writer (append_*) and, independently, a reader (get_*)
// over the same backing bytes; the two halves track separate positions.
type Buffer struct {
	bytes []byte

	position         int // writer position
	checkpointLength int
	sizeLimit        int // -1 means unlimited
	allocSize        int
	allocated        bool // false for NewStatic: never grows, never frees

	varLengthOffset int
	varLengthBytes  int

	readPos int
}

// New returns an empty, growable buffer.
func New() *Buffer {
	b := &Buffer{allocated: true, sizeLimit: -1}
	b.grow(defaultAlloc)
	return b
}

// NewStatic wraps a fixed-capacity slice as a write target; it never
// reallocates — writes past len(capacity) fail with KindSpace. Use this for
// writing into caller-supplied space (e.g. a socket recv buffer about to be
// filled by AppendBytes from a syscall).
func NewStatic(capacity []byte) *Buffer {
	return &Buffer{bytes: capacity, allocSize: len(capacity), sizeLimit: len(capacity)}
}

// NewReader wraps bytes that are already valid content — e.g. a received
// frame — for immediate reading; Len/Bytes report the full slice and GetByte
// et al. start from its beginning. It never reallocates.
func NewReader(bytes []byte) *Buffer {
	return &Buffer{bytes: bytes, position: len(bytes), allocSize: len(bytes), sizeLimit: len(bytes)}
}

// NewSlice returns a reader over b's [offset:offset+length) window, shared
// with the parent's backing array (mirrors ob_slice).
func NewSlice(b *Buffer, offset, length int) *Buffer {
	end := offset + length
	if end > len(b.bytes) {
		end = len(b.bytes)
	}
	return NewReader(b.bytes[offset:end])
}

// Dup makes an independent copy of b's current content (mirrors ob_dup).
func Dup(b *Buffer) *Buffer {
	cp := make([]byte, b.position)
	copy(cp, b.bytes[:b.position])
	return NewReader(cp)
}

func (b *Buffer) grow(n int) {
	if len(b.bytes) >= n {
		return
	}
	nb := make([]byte, n)
	copy(nb, b.bytes)
	b.bytes = nb
	b.allocSize = n
}

// Len reports the number of bytes written so far.
func (b *Buffer) Len() int { return b.position }

// Bytes returns the written region; callers must not retain it across a
// subsequent Rewind/append that could reallocate.
func (b *Buffer) Bytes() []byte { return b.bytes[:b.position] }

// Checkpoint saves the current write position for a later Rewind.
func (b *Buffer) Checkpoint() { b.checkpointLength = b.position }

// Rewind restores the write position saved by the last Checkpoint.
func (b *Buffer) Rewind() { b.position = b.checkpointLength }

// LimitSize installs a hard cap on further writes; once set it never grows
// (mirrors ob_limitsize — patching never shifts bytes past this point).
func (b *Buffer) LimitSize(n int) error {
	if n < b.position {
		return cos.NewErr(cos.KindSpace, "limitsize %d below current position %d", n, b.position)
	}
	b.sizeLimit = n
	return nil
}

// UnlimitSize removes a previously installed cap.
func (b *Buffer) UnlimitSize() { b.sizeLimit = -1 }

func (b *Buffer) makeSpace(n int) error {
	need := b.position + n
	if b.sizeLimit >= 0 && need > b.sizeLimit {
		return cos.NewErr(cos.KindSpace, "out of space: need %d, limit %d", need, b.sizeLimit)
	}
	if need <= len(b.bytes) {
		return nil
	}
	if !b.allocated {
		return cos.NewErr(cos.KindSpace, "static buffer cannot grow: need %d, have %d", need, len(b.bytes))
	}
	grown := len(b.bytes) * 2
	if grown < need {
		grown = need
	}
	b.grow(grown)
	return nil
}

// AppendByte writes one byte.
func (b *Buffer) AppendByte(v byte) error {
	if err := b.makeSpace(1); err != nil {
		return err
	}
	b.bytes[b.position] = v
	b.position++
	return nil
}

// AppendBytes writes p verbatim.
func (b *Buffer) AppendBytes(p []byte) error {
	if err := b.makeSpace(len(p)); err != nil {
		return err
	}
	copy(b.bytes[b.position:], p)
	b.position += len(p)
	return nil
}

// AppendSpace reserves count bytes and returns them for the caller to fill
// directly (mirrors ob_append_space).
func (b *Buffer) AppendSpace(count int) ([]byte, error) {
	if err := b.makeSpace(count); err != nil {
		return nil, err
	}
	s := b.bytes[b.position : b.position+count]
	b.position += count
	return s, nil
}

// AppendUI16 writes v big-endian.
func (b *Buffer) AppendUI16(v uint16) error {
	return b.AppendBytes([]byte{byte(v >> 8), byte(v)})
}

// AppendUI32 writes v big-endian.
func (b *Buffer) AppendUI32(v uint32) error {
	return b.AppendBytes([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// RFS ("remainder frame size") is a self-tagging variable-width length
// field: values up to rfs1ByteMax encode directly as a single byte; larger
// values are introduced by a one-byte tag (rfs2ByteTag/rfs3ByteTag) that
// says how many further value bytes follow. The 1-byte-for-<250,
// 2-bytes-for-<64K, 3-bytes-otherwise rule describes the width of the
// VALUE portion; the wire field itself is that plus the tag byte wherever a tag
// is needed, so the total on-wire width is 1, 3, or 4 bytes respectively.

// RFSWireWidth returns the total on-wire width (tag included, if any) an
// RFS field for value l would occupy; callers that need to plan a frame's
// size before writing it (e.g. MTU-fit checks) use this.
func RFSWireWidth(l int) int { return rfsWireWidth(l) }

// rfsWireWidth returns the total on-wire width (tag included, if any) that
// can hold l. The width is fixed before the payload is written so a later
// patch never shifts bytes.
func rfsWireWidth(l int) int {
	switch {
	case l <= rfs1ByteMax:
		return 1
	case l <= 0xffff:
		return 3
	default:
		return 4
	}
}

// encodeRFS writes l into buf using exactly len(buf) bytes; buf's length
// must already be a valid rfsWireWidth result (1, 3, or 4) that fits l —
// callers never narrow a field chosen at append time.
func encodeRFS(buf []byte, l int) {
	switch len(buf) {
	case 1:
		buf[0] = byte(l)
	case 3:
		buf[0] = rfs2ByteTag
		buf[1], buf[2] = byte(l>>8), byte(l)
	case 4:
		buf[0] = rfs3ByteTag
		buf[1], buf[2], buf[3] = byte(l>>16), byte(l>>8), byte(l)
	}
}

// AppendRFS reserves space for a variable-width length field sized for l,
// writes l now, and returns the offset so PatchRFS can rewrite it once the
// true length is known. Pass the upper bound you expect l to reach; the
// width chosen here is permanent.
func (b *Buffer) AppendRFS(l int) (offset int, err error) {
	width := rfsWireWidth(l)
	offset = b.position
	space, err := b.AppendSpace(width)
	if err != nil {
		return 0, err
	}
	encodeRFS(space, l)
	b.varLengthOffset, b.varLengthBytes = offset, width
	return offset, nil
}

// PatchRFS rewrites the length field reserved by the AppendRFS call that
// returned offset, with the now-known length l. l must fit in the width
// chosen at append time.
func (b *Buffer) PatchRFS(offset, l int) error {
	if offset < 0 || offset >= len(b.bytes) {
		return cos.NewErr(cos.KindIO, "patch_rfs offset %d out of range", offset)
	}
	width := b.varLengthBytes
	if b.varLengthOffset != offset {
		// An older field: its first byte records the width chosen at append time.
		switch b.bytes[offset] {
		case rfs2ByteTag:
			width = 3
		case rfs3ByteTag:
			width = 4
		default:
			width = 1
		}
	}
	if rfsWireWidth(l) > width {
		return cos.NewErr(cos.KindIO, "patch_rfs: length %d no longer fits the %d-byte field reserved at append time", l, width)
	}
	if offset+width > len(b.bytes) {
		return cos.NewErr(cos.KindIO, "patch_rfs offset %d out of range", offset)
	}
	encodeRFS(b.bytes[offset:offset+width], l)
	return nil
}

//
// reader half
//

// ResetReader rewinds the read position to the start of the written region.
func (b *Buffer) ResetReader() { b.readPos = 0 }

// Remaining reports how many written bytes are left to read.
func (b *Buffer) Remaining() int { return b.position - b.readPos }

// GetByte reads the next byte.
func (b *Buffer) GetByte() (byte, error) {
	if b.readPos >= b.position {
		return 0, cos.NewErr(cos.KindParse, "buffer underrun at %d", b.readPos)
	}
	v := b.bytes[b.readPos]
	b.readPos++
	return v, nil
}

// GetByteAt reads one byte at an absolute offset without moving readPos.
func (b *Buffer) GetByteAt(offset int) (byte, error) {
	if offset < 0 || offset >= b.position {
		return 0, cos.NewErr(cos.KindParse, "offset %d out of range [0,%d)", offset, b.position)
	}
	return b.bytes[offset], nil
}

// GetBytes reads exactly n bytes.
func (b *Buffer) GetBytes(n int) ([]byte, error) {
	if b.readPos+n > b.position {
		return nil, cos.NewErr(cos.KindParse, "buffer underrun: want %d, have %d", n, b.Remaining())
	}
	out := make([]byte, n)
	copy(out, b.bytes[b.readPos:b.readPos+n])
	b.readPos += n
	return out, nil
}

// GetBytesPtr is GetBytes without the copy — the slice aliases the buffer.
func (b *Buffer) GetBytesPtr(n int) ([]byte, error) {
	if b.readPos+n > b.position {
		return nil, cos.NewErr(cos.KindParse, "buffer underrun: want %d, have %d", n, b.Remaining())
	}
	s := b.bytes[b.readPos : b.readPos+n]
	b.readPos += n
	return s, nil
}

// GetUI16 reads a big-endian uint16.
func (b *Buffer) GetUI16() (uint16, error) {
	p, err := b.GetBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(p[0])<<8 | uint16(p[1]), nil
}

// GetUI32 reads a big-endian uint32.
func (b *Buffer) GetUI32() (uint32, error) {
	p, err := b.GetBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]), nil
}

// GetRFS reads a variable-width length field written by AppendRFS/PatchRFS:
// values up to rfs1ByteMax decode directly from the first byte; rfs2ByteTag
// and rfs3ByteTag introduce 2 and 3 further big-endian value bytes.
const (
	rfs1ByteMax = 0xf9
	rfs2ByteTag = 0xfa
	rfs3ByteTag = 0xfb
)

func (b *Buffer) GetRFS() (int, error) {
	tag, err := b.GetByte()
	if err != nil {
		return 0, err
	}
	switch {
	case tag <= rfs1ByteMax:
		return int(tag), nil
	case tag == rfs2ByteTag:
		v, err := b.GetUI16()
		return int(v), err
	case tag == rfs3ByteTag:
		p, err := b.GetBytes(3)
		if err != nil {
			return 0, err
		}
		return int(p[0])<<16 | int(p[1])<<8 | int(p[2]), nil
	default:
		return 0, cos.NewErr(cos.KindParse, "invalid rfs tag 0x%02x", tag)
	}
}
