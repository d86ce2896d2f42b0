/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package buf_test

import (
	"bytes"
	"testing"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/cmn/cos"
)

func TestAppendGetRoundTrip(t *testing.T) {
	b := buf.New()
	if err := b.AppendByte(0x42); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendUI16(0xbeef); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendUI32(0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendBytes([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	got, err := buf.NewReader(b.Bytes()).GetByte()
	if err != nil || got != 0x42 {
		t.Fatalf("GetByte: got %v, %v", got, err)
	}

	r := buf.NewReader(b.Bytes())
	if _, err := r.GetByte(); err != nil {
		t.Fatal(err)
	}
	u16, err := r.GetUI16()
	if err != nil || u16 != 0xbeef {
		t.Fatalf("GetUI16: got %#x, %v", u16, err)
	}
	u32, err := r.GetUI32()
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("GetUI32: got %#x, %v", u32, err)
	}
	p, err := r.GetBytes(5)
	if err != nil || string(p) != "hello" {
		t.Fatalf("GetBytes: got %q, %v", p, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected 0 bytes remaining, got %d", r.Remaining())
	}
}

func TestGetUnderrun(t *testing.T) {
	b := buf.New()
	_ = b.AppendByte(1)
	r := buf.NewReader(b.Bytes())
	_, _ = r.GetByte()
	if _, err := r.GetByte(); !cos.IsParse(err) {
		t.Fatalf("expected KindParse on underrun, got %v", err)
	}
}

func TestCheckpointRewind(t *testing.T) {
	b := buf.New()
	_ = b.AppendBytes([]byte("abc"))
	b.Checkpoint()
	_ = b.AppendBytes([]byte("def"))
	if b.Len() != 6 {
		t.Fatalf("expected len 6, got %d", b.Len())
	}
	b.Rewind()
	if b.Len() != 3 {
		t.Fatalf("expected len 3 after rewind, got %d", b.Len())
	}
	if !bytes.Equal(b.Bytes(), []byte("abc")) {
		t.Fatalf("expected %q after rewind, got %q", "abc", b.Bytes())
	}
}

func TestLimitSize(t *testing.T) {
	b := buf.New()
	_ = b.AppendBytes([]byte("abc"))
	if err := b.LimitSize(5); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendBytes([]byte("de")); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendByte('f'); !cos.IsSpace(err) {
		t.Fatalf("expected KindSpace past limit, got %v", err)
	}
	b.UnlimitSize()
	if err := b.AppendByte('f'); err != nil {
		t.Fatalf("expected append to succeed after UnlimitSize, got %v", err)
	}
}

func TestLimitSizeBelowPositionRejected(t *testing.T) {
	b := buf.New()
	_ = b.AppendBytes([]byte("abcdef"))
	if err := b.LimitSize(3); !cos.IsSpace(err) {
		t.Fatalf("expected KindSpace, got %v", err)
	}
}

func TestStaticBufferCannotGrow(t *testing.T) {
	b := buf.NewStatic(make([]byte, 2))
	if err := b.AppendByte(1); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendByte(2); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendByte(3); !cos.IsSpace(err) {
		t.Fatalf("expected KindSpace on static overflow, got %v", err)
	}
}

func TestRFSRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 200, 0xf9, 0xfa, 0xff, 300, 0xffff, 0x10000, 1 << 20}
	for _, l := range lengths {
		b := buf.New()
		off, err := b.AppendRFS(l)
		if err != nil {
			t.Fatalf("AppendRFS(%d): %v", l, err)
		}
		if err := b.AppendBytes([]byte("payload")); err != nil {
			t.Fatal(err)
		}

		r := buf.NewReader(b.Bytes())
		got, err := r.GetRFS()
		if err != nil {
			t.Fatalf("GetRFS(%d): %v", l, err)
		}
		if got != l {
			t.Fatalf("RFS round trip: put %d, got %d", l, got)
		}
		_ = off
	}
}

func TestPatchRFSKeepsWidthFixedAtAppend(t *testing.T) {
	b := buf.New()
	// l=1 reserves a 1-byte field; the payload grows past that guess, but
	// the field width must not change underneath already-written bytes.
	off, err := b.AppendRFS(1)
	if err != nil {
		t.Fatal(err)
	}
	beforePatchLen := b.Len()
	if err := b.AppendBytes([]byte("xy")); err != nil {
		t.Fatal(err)
	}

	if err := b.PatchRFS(off, 2); err != nil {
		t.Fatal(err)
	}
	if b.Len() != beforePatchLen+2 {
		t.Fatalf("PatchRFS must not move the write position: got len %d", b.Len())
	}

	r := buf.NewReader(b.Bytes())
	got, err := r.GetRFS()
	if err != nil || got != 2 {
		t.Fatalf("expected patched RFS value 2, got %d, %v", got, err)
	}
	p, err := r.GetBytes(2)
	if err != nil || string(p) != "xy" {
		t.Fatalf("payload corrupted by patch: got %q, %v", p, err)
	}
}

func TestPatchRFSRejectsWidthOverflow(t *testing.T) {
	b := buf.New()
	off, err := b.AppendRFS(1) // 1-byte field
	if err != nil {
		t.Fatal(err)
	}
	if err := b.PatchRFS(off, 0x10000); !cos.IsIO(err) {
		t.Fatalf("expected KindIO when patched value no longer fits, got %v", err)
	}
}

func TestNewSliceSharesBackingArray(t *testing.T) {
	b := buf.New()
	_ = b.AppendBytes([]byte("0123456789"))
	s := buf.NewSlice(b, 2, 4)
	if !bytes.Equal(s.Bytes(), []byte("2345")) {
		t.Fatalf("expected slice %q, got %q", "2345", s.Bytes())
	}
}

func TestDupIsIndependent(t *testing.T) {
	b := buf.New()
	_ = b.AppendBytes([]byte("abc"))
	d := buf.Dup(b)
	_ = b.AppendBytes([]byte("def"))
	if !bytes.Equal(d.Bytes(), []byte("abc")) {
		t.Fatalf("dup must not see later writes to the original: got %q", d.Bytes())
	}
}
