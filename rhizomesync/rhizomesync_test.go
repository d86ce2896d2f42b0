/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync_test

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"github.com/serval-mesh/meshd/rhizome"
	"github.com/serval-mesh/meshd/rhizomesync"
)

// TestMultipartBoundaryStraddle exercises a part body whose trailing CRLF
// sits immediately before the boundary, exercising the truncation rule
// when the underlying reader hands back data in small chunks that split
// right at the CRLF/boundary seam.
func TestMultipartBoundaryStraddle(t *testing.T) {
	boundary := "meshdBoundary"
	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\n", boundary)
	fmt.Fprintf(&body, "Content-Disposition: form-data; name=\"data\"\r\n\r\n")
	body.WriteString("hello world")
	fmt.Fprintf(&body, "\r\n--%s--\r\n", boundary)

	// Wrap in a reader that only ever returns a handful of bytes per Read,
	// forcing ScanMultipart's bufio.Reader to refill mid-boundary.
	r := &chunkedReader{r: bufio.NewReader(&body), n: 3}
	parts, err := rhizomesync.ScanMultipart(r, boundary)
	if err != nil {
		t.Fatalf("ScanMultipart: %v", err)
	}
	if len(parts) != 1 || parts[0].Name != "data" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if string(parts[0].Data) != "hello world" {
		t.Fatalf("body = %q, want %q (CRLF before boundary must be truncated)", parts[0].Data, "hello world")
	}
}

type chunkedReader struct {
	r *bufio.Reader
	n int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

// TestMultipartTwoParts checks manifest+data ordering survives a realistic
// import body.
func TestMultipartTwoParts(t *testing.T) {
	boundary := "b2"
	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\n", boundary)
	fmt.Fprintf(&body, "Content-Disposition: form-data; name=\"manifest\"\r\n\r\n")
	body.WriteString("id=abc\n\x00")
	fmt.Fprintf(&body, "\r\n--%s\r\n", boundary)
	fmt.Fprintf(&body, "Content-Disposition: form-data; name=\"data\"\r\n\r\n")
	body.WriteString("payload-bytes")
	fmt.Fprintf(&body, "\r\n--%s--\r\n", boundary)

	parts, err := rhizomesync.ScanMultipart(bytes.NewReader(body.Bytes()), boundary)
	if err != nil {
		t.Fatalf("ScanMultipart: %v", err)
	}
	if len(parts) != 2 || parts[0].Name != "manifest" || parts[1].Name != "data" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if string(parts[1].Data) != "payload-bytes" {
		t.Fatalf("data part = %q", parts[1].Data)
	}
}

// TestComputeActionsReconciles checks the convergence property: a bundle
// present only locally is offered for pull, one present only on the peer is
// offered for push, and a shared one with equal versions produces no action.
func TestComputeActionsReconciles(t *testing.T) {
	localOnly, _ := rhizome.NewBAR(hex64("11"), 1, 100)
	peerOnly, _ := rhizome.NewBAR(hex64("22"), 1, 100)
	shared, _ := rhizome.NewBAR(hex64("33"), 5, 100)
	sharedStale, _ := rhizome.NewBAR(hex64("33"), 3, 100) // peer's copy is behind

	cursor := rhizome.Cursor{SizeLow: 0, SizeHigh: 255}

	actions, _, _ := rhizomesync.ComputeActions(
		[]rhizome.BAR{localOnly, shared},
		[]rhizome.BAR{peerOnly, sharedStale},
		cursor,
	)

	var sawPull, sawPush, sawPullShared bool
	for _, a := range actions {
		switch {
		case a.Op == rhizomesync.OpPull && a.BIDPrefix == localOnly.IDPrefix:
			sawPull = true
		case a.Op == rhizomesync.OpPush && a.BIDPrefix == peerOnly.IDPrefix:
			sawPush = true
		case a.Op == rhizomesync.OpPull && a.BIDPrefix == shared.IDPrefix:
			sawPullShared = true
		}
	}
	if !sawPull {
		t.Error("expected a pull action for the responder-only bundle")
	}
	if !sawPush {
		t.Error("expected a push action for the requester-only bundle")
	}
	if !sawPullShared {
		t.Error("expected a pull action for the shared bundle since the requester's copy is stale")
	}
}

func TestComputeActionsNoOpWhenEqual(t *testing.T) {
	bar, _ := rhizome.NewBAR(hex64("44"), 7, 50)
	cursor := rhizome.Cursor{SizeLow: 0, SizeHigh: 255}
	actions, _, _ := rhizomesync.ComputeActions([]rhizome.BAR{bar}, []rhizome.BAR{bar}, cursor)
	if len(actions) != 0 {
		t.Fatalf("expected no actions for identical BAR sets, got %+v", actions)
	}
}

func hex64(prefix string) string {
	s := prefix
	for len(s) < 64 {
		s += "0"
	}
	return s
}

// TestSyncConvergence drives the reconciliation loop the way a full
// enquiry/import exchange would: two disjoint ten-bundle stores, each
// round's actions applied to the requester's set, cursor advanced per the
// response, until the requester's range is exhausted. Both sides must end
// up with equal BAR multisets within ten rounds.
func TestSyncConvergence(t *testing.T) {
	requester := make(map[[8]byte]rhizome.BAR)
	responder := make(map[[8]byte]rhizome.BAR)
	for i := 0; i < 10; i++ {
		a, _ := rhizome.NewBAR(hex64(fmt.Sprintf("a%d", i)), uint64(i+1), int64(i*100))
		b, _ := rhizome.NewBAR(hex64(fmt.Sprintf("b%d", i)), uint64(i+1), int64(i*100))
		requester[a.IDPrefix] = a
		responder[b.IDPrefix] = b
	}
	asSlice := func(m map[[8]byte]rhizome.BAR) []rhizome.BAR {
		out := make([]rhizome.BAR, 0, len(m))
		for _, b := range m {
			out = append(out, b)
		}
		return out
	}

	cursor := rhizome.Cursor{SizeHigh: ^uint32(0)}
	for i := range cursor.BIDHigh {
		cursor.BIDHigh[i] = 0xff
	}
	rounds := 0
	for !cursor.Done() {
		rounds++
		if rounds > 10 {
			t.Fatal("sync did not converge within 10 rounds")
		}
		actions, newSizeHigh, newBIDHigh := rhizomesync.ComputeActions(asSlice(responder), asSlice(requester), cursor)
		for _, a := range actions {
			switch a.Op {
			case rhizomesync.OpPull:
				requester[a.BIDPrefix] = responder[a.BIDPrefix]
			case rhizomesync.OpPush:
				responder[a.BIDPrefix] = requester[a.BIDPrefix]
			}
		}
		cursor.Advance(newSizeHigh, newBIDHigh)
	}

	if len(requester) != 20 || len(responder) != 20 {
		t.Fatalf("expected both stores to hold 20 bundles, got %d and %d", len(requester), len(responder))
	}
	for prefix, b := range requester {
		if responder[prefix] != b {
			t.Fatalf("stores diverge at %x", prefix)
		}
	}
}
