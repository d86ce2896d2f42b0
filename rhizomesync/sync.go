// BAR-set reconciliation: given the local store's BARs and the
// requester's advertised BARs within a cursor's range, compute which
// bundles the requester should push (it has, the responder doesn't) and
// which it should pull (the responder has, it doesn't).
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync

import "github.com/serval-mesh/meshd/rhizome"

// Op is the action a requester should take for one advertised bundle.
type Op byte

const (
	OpPush Op = 1 // requester has it; responder does not
	OpPull Op = 2 // responder has it; requester does not
)

// Action is one (op, bid_prefix) record in an enquiry response.
type Action struct {
	Op        Op
	BIDPrefix [8]byte
}

// maxResponseBytes bounds one enquiry response.
const maxResponseBytes = 64 * 1024

// ComputeActions reconciles localBARs (the responder's store) against
// peerBARs (the requester's advertised set) within cursor's range,
// returning the action list and the (size_high, bid_high) the requester
// should advance its cursor to.
func ComputeActions(localBARs, peerBARs []rhizome.BAR, cursor rhizome.Cursor) (actions []Action, newSizeHigh uint32, newBIDHigh [6]byte) {
	peerByPrefix := make(map[[8]byte]rhizome.BAR, len(peerBARs))
	for _, b := range peerBARs {
		peerByPrefix[b.IDPrefix] = b
	}
	localByPrefix := make(map[[8]byte]rhizome.BAR, len(localBARs))
	for _, b := range localBARs {
		localByPrefix[b.IDPrefix] = b
	}

	inRange := func(b rhizome.BAR) bool {
		var bid6 [6]byte
		copy(bid6[:], b.IDPrefix[:6])
		return cursor.InRange(uint32(b.Bucket), bid6)
	}

	for prefix, local := range localByPrefix {
		if !inRange(local) {
			continue
		}
		peer, ok := peerByPrefix[prefix]
		if !ok || peer.Version < local.Version {
			actions = append(actions, Action{Op: OpPull, BIDPrefix: prefix})
		}
	}
	for prefix, peer := range peerByPrefix {
		if !inRange(peer) {
			continue
		}
		local, ok := localByPrefix[prefix]
		if !ok || local.Version < peer.Version {
			actions = append(actions, Action{Op: OpPush, BIDPrefix: prefix})
		}
	}

	// Truncate to the 64KiB response cap; a truncated response still
	// reports the full cursor high bound as covered only when nothing was
	// dropped, otherwise the requester would incorrectly advance past
	// unreviewed entries.
	const recordBytes = 9 // op(1) + bid prefix(8)
	if len(actions)*recordBytes > maxResponseBytes {
		actions = actions[:maxResponseBytes/recordBytes]
		return actions, cursor.SizeLow, cursor.BIDLow
	}
	return actions, cursor.SizeHigh, cursor.BIDHigh
}
