// Package subscriber implements the core runtime's subscriber table:
// an insertion-ordered SID → Subscriber map, reachability tracked per
// interface observation, and the packet-scoped "PREVIOUS" back-reference
// scratch slots the overlay codec uses to compress repeated SIDs.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package subscriber

import (
	"sync"
	"time"
)

// SID is a 256-bit Ed25519-class public key identifying a subscriber.
type SID [32]byte

// Reachability is how (if at all) a subscriber can currently be addressed.
type Reachability int

const (
	None Reachability = iota
	Direct
	Indirect
	Unicast
	Broadcast
	DefaultRoute
)

func (r Reachability) String() string {
	switch r {
	case None:
		return "none"
	case Direct:
		return "direct"
	case Indirect:
		return "indirect"
	case Unicast:
		return "unicast"
	case Broadcast:
		return "broadcast"
	case DefaultRoute:
		return "default-route"
	default:
		return "unknown"
	}
}

// Subscriber is one known identity. NextHop and Interface are weak,
// non-owning references: the table never frees a Subscriber for the
// lifetime of the process, but NextHop may itself go stale.
type Subscriber struct {
	SID          SID
	Reachability Reachability
	NextHop      *Subscriber
	IfaceIndex   int // -1 when not associated with an interface slot
	Address      string
	SendFull     bool // next self-announce must carry the full SID

	LastHeard time.Time

	mu sync.Mutex
}

// touch records that sub was heard on ifaceIndex/address with reach, moving
// its LastHeard forward; it never regresses LastHeard.
func (s *Subscriber) touch(now time.Time, ifaceIndex int, address string, reach Reachability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.LastHeard) {
		s.LastHeard = now
	}
	s.IfaceIndex = ifaceIndex
	s.Address = address
	s.Reachability = reach
}

// Stale reports whether sub has not been heard within staleAfter.
func (s *Subscriber) Stale(now time.Time, staleAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastHeard.IsZero() || now.Sub(s.LastHeard) > staleAfter
}

// Table is the insertion-ordered SID→Subscriber map.
type Table struct {
	mu      sync.Mutex
	byID    map[SID]*Subscriber
	ordered []*Subscriber
}

func NewTable() *Table {
	return &Table{byID: make(map[SID]*Subscriber)}
}

// Get returns the subscriber for sid, or (nil, false) if never observed.
func (t *Table) Get(sid SID) (*Subscriber, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.byID[sid]
	return sub, ok
}

// GetOrCreate returns the existing subscriber for sid, creating one (and
// appending it to insertion order) if this is the first observation.
func (t *Table) GetOrCreate(sid SID) *Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.byID[sid]; ok {
		return sub
	}
	sub := &Subscriber{SID: sid, IfaceIndex: -1}
	t.byID[sid] = sub
	t.ordered = append(t.ordered, sub)
	return sub
}

// Observe records that sid was heard on ifaceIndex/address with reach,
// creating the subscriber on first sight.
func (t *Table) Observe(now time.Time, sid SID, ifaceIndex int, address string, reach Reachability) *Subscriber {
	sub := t.GetOrCreate(sid)
	sub.touch(now, ifaceIndex, address, reach)
	return sub
}

// All returns every known subscriber in insertion order. The returned slice
// is a snapshot; mutating it does not affect the table.
func (t *Table) All() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Subscriber, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// ExpireStale transitions every subscriber not heard within
// tickInterval*n to Reachability None: no observation within the
// interface tick times n means the peer is gone.
func (t *Table) ExpireStale(now time.Time, tickInterval time.Duration, n int) {
	staleAfter := tickInterval * time.Duration(n)
	for _, sub := range t.All() {
		if sub.Reachability == None {
			continue
		}
		if sub.Stale(now, staleAfter) {
			sub.mu.Lock()
			sub.Reachability = None
			sub.mu.Unlock()
		}
	}
}

//
// per-packet PREVIOUS back-reference compression
//

// PacketScratch holds the two scratch slots ("sender", "previous") the
// overlay codec consults to compress a repeated SID into a one-byte
// PREVIOUS shorthand within a single outgoing or incoming packet. A fresh
// scratch must be used per packet — it is never shared across packets.
type PacketScratch struct {
	sender   *Subscriber
	previous *Subscriber
}

// NewPacketScratch returns an empty scratch for one packet's worth of
// codec state.
func (t *Table) NewPacketScratch() *PacketScratch {
	return &PacketScratch{}
}

// SetSender records sub as this packet's originating sender, the first
// candidate for a later PREVIOUS reference.
func (p *PacketScratch) SetSender(sub *Subscriber) { p.sender = sub; p.previous = sub }

// Observe records sub as the most recently referenced subscriber in this
// packet (sender or destination of the frame just encoded/decoded),
// becoming the next PREVIOUS candidate.
func (p *PacketScratch) Observe(sub *Subscriber) { p.previous = sub }

// IsPrevious reports whether sub is this packet's current PREVIOUS
// candidate — i.e. whether the codec may emit the one-byte shorthand
// instead of sub's full SID.
func (p *PacketScratch) IsPrevious(sub *Subscriber) bool {
	return p.previous != nil && p.previous == sub
}

// Previous returns the subscriber a PREVIOUS byte in the wire format
// currently refers to, or nil if none has been set yet this packet.
func (p *PacketScratch) Previous() *Subscriber { return p.previous }
