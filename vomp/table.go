// Table owns the bounded set of live Calls and drives the per-tick
// timeout/destroy sweep.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package vomp

import (
	"sync"
	"time"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/subscriber"
)

// Table is the process-wide set of in-progress calls, keyed by session id.
type Table struct {
	mu    sync.Mutex
	calls map[uint32]*Call
}

func NewTable() *Table {
	return &Table{calls: make(map[uint32]*Call)}
}

// sessionTaken is passed to NewSessionID to reject collisions.
func (t *Table) sessionTaken(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	return ok
}

// Dial creates and registers a new outgoing call.
func (t *Table) Dial(localSID, remoteSID subscriber.SID, localDID, remoteDID string, now time.Time) (*Call, error) {
	t.mu.Lock()
	if len(t.calls) >= MaxCalls {
		t.mu.Unlock()
		return nil, cos.NewErr(cos.KindSpace, "vomp: call table full at %d", MaxCalls)
	}
	t.mu.Unlock()

	session := NewSessionID(t.sessionTaken)
	c := NewCall(localSID, remoteSID, localDID, remoteDID, true, now, session)
	c.Dial()

	t.mu.Lock()
	t.calls[session] = c
	t.mu.Unlock()
	return c, nil
}

// Accept registers an inbound call announced by a peer's frame carrying
// recipientSession == 0 (first contact) or an unrecognised session.
func (t *Table) Accept(localSID, remoteSID subscriber.SID, localDID, remoteDID string, now time.Time) (*Call, error) {
	t.mu.Lock()
	if len(t.calls) >= MaxCalls {
		t.mu.Unlock()
		return nil, cos.NewErr(cos.KindSpace, "vomp: call table full at %d", MaxCalls)
	}
	t.mu.Unlock()

	session := NewSessionID(t.sessionTaken)
	c := NewCall(localSID, remoteSID, localDID, remoteDID, false, now, session)

	t.mu.Lock()
	t.calls[session] = c
	t.mu.Unlock()
	return c, nil
}

// Get returns the call registered under session, if any.
func (t *Table) Get(session uint32) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[session]
	return c, ok
}

// GetByRemoteSession finds the call whose peer announced session — the
// lookup needed when an inbound frame's recipient-session field is still
// zero because the peer has not yet learned our session id.
func (t *Table) GetByRemoteSession(session uint32) (*Call, bool) {
	if session == 0 {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.calls {
		if c.Remote.Session == session {
			return c, true
		}
	}
	return nil, false
}

// All returns every live call, for the per-tick sweep.
func (t *Table) All() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c)
	}
	return out
}

// Tick runs the per-interval maintenance: timeout enforcement, then
// destruction of calls that finished ending last tick.
func (t *Table) Tick(now time.Time) {
	for _, c := range t.All() {
		c.CheckTimeouts(now)
		c.NoteEnded(now)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for session, c := range t.calls {
		if c.ReadyToDestroy(now) {
			c.destroyed = true
			delete(t.calls, session)
		}
	}
}

// Len reports the number of live calls (for metrics/status).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
