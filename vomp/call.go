// Call state machine and its managing Table.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package vomp

import (
	"time"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/subscriber"
)

// Call is one negotiated VoMP session between a local and remote party.
type Call struct {
	Local  Party
	Remote Party

	InitiatedCall bool
	CreateTime    time.Time
	LastActivity  time.Time
	AudioClockMS  uint32

	// ringEnds is the 64-entry duplicate-suppression ring of recently
	// observed audio end-times (start + duration), indexed by the
	// end-time modulo AudioRingSize.
	ringEnds [AudioRingSize]uint32
	ringSet  [AudioRingSize]bool

	bothEndedAt time.Time // set once both sides reach CallEnded
	destroyed   bool
}

// NewCall starts a call record in NOCALL/NOCALL, to be driven into
// CALLPREP by the dialing side.
func NewCall(localSID, remoteSID subscriber.SID, localDID, remoteDID string, initiated bool, now time.Time, session uint32) *Call {
	return &Call{
		Local:         Party{SID: localSID, DID: localDID, State: NoCall, Session: session},
		Remote:        Party{SID: remoteSID, DID: remoteDID, State: NoCall},
		InitiatedCall: initiated,
		CreateTime:    now,
		LastActivity:  now,
	}
}

// codecsIntersect reports whether local and remote advertise at least one
// common codec.
func codecsIntersect(local, remote uint32) bool { return local&remote != 0 }

// Update runs one transition-table step given the remote's just-received
// state (as carried in the frame we just processed) and our own codec
// advertisement state. It mutates c.Local.State per the transition table
// and returns the resulting local state.
func (c *Call) Update(now time.Time, remoteState State, localCodecs, remoteCodecs uint32) State {
	c.LastActivity = now
	from := c.Local.State

	switch from {
	case NoCall:
		switch remoteState {
		case RingingOut:
			if c.InitiatedCall {
				c.Local.State = CallEnded
			} else {
				c.Local.State = RingingIn
			}
		case CallEnded:
			c.Local.State = CallEnded
		}
	case CallPrep:
		switch remoteState {
		case NoCall, CallPrep:
			if codecsIntersect(localCodecs, remoteCodecs) {
				c.Local.State = RingingOut
			} else {
				c.Local.State = CallEnded
			}
		case CallEnded:
			c.Local.State = CallEnded
		}
	case RingingOut:
		switch remoteState {
		case RingingOut, InCall:
			c.Local.State = InCall
		case CallEnded:
			c.Local.State = CallEnded
		}
	case RingingIn:
		switch remoteState {
		case InCall:
			c.Local.State = InCall
		case CallEnded:
			c.Local.State = CallEnded
		}
	case InCall:
		if remoteState == CallEnded {
			c.Local.State = CallEnded
		}
		// remoteState == InCall: audio continues to flow, no transition.
	case CallEnded:
		// terminal.
	}

	if from != c.Local.State {
		nlog.Infof("vomp: call %08x local %s -> %s (remote=%s)", c.Local.Session, from, c.Local.State, remoteState)
	}
	c.Remote.State = remoteState
	if c.Local.State == CallEnded && c.Remote.State == CallEnded && c.bothEndedAt.IsZero() {
		c.bothEndedAt = now
	}
	return c.Local.State
}

// LastSentStatus packs (remote<<4)|local as the byte a just-sent frame's
// header carries.
func (c *Call) LastSentStatus() byte {
	return byte(c.Remote.State)<<4 | byte(c.Local.State)
}

// Dial moves a freshly created call from NOCALL into CALLPREP on the
// initiating side.
func (c *Call) Dial() { c.Local.State = CallPrep }

// Answer accepts a ringing inbound call. It is the local user action that
// moves RINGINGIN to INCALL; every other path into INCALL is driven by the
// peer's state through Update.
func (c *Call) Answer() error {
	if c.Local.State != RingingIn {
		return cos.NewErr(cos.KindValidation, "vomp: call %08x is %s, not ringing in", c.Local.Session, c.Local.State)
	}
	c.Local.State = InCall
	return nil
}

// ObserveAudio records that an audio chunk ending at endMS was seen,
// reporting whether it had already been seen (duplicate) — the 64-entry
// ring's slot is reused once per window, so a chunk is "already seen"
// within one window iff the same end-time occupies its slot.
func (c *Call) ObserveAudio(endMS uint32) (alreadySeen bool) {
	slot := endMS % AudioRingSize
	if c.ringSet[slot] && c.ringEnds[slot] == endMS {
		return true
	}
	c.ringEnds[slot] = endMS
	c.ringSet[slot] = true
	return false
}

// CheckTimeouts applies the per-tick timeout rules, forcing CALLENDED
// on both sides when any fires.
func (c *Call) CheckTimeouts(now time.Time) {
	if c.Local.State == CallEnded && c.Remote.State == CallEnded {
		return
	}
	dialTimedOut := c.Remote.State < RingingOut && c.CreateTime.Add(DialTimeout).Before(now)
	ringTimedOut := c.Local.State < InCall && c.CreateTime.Add(RingTimeout).Before(now)
	netTimedOut := c.LastActivity.Add(NetworkTimeout).Before(now)
	if dialTimedOut || ringTimedOut || netTimedOut {
		nlog.Warningf("vomp: call %08x timed out (dial=%v ring=%v net=%v)", c.Local.Session, dialTimedOut, ringTimedOut, netTimedOut)
		c.Local.State = CallEnded
		c.Remote.State = CallEnded
		if c.bothEndedAt.IsZero() {
			c.bothEndedAt = now
		}
	}
}

// NoteEnded marks bothEndedAt if both sides are CALLENDED and it has not
// already been recorded, regardless of which path (Update, CheckTimeouts,
// or a direct test/caller state assignment) got them there.
func (c *Call) NoteEnded(now time.Time) {
	if c.Local.State == CallEnded && c.Remote.State == CallEnded && c.bothEndedAt.IsZero() {
		c.bothEndedAt = now
	}
}

// ReadyToDestroy reports whether both sides reached CALLENDED at least one
// tick ago. Destruction is deferred a tick so a pointer still on the
// dispatcher's call stack is never invalidated.
func (c *Call) ReadyToDestroy(now time.Time) bool {
	if c.bothEndedAt.IsZero() || c.destroyed {
		return false
	}
	return now.Sub(c.bothEndedAt) >= StatusInterval
}
