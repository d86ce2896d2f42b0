// Package txq implements the outbound TX queue engine: multiple
// priority queues, a single "next packet" scheduler item recomputed on
// every enqueue, and fill_send_packet's per-dispatch packet assembly.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package txq

import (
	"crypto/rand"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/serval-mesh/meshd/buf"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/overlay"
	"github.com/serval-mesh/meshd/sched"
	"github.com/serval-mesh/meshd/subscriber"
)

// Priority is a queue class; queues are drained in this order: voice,
// routing, MDP, rhizome.
type Priority int

const (
	PriorityVoice Priority = iota
	PriorityRouting
	PriorityOrdinary // MDP
	PriorityRhizomeAdv
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityVoice:
		return "voice"
	case PriorityRouting:
		return "routing"
	case PriorityOrdinary:
		return "mdp"
	case PriorityRhizomeAdv:
		return "rhizome-adv"
	default:
		return "unknown"
	}
}

// Frame is one outbound overlay frame awaiting transmission.
type Frame struct {
	Type             overlay.FrameType
	Destination      *subscriber.Subscriber // nil means broadcast
	BroadcastID      [16]byte
	TTL              byte
	Payload          *buf.Buffer
	EnqueuedAt       time.Time
	SendCopies       int
	BroadcastSentVia map[int]bool
}

func (f *Frame) expired(now time.Time, latencyTarget time.Duration) bool {
	if latencyTarget <= 0 {
		return false
	}
	return f.EnqueuedAt.Add(latencyTarget).Before(now)
}

// done reports whether f has satisfied its delivery obligation.
func (f *Frame) done(up []InterfaceInfo) bool {
	if f.Destination == nil {
		for _, ifc := range up {
			if !f.BroadcastSentVia[ifc.Index] {
				return false
			}
		}
		return true
	}
	return f.SendCopies <= 0
}

func isZero16(b [16]byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Queue is one priority class's FIFO of frames.
type Queue struct {
	Priority      Priority
	MaxLength     int
	TransmitDelay time.Duration
	LatencyTarget time.Duration
	GracePeriod   time.Duration

	mu     sync.Mutex
	frames []*Frame
}

func newQueue(p Priority, maxLength int, latencyTarget, transmitDelay, gracePeriod time.Duration) *Queue {
	return &Queue{Priority: p, MaxLength: maxLength, LatencyTarget: latencyTarget, TransmitDelay: transmitDelay, GracePeriod: gracePeriod}
}

// Enqueue appends frame, dropping the oldest entry once MaxLength is hit.
func (q *Queue) Enqueue(frame *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.MaxLength > 0 && len(q.frames) >= q.MaxLength {
		nlog.Warningf("txq: queue %s full at %d, dropping oldest frame", q.Priority, q.MaxLength)
		q.frames = q.frames[1:]
	}
	q.frames = append(q.frames, frame)
}

// Len reports the current queue depth (exported for metrics).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *Queue) headSendAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return time.Time{}, false
	}
	return q.frames[0].EnqueuedAt.Add(q.TransmitDelay), true
}

// InterfaceInfo is the narrow view of an UP interface the engine needs.
type InterfaceInfo struct {
	Index int
	MTU   int
}

// PacketSender is the surface the interface manager exposes to the TX
// engine. The engine holds an index into the owner's table, not a strong
// reference, so a closed interface simply drops out of UpInterfaces.
type PacketSender interface {
	UpInterfaces() []InterfaceInfo
	Send(ifaceIndex int, unicast bool, addr string, data []byte) error
}

// DirectoryService resolves the DEFAULT_ROUTE next hop.
type DirectoryService interface {
	Resolve() *subscriber.Subscriber
}

// RhizomeAdvertiser supplies an opportunistic rhizome advertisement frame
// body that fits within room bytes, or nil if there is nothing to append.
type RhizomeAdvertiser func(room int) []byte

// Engine owns the priority queues and the single "next packet" alarm.
type Engine struct {
	queues     [numPriorities]*Queue
	seen       *cuckoo.Filter
	nextPacket *sched.Item
	s          *sched.Scheduler
	mu         sync.Mutex
}

// NewEngine wires the per-class queue defaults.
func NewEngine(s *sched.Scheduler) *Engine {
	e := &Engine{s: s, seen: cuckoo.NewFilter(1 << 16)}
	e.queues[PriorityVoice] = newQueue(PriorityVoice, 64, 2*time.Second, 0, 0)
	e.queues[PriorityRouting] = newQueue(PriorityRouting, 64, 5*time.Second, 0, 0)
	e.queues[PriorityOrdinary] = newQueue(PriorityOrdinary, 256, 10*time.Second, 0, 0)
	e.queues[PriorityRhizomeAdv] = newQueue(PriorityRhizomeAdv, 32, 10*time.Second, 0, 0)
	return e
}

// Queue returns the queue for priority p (for producers and metrics).
func (e *Engine) Queue(p Priority) *Queue { return e.queues[p] }

// Enqueue is the producer-facing entry point.
func (e *Engine) Enqueue(p Priority, frame *Frame) {
	if frame.EnqueuedAt.IsZero() {
		frame.EnqueuedAt = time.Now()
	}
	if frame.Destination == nil {
		if frame.BroadcastSentVia == nil {
			frame.BroadcastSentVia = make(map[int]bool)
		}
		if frame.TTL > 2 {
			frame.TTL = 2
		}
	}
	e.queues[p].Enqueue(frame)
	e.recalcNextPacket()
}

// recalcNextPacket is overlay_calc_queue_time: the earliest send time
// across every queue head, (re)scheduled as the single next_packet item.
func (e *Engine) recalcNextPacket() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var earliest time.Time
	for _, q := range e.queues {
		if at, ok := q.headSendAt(); ok {
			if earliest.IsZero() || at.Before(earliest) {
				earliest = at
			}
		}
	}
	if earliest.IsZero() {
		if e.nextPacket != nil {
			e.s.Unschedule(e.nextPacket)
		}
		return
	}
	if e.nextPacket == nil {
		e.nextPacket = &sched.Item{Name: "next_packet", FD: -1}
	}
	e.nextPacket.Alarm = earliest
	e.s.Schedule(e.nextPacket)
}

// BindDispatch installs fn as the next_packet callback; called once during
// engine setup by the owning core context.
func (e *Engine) BindDispatch(fn func()) {
	if e.nextPacket == nil {
		e.nextPacket = &sched.Item{Name: "next_packet", FD: -1}
	}
	e.nextPacket.Callback = func(*sched.Item) { fn() }
}

func routeFor(frame *Frame, dir DirectoryService) (target *subscriber.Subscriber, unicast bool, ifaceIndex int, skip bool) {
	dest := frame.Destination
	switch dest.Reachability {
	case subscriber.Indirect:
		if dest.NextHop == nil {
			return nil, false, -1, true
		}
		return dest.NextHop, true, dest.NextHop.IfaceIndex, false
	case subscriber.DefaultRoute:
		if dir == nil {
			return nil, false, -1, true
		}
		target = dir.Resolve()
		if target == nil {
			return nil, false, -1, true
		}
		return target, true, target.IfaceIndex, false
	case subscriber.Direct, subscriber.Unicast:
		return dest, true, dest.IfaceIndex, false
	default: // None, Broadcast (handled by caller), anything else
		return nil, false, -1, true
	}
}

func firstUncovered(up []InterfaceInfo, via map[int]bool) *InterfaceInfo {
	for i := range up {
		if !via[up[i].Index] {
			return &up[i]
		}
	}
	return nil
}

func frameWireLen(body *buf.Buffer) int {
	return 1 /*type*/ + 1 /*ttl*/ + buf.RFSWireWidth(body.Len()) + body.Len()
}

// FillSendPacket assembles and sends at most one packet. It must be called from the scheduler's single
// thread; frames left over (blocked on reachability, MTU, or belonging to
// a different packet this pass) remain queued for the next dispatch.
func (e *Engine) FillSendPacket(now time.Time, tbl *subscriber.Table, sender PacketSender, dir DirectoryService, rhzAdv RhizomeAdvertiser) error {
	up := sender.UpInterfaces()
	if len(up) == 0 {
		return nil
	}

	pkt := buf.New()
	if err := overlay.WritePacketHeader(pkt); err != nil {
		return err
	}
	var (
		pktIfaceIdx = -1
		pktMTU      int
		unicastPkt  bool
		unicastAddr string
	)

	for _, q := range e.queues {
		q.mu.Lock()
		kept := q.frames[:0:0]
		for _, frame := range q.frames {
			if frame.expired(now, q.LatencyTarget) {
				nlog.Infof("txq: dropping expired %s frame", frame.Type)
				continue
			}

			var (
				ifaceIdx   = -1
				ifaceMTU   int
				unicast    bool
				addr       string
				foundIface bool
			)

			if frame.Destination == nil {
				if isZero16(frame.BroadcastID) {
					_, _ = rand.Read(frame.BroadcastID[:])
				}
				if !e.seen.Lookup(frame.BroadcastID[:]) {
					e.seen.InsertUnique(frame.BroadcastID[:])
				}
				cand := firstUncovered(up, frame.BroadcastSentVia)
				if cand == nil {
					kept = append(kept, frame)
					continue
				}
				ifaceIdx, ifaceMTU, foundIface = cand.Index, cand.MTU, true
			} else {
				target, isUnicast, hopIface, skip := routeFor(frame, dir)
				if skip {
					kept = append(kept, frame)
					continue
				}
				unicast = isUnicast
				for i := range up {
					if up[i].Index == hopIface {
						ifaceIdx, ifaceMTU, foundIface = up[i].Index, up[i].MTU, true
						break
					}
				}
				addr = target.Address
			}
			if !foundIface {
				kept = append(kept, frame)
				continue
			}

			if pktIfaceIdx == -1 {
				pktIfaceIdx, pktMTU, unicastPkt, unicastAddr = ifaceIdx, ifaceMTU, unicast, addr
			} else if pktIfaceIdx != ifaceIdx || unicastPkt != unicast || (unicast && unicastAddr != addr) {
				kept = append(kept, frame) // belongs to a future packet
				continue
			}

			body := buf.New()
			_ = body.AppendBytes(frame.Payload.Bytes())
			if pkt.Len()+frameWireLen(body) > pktMTU {
				kept = append(kept, frame)
				continue
			}
			if err := overlay.WriteFrame(pkt, frame.Type, frame.TTL, body); err != nil {
				q.mu.Unlock()
				return err
			}

			if frame.Destination == nil {
				frame.BroadcastSentVia[ifaceIdx] = true
			} else {
				frame.SendCopies--
			}
			if !frame.done(up) {
				kept = append(kept, frame)
			}
		}
		q.frames = kept
		q.mu.Unlock()
	}

	if pktIfaceIdx != -1 && rhzAdv != nil {
		room := pktMTU - pkt.Len()
		if room > 0 {
			if adv := rhzAdv(room); len(adv) > 0 {
				body := buf.New()
				_ = body.AppendBytes(adv)
				if pkt.Len()+frameWireLen(body) <= pktMTU {
					_ = overlay.WriteFrame(pkt, overlay.FrameRhizomeAdv, 1, body)
				}
			}
		}
	}

	e.recalcNextPacket()

	if pktIfaceIdx == -1 {
		return nil
	}
	return sender.Send(pktIfaceIdx, unicastPkt, unicastAddr, pkt.Bytes())
}
