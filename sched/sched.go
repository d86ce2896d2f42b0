// Package sched implements the core runtime's single-threaded cooperative
// event loop: a heap of timer/deadline items plus a readiness
// multiplexer over watched file descriptors. Everything else in the daemon
// — interface ticks, queue drains, rhizome sync rounds — is driven off one
// Scheduler.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/debug"
	"github.com/serval-mesh/meshd/cmn/nlog"
)

// EventMask is a bitmask of fd readiness conditions.
type EventMask uint8

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventErr
	EventHup
)

// Item is a single scheduled entity: a soonest-fire time (Alarm), a
// latest-acceptable time (Deadline), an optional watched fd with an
// interest mask, a callback, and fire statistics. The zero value of Alarm
// means "no timer component" — the item only fires on fd readiness.
type Item struct {
	Name     string
	Alarm    time.Time
	Deadline time.Time
	FD       int // -1 if this item has no fd component
	Mask     EventMask
	Callback func(*Item)

	// FiredMask is set just before Callback runs when the firing reason was
	// fd readiness; zero when the firing reason was timer expiry.
	FiredMask EventMask

	FireCount int64
	LastFired time.Time

	heapIndex int
	scheduled bool
	seq       int64
	watching  bool
}

func (it *Item) inHeap() bool { return it.scheduled }

// alarmHeap orders Items by soonest Alarm, ties broken by Deadline then
// insertion order.
type alarmHeap []*Item

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.Alarm.Equal(b.Alarm) {
		return a.Alarm.Before(b.Alarm)
	}
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	return a.seq < b.seq
}
func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex, h[j].heapIndex = i, j
}
func (h *alarmHeap) Push(x any) {
	it := x.(*Item)
	it.heapIndex = len(*h)
	it.scheduled = true
	*h = append(*h, it)
}
func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIndex = -1
	it.scheduled = false
	*h = old[:n-1]
	return it
}

// Scheduler is the dispatch loop: a timer heap plus an fd readiness set,
// woken by a pollerFD (epoll on Linux, poll(2) elsewhere).
type Scheduler struct {
	mu      sync.Mutex
	heap    alarmHeap
	watched map[int]*Item
	poller  pollerFD
	nextSeq int64
	started chan struct{}
	once    sync.Once
}

// New returns a Scheduler backed by the platform's native poller.
func New() (*Scheduler, error) {
	p, err := newPoller()
	if err != nil {
		return nil, cos.WrapErr(cos.KindIO, err, "sched: create poller")
	}
	return newWithPoller(p), nil
}

func newWithPoller(p pollerFD) *Scheduler {
	return &Scheduler{
		watched: make(map[int]*Item),
		poller:  p,
		started: make(chan struct{}),
	}
}

// Schedule inserts it into the timer heap, unscheduling it first if it was
// already present.
func (s *Scheduler) Schedule(it *Item) {
	debug.Assert(it.Callback != nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(it)
	it.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.heap, it)
}

// Unschedule removes it from the timer heap if present; a no-op otherwise.
func (s *Scheduler) Unschedule(it *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(it)
}

func (s *Scheduler) unscheduleLocked(it *Item) {
	if it.inHeap() {
		heap.Remove(&s.heap, it.heapIndex)
	}
}

// Watch adds it's fd to the readiness set with its interest mask.
func (s *Scheduler) Watch(it *Item) error {
	debug.Assert(it.Callback != nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.watching {
		if err := s.poller.Remove(it.FD); err != nil {
			return cos.WrapErr(cos.KindIO, err, "sched: re-watch remove fd %d", it.FD)
		}
		delete(s.watched, it.FD)
	}
	if err := s.poller.Add(it.FD, it.Mask); err != nil {
		return cos.WrapErr(cos.KindIO, err, "sched: watch fd %d", it.FD)
	}
	s.watched[it.FD] = it
	it.watching = true
	return nil
}

// Unwatch removes it's fd from the readiness set; a no-op if not watched.
func (s *Scheduler) Unwatch(it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !it.watching {
		return nil
	}
	delete(s.watched, it.FD)
	it.watching = false
	if err := s.poller.Remove(it.FD); err != nil {
		return cos.WrapErr(cos.KindIO, err, "sched: unwatch fd %d", it.FD)
	}
	return nil
}

// WaitStarted blocks until the first iteration of Run has begun; tests use
// it to avoid racing the loop's startup.
func (s *Scheduler) WaitStarted() { <-s.started }

func (s *Scheduler) markStarted() {
	s.once.Do(func() { close(s.started) })
}

// maxWait bounds how long Run blocks in the poller when no timer is
// pending, so shutdown via ctx.Done is never delayed by more than this.
const maxWait = time.Second

// Run dispatches until ctx is cancelled or the poller returns a
// non-recoverable error. Each wakeup: (i) fires every fd that became ready,
// (ii) fires every timer item whose Alarm had already elapsed at the start
// of the wakeup and that is still scheduled when its turn comes — the due
// set is computed once, not rechecked mid-drain, so a callback
// that reschedules itself to now cannot starve siblings due at now-ε.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.markStarted()
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := s.nextTimeout()
		ready, err := s.poller.Wait(timeout)
		if err != nil {
			if cos.IsEAgain(err) {
				continue
			}
			return cos.WrapErr(cos.KindIO, err, "sched: poller wait")
		}

		now := time.Now()
		fired := make(map[*Item]bool, len(ready))

		for _, ev := range ready {
			s.mu.Lock()
			it, ok := s.watched[ev.FD]
			s.mu.Unlock()
			if !ok {
				continue // unwatched by an earlier callback this wakeup
			}
			it.FiredMask = ev.Mask
			s.fire(it, now)
			fired[it] = true
		}

		due := s.snapshotDue(now)
		// Put the due items back so an Unschedule of a sibling by an earlier
		// callback still takes effect; each leaves the heap just before it fires.
		s.mu.Lock()
		for _, it := range due {
			heap.Push(&s.heap, it)
		}
		s.mu.Unlock()
		for _, it := range due {
			s.mu.Lock()
			live := it.inHeap() && !it.Alarm.After(now)
			if live {
				heap.Remove(&s.heap, it.heapIndex)
			}
			s.mu.Unlock()
			if !live || fired[it] {
				continue
			}
			it.FiredMask = 0
			s.fire(it, now)
		}
	}
}

// snapshotDue pops every item whose Alarm <= now into a slice, draining the
// heap once per wakeup rather than rechecking the top after each fire.
func (s *Scheduler) snapshotDue(now time.Time) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Item
	for len(s.heap) > 0 && !s.heap[0].Alarm.IsZero() && !s.heap[0].Alarm.After(now) {
		it := heap.Pop(&s.heap).(*Item)
		due = append(due, it)
	}
	return due
}

func (s *Scheduler) fire(it *Item, now time.Time) {
	it.FireCount++
	it.LastFired = now
	it.Callback(it)
}

func (s *Scheduler) nextTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 || s.heap[0].Alarm.IsZero() {
		return maxWait
	}
	d := time.Until(s.heap[0].Alarm)
	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

// ScheduleLogFlush registers a recurring low-priority alarm that flushes the
// log buffers, keeping periodic maintenance off the hot dispatch path.
func ScheduleLogFlush(s *Scheduler, every time.Duration) {
	var it *Item
	it = &Item{
		Name:  "nlog-flush",
		Alarm: time.Now().Add(every),
		FD:    -1,
		Callback: func(*Item) {
			nlog.Flush()
			it.Alarm = time.Now().Add(every)
			s.Schedule(it)
		},
	}
	s.Schedule(it)
}
