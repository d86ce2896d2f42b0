/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sched_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/serval-mesh/meshd/sched"
)

var _ = Describe("Scheduler", func() {
	var (
		s      *sched.Scheduler
		poller *sched.FakePoller
		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}
	)

	BeforeEach(func() {
		s, poller = sched.NewTestScheduler()
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Run(ctx)
		}()
		s.WaitStarted()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("fires timers in deadline-then-insertion order on ties", func() {
		var (
			mu    sync.Mutex
			order []string
		)
		record := func(name string) func(*sched.Item) {
			return func(*sched.Item) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
			}
		}

		base := time.Now().Add(20 * time.Millisecond)
		// "b" and "c" share a deadline, so insertion order (b before c)
		// breaks the tie; "a" has the earliest deadline so it fires first
		// despite being scheduled last.
		itB := &sched.Item{Name: "b", Alarm: base, Deadline: base.Add(100 * time.Millisecond), FD: -1, Callback: record("b")}
		itC := &sched.Item{Name: "c", Alarm: base, Deadline: base.Add(100 * time.Millisecond), FD: -1, Callback: record("c")}
		itA := &sched.Item{Name: "a", Alarm: base, Deadline: base.Add(50 * time.Millisecond), FD: -1, Callback: record("a")}

		s.Schedule(itB)
		s.Schedule(itC)
		s.Schedule(itA)

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), order...)
		}, time.Second, 5*time.Millisecond).Should(Equal([]string{"a", "b", "c"}))
	})

	It("does not fire an unscheduled item", func() {
		fired := make(chan struct{}, 1)
		it := &sched.Item{
			Name:  "cancel-me",
			Alarm: time.Now().Add(15 * time.Millisecond),
			FD:    -1,
			Callback: func(*sched.Item) {
				fired <- struct{}{}
			},
		}
		s.Schedule(it)
		s.Unschedule(it)

		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("lets a callback unschedule a sibling fired in the same wakeup", func() {
		var siblingFired bool
		var mu sync.Mutex

		at := time.Now().Add(15 * time.Millisecond)
		sibling := &sched.Item{
			Name:  "sibling",
			Alarm: at,
			FD:    -1,
		}
		sibling.Callback = func(*sched.Item) {
			mu.Lock()
			siblingFired = true
			mu.Unlock()
		}
		canceller := &sched.Item{
			Name:  "canceller",
			Alarm: at,
			FD:    -1,
		}
		canceller.Callback = func(*sched.Item) {
			s.Unschedule(sibling)
		}

		// insertion order: canceller before sibling, so canceller's callback
		// runs first within the snapshot and can still cancel sibling.
		s.Schedule(canceller)
		s.Schedule(sibling)

		Consistently(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return siblingFired
		}, 150*time.Millisecond, 10*time.Millisecond).Should(BeFalse())
	})

	It("fires a watched fd with its readiness mask", func() {
		gotMask := make(chan sched.EventMask, 1)
		it := &sched.Item{
			Name: "fd-watch",
			FD:   7,
			Mask: sched.EventRead,
		}
		it.Callback = func(i *sched.Item) {
			gotMask <- i.FiredMask
		}
		Expect(s.Watch(it)).To(Succeed())

		poller.MakeReady(7, sched.EventRead)

		Eventually(gotMask, time.Second).Should(Receive(Equal(sched.EventRead)))
	})

	It("stops delivering to an unwatched fd", func() {
		calls := make(chan struct{}, 8)
		it := &sched.Item{FD: 9, Mask: sched.EventRead}
		it.Callback = func(*sched.Item) { calls <- struct{}{} }
		Expect(s.Watch(it)).To(Succeed())
		Expect(s.Unwatch(it)).To(Succeed())

		poller.MakeReady(9, sched.EventRead)

		Consistently(calls, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("does not starve a same-wakeup sibling when a callback reschedules itself to now", func() {
		var mu sync.Mutex
		fireCounts := map[string]int{}
		record := func(name string) {
			mu.Lock()
			fireCounts[name]++
			mu.Unlock()
		}

		at := time.Now().Add(15 * time.Millisecond)
		var selfReschedule *sched.Item
		selfReschedule = &sched.Item{Name: "self", Alarm: at, FD: -1}
		selfReschedule.Callback = func(i *sched.Item) {
			record("self")
			i.Alarm = time.Now() // reschedule to "now": due again only on the *next* wakeup
			s.Schedule(i)
		}
		sibling := &sched.Item{Name: "sibling", Alarm: at, FD: -1}
		sibling.Callback = func(*sched.Item) { record("sibling") }

		s.Schedule(selfReschedule)
		s.Schedule(sibling)

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return fireCounts["sibling"]
		}, time.Second, 5*time.Millisecond).Should(Equal(1))

		mu.Lock()
		selfCount := fireCounts["self"]
		mu.Unlock()
		Expect(selfCount).To(BeNumerically(">=", 1))

		s.Unschedule(selfReschedule)
	})
})
