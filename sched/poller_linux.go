//go:build linux

/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sched

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the real Linux poller: one epoll instance shared
// by every watched fd.
type epollPoller struct {
	fd int
}

func newPoller() (pollerFD, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func toEpollEvents(m EventMask) uint32 {
	var ev uint32
	if m&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if m&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&EventErr != 0 {
		ev |= unix.EPOLLERR
	}
	if m&EventHup != 0 {
		ev |= unix.EPOLLHUP
	}
	return ev
}

func fromEpollEvents(ev uint32) EventMask {
	var m EventMask
	if ev&unix.EPOLLIN != 0 {
		m |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		m |= EventErr
	}
	if ev&unix.EPOLLHUP != 0 {
		m |= EventHup
	}
	return m
}

func (p *epollPoller) Add(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeout time.Duration) ([]readyEvent, error) {
	events := make([]unix.EpollEvent, 64)
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.fd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, readyEvent{FD: int(events[i].Fd), Mask: fromEpollEvents(events[i].Events)})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
