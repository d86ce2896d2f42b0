//go:build !linux

/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sched

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback for non-Linux builds: a plain
// poll(2) call over the watched set, rebuilt each Wait since unix.Poll
// takes the fd list by value.
type pollPoller struct {
	masks map[int]EventMask
}

func newPoller() (pollerFD, error) {
	return &pollPoller{masks: make(map[int]EventMask)}, nil
}

func toPollEvents(m EventMask) int16 {
	var ev int16
	if m&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if m&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPollEvents(ev int16) EventMask {
	var m EventMask
	if ev&unix.POLLIN != 0 {
		m |= EventRead
	}
	if ev&unix.POLLOUT != 0 {
		m |= EventWrite
	}
	if ev&unix.POLLERR != 0 {
		m |= EventErr
	}
	if ev&unix.POLLHUP != 0 {
		m |= EventHup
	}
	return m
}

func (p *pollPoller) Add(fd int, mask EventMask) error {
	p.masks[fd] = mask
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	delete(p.masks, fd)
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]readyEvent, error) {
	if len(p.masks) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}
	fds := make([]unix.PollFd, 0, len(p.masks))
	for fd, mask := range p.masks {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(mask)})
	}
	ms := int(timeout / time.Millisecond)
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]readyEvent, 0, n)
	for _, pfd := range fds {
		if pfd.Revents != 0 {
			out = append(out, readyEvent{FD: int(pfd.Fd), Mask: fromPollEvents(pfd.Revents)})
		}
	}
	return out, nil
}

func (p *pollPoller) Close() error { return nil }
