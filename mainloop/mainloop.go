// Copyright (c) 2018, IBM
//
// Permission to use, copy, modify, and/or distribute this software for
// any purpose with or without fee is hereby granted, provided that the
// above copyright notice and this permission notice appear in all
// copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL
// DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA
// OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER
// TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR
// PERFORMANCE OF THIS SOFTWARE.

// Package mainloop is a small epoll-backed event loop. Descriptors are
// registered with a handler; Run dispatches handlers one at a time on
// the calling goroutine whenever a descriptor becomes readable, so
// handlers never run concurrently with each other. Registration and
// removal may happen from other goroutines.
package mainloop

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Action is the value a handler returns to steer the loop.
type Action int

const (
	// Continue keeps the loop running.
	Continue Action = iota
	// Quit terminates Run with a nil error after the current dispatch.
	Quit
	// Fail terminates Run with an error after the current dispatch.
	Fail
)

// HandlerFunc is invoked when fd is readable. events is the raw epoll
// event mask. data is the value passed to AddHandler.
type HandlerFunc func(fd int, events uint32, data interface{}, loop *Loop) Action

type handler struct {
	fd   int
	fn   HandlerFunc
	data interface{}
}

// Loop is a readiness dispatcher around one epoll instance.
type Loop struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]*handler
}

// Open creates an empty loop.
func Open() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create epoll instance")
	}
	return &Loop{
		epfd:     epfd,
		handlers: make(map[int]*handler),
	}, nil
}

// AddHandler registers fd for readability and associates it with fn.
func (l *Loop) AddHandler(fd int, fn HandlerFunc, data interface{}) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "failed to add fd %d to epoll", fd)
	}
	l.mu.Lock()
	l.handlers[fd] = &handler{fd: fd, fn: fn, data: data}
	l.mu.Unlock()
	return nil
}

// DelHandler removes fd from the loop. Removing an fd that was never
// added is an error. An fd that was already closed is forgotten
// without complaint; the kernel drops closed fds from the epoll set on
// its own.
func (l *Loop) DelHandler(fd int) error {
	l.mu.Lock()
	_, ok := l.handlers[fd]
	delete(l.handlers, fd)
	l.mu.Unlock()
	if !ok {
		return errors.Errorf("fd %d is not registered", fd)
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return errors.Wrapf(err, "failed to remove fd %d from epoll", fd)
	}
	return nil
}

func (l *Loop) lookup(fd int) *handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers[fd]
}

func (l *Loop) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers) == 0
}

// Run dispatches handlers until one returns Quit or Fail, until no
// descriptors remain registered, or until the timeout expires.
// timeoutMs < 0 waits indefinitely.
func (l *Loop) Run(timeoutMs int) error {
	events := make([]unix.EpollEvent, 8)
	for {
		if l.empty() {
			return nil
		}

		n, err := unix.EpollWait(l.epfd, events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "epoll_wait failed")
		}
		if n == 0 && timeoutMs >= 0 {
			return nil
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			h := l.lookup(fd)
			if h == nil {
				// Removed by an earlier handler in this batch.
				continue
			}
			switch h.fn(fd, events[i].Events, h.data, l) {
			case Quit:
				return nil
			case Fail:
				return errors.Errorf("handler for fd %d failed", fd)
			}
		}
	}
}

// Close releases the epoll descriptor. Registered fds are not closed.
func (l *Loop) Close() error {
	if l.epfd < 0 {
		return nil
	}
	err := unix.Close(l.epfd)
	l.epfd = -1
	l.mu.Lock()
	l.handlers = nil
	l.mu.Unlock()
	return err
}
