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

//go:build linux
// +build linux

package libconsole

import (
	"os"
	"sync"

	"github.com/nabla-containers/conmux/libconsole/configs"
	"github.com/nabla-containers/conmux/mainloop"
)

// Container holds one container's console and tty pool behind the
// single lock that every external entry point into the subsystem goes
// through. Concurrent mutation of the busy tokens or the registry is
// undefined, so allocate, free and broadcast all serialize here.
type Container struct {
	m sync.Mutex

	id       string
	config   *configs.Config
	registry *Registry
	console  *Console
	pool     *TtyPool
}

// New creates the console and the auxiliary tty pool for a container.
func New(id string, conf *configs.Config, registry *Registry) (*Container, error) {
	if registry == nil {
		registry = NewRegistry()
	}

	c := &Container{
		id:       id,
		config:   conf,
		registry: registry,
		pool:     NewTtyPool(conf.TtyCount),
	}

	if err := c.pool.Create(); err != nil {
		return nil, err
	}

	console, err := CreateConsole(conf, registry)
	if err != nil {
		c.pool.Close()
		return nil, err
	}
	c.console = console

	return c, nil
}

func (c *Container) ID() string {
	return c.id
}

func (c *Container) Config() configs.Config {
	return *c.config
}

// Console returns the container's console, nil when it was skipped
// (execute mode, no rootfs, path "none").
func (c *Container) Console() *Console {
	return c.console
}

func (c *Container) Pool() *TtyPool {
	return c.pool
}

func (c *Container) Registry() *Registry {
	return c.registry
}

// AllocateTty reserves the console (req == 0), a specific auxiliary
// tty (req > 0) or any free one (req < 0) for owner, and returns the
// selected index and its master descriptor. For the console the master
// returned is the proxy's, never the real one.
func (c *Container) AllocateTty(req int, owner Owner) (int, *os.File, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if req == 0 {
		master, err := c.console.AllocateProxy(owner)
		if err != nil {
			return 0, nil, err
		}
		return 0, master, nil
	}

	return c.pool.Allocate(req, owner)
}

// FreeTty releases everything owner holds: every pool slot, and the
// console proxy if owner has it, in which case the proxy, its signal
// bridge and their event-loop registrations are all torn down.
// Idempotent; freeing the zero token or a token that owns nothing is a
// no-op.
func (c *Container) FreeTty(owner Owner) {
	c.m.Lock()
	defer c.m.Unlock()

	if owner == NoOwner {
		return
	}

	c.pool.Free(owner)
	c.console.releaseProxy(owner)
}

// BroadcastWinch fans the current window sizes out to every session in
// the registry. Driven by the WinchNotify request when the signal was
// delivered to the parent process rather than a specific session.
func (c *Container) BroadcastWinch() {
	c.m.Lock()
	defer c.m.Unlock()
	c.registry.BroadcastWinch()
}

// MainloopAdd wires the console into loop.
func (c *Container) MainloopAdd(loop *mainloop.Loop) error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.console.MainloopAdd(loop)
}

// Destroy tears down the console and the tty pool.
func (c *Container) Destroy() {
	c.m.Lock()
	defer c.m.Unlock()
	c.console.Delete()
	c.console = nil
	c.pool.Close()
}
