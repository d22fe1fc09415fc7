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

	"github.com/sirupsen/logrus"
)

// AllocateProxy interposes a fresh pty pair between a remote attach
// client and the console. The proxy's master is what gets handed to
// the client; its slave becomes the console's peer, so the real master
// is never exposed. Any failure after the pty pair is opened unwinds
// completely: both proxy descriptors are closed and the proxy state is
// cleared before the error is returned.
func (c *Console) AllocateProxy(owner Owner) (*os.File, error) {
	if c == nil {
		return nil, newGenericErrorf(SystemError, "console not set up")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.master == nil {
		return nil, newGenericErrorf(SystemError, "console not set up")
	}
	if c.peerPty.busy != NoOwner || c.peer != nil {
		return nil, newGenericErrorf(AllocationBusy, "console already in use")
	}
	if c.ttyState != nil {
		return nil, newGenericErrorf(AlreadyConfigured, "console already has a signal bridge")
	}

	master, slave, err := openPty()
	if err != nil {
		return nil, newGenericError(err, ResourceExhausted)
	}
	c.peerPty.master = master
	c.peerPty.slave = slave
	c.peerPty.name = slave.Name()

	// The slave needs to pass bytes through unmodified; its saved
	// state is irrelevant, the pair dies with the session.
	if _, err := setupTios(int(slave.Fd())); err != nil {
		c.freeProxyLocked()
		return nil, err
	}

	ts, err := c.registry.InstallWinchBridge(int(master.Fd()), int(c.master.Fd()))
	if err != nil {
		c.freeProxyLocked()
		return nil, err
	}

	c.ttyState = ts
	c.peer = slave
	c.peerPty.busy = owner
	c.mainloopAddPeer()

	logrus.Debugf("pid %d allocated proxy pty %s (master fd %d) for owner %s",
		os.Getpid(), c.peerPty.name, int(master.Fd()), owner)
	return master, nil
}

// FreeProxy tears down the signal bridge if one is active, closes both
// proxy descriptors and resets the proxy state. Safe to call on a
// partially constructed proxy.
func (c *Console) FreeProxy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeProxyLocked()
}

// freeProxyLocked is FreeProxy with c.mu already held.
func (c *Console) freeProxyLocked() {
	if c.ttyState != nil {
		c.registry.UninstallWinchBridge(c.ttyState)
		c.ttyState = nil
	}
	if c.peerPty.master != nil {
		c.peerPty.master.Close()
	}
	if c.peerPty.slave != nil {
		c.peerPty.slave.Close()
	}
	c.peerPty = peerPty{}
	c.peer = nil
}

// releaseProxy frees the proxy when owner holds it, removing its
// event-loop registrations first. A token that does not hold the proxy
// frees nothing; in particular the zero token never matches, so a
// console whose proxy is unallocated keeps its default peer. Reports
// whether anything was released.
func (c *Console) releaseProxy(owner Owner) bool {
	if c == nil || owner == NoOwner {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peerPty.busy != owner {
		return false
	}

	if c.loop != nil {
		if c.peer != nil {
			c.loop.DelHandler(int(c.peer.Fd())) //nolint:errcheck
		}
		if c.ttyState != nil && c.ttyState.SigFd >= 0 {
			c.loop.DelHandler(c.ttyState.SigFd) //nolint:errcheck
		}
	}

	c.freeProxyLocked()
	return true
}

// ProxyOwner returns the token holding the console proxy, NoOwner when
// the console is free.
func (c *Console) ProxyOwner() Owner {
	if c == nil {
		return NoOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerPty.busy
}
