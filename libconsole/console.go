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

// Package libconsole allocates, attaches, proxies and tears down the
// pseudo-terminals that give a container a primary console and a pool
// of auxiliary ttys, and keeps terminal window sizes synchronized
// across process boundaries.
package libconsole

import (
	"os"
	"sync"

	"github.com/nabla-containers/conmux/libconsole/configs"
	"github.com/nabla-containers/conmux/mainloop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// relayChunkSize is how much a relay callback reads per dispatch.
const relayChunkSize = 1024

// peerPty is the secondary pty pair interposed between a remote attach
// client and the console's real master, so the real master is never
// handed out directly.
type peerPty struct {
	master *os.File
	slave  *os.File
	busy   Owner
	name   string
}

// Console is the primary terminal of one container: the slot-0 pty
// pair bound to the init process's standard streams, plus whatever
// peer is currently attached to it. master and slave are either both
// open or both nil; peer validity is independent of them.
//
// mu serializes the relay callbacks on the mainloop goroutine against
// proxy allocate/free arriving from command-server goroutines. Every
// method and callback that touches the descriptor fields takes it.
type Console struct {
	mu sync.Mutex

	// Path optionally binds the peer to a device; empty means "try
	// the controlling terminal".
	Path string

	// LogPath optionally names the append-only sink receiving a
	// verbatim copy of all master traffic.
	LogPath string
	logFile *os.File

	Name   string
	master *os.File
	slave  *os.File

	// peer is the currently attached reader/writer. During a proxy
	// session it aliases peerPty.slave; for a local console it is the
	// device opened from Path. nil when nothing is attached.
	peer *os.File

	// tios holds the peer terminal's saved attributes while a peer
	// with a real terminal is attached.
	tios *term.State

	// ttyState is present only while a signal bridge is active for
	// this console.
	ttyState *TtyState

	peerPty peerPty

	registry *Registry

	// loop is cached at MainloopAdd time so that a peer attached
	// later by AllocateProxy can be registered too.
	loop *mainloop.Loop
}

// CreateConsole opens the primary pty pair for a container and wires
// up the default peer and the log sink. Containers in execute mode,
// without a rootfs, or with a console path of "none" get no console
// and a nil return.
func CreateConsole(conf *configs.Config, registry *Registry) (*Console, error) {
	if conf.IsExecute {
		logrus.Info("no console in execute mode")
		return nil, nil
	}
	if conf.Rootfs == "" {
		logrus.Info("no rootfs, no console")
		return nil, nil
	}
	if conf.ConsolePath == "none" {
		return nil, nil
	}

	c := &Console{
		Path:     conf.ConsolePath,
		LogPath:  conf.LogPath,
		registry: registry,
	}

	master, slave, err := openPty()
	if err != nil {
		return nil, newGenericError(err, ResourceExhausted)
	}
	c.master = master
	c.slave = slave
	c.Name = slave.Name()

	unix.CloseOnExec(int(master.Fd()))
	unix.CloseOnExec(int(slave.Fd()))

	c.peerDefault()

	if c.LogPath != "" {
		logFile, err := os.OpenFile(c.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			c.Delete()
			return nil, newSystemErrorWithCausef(err, "opening console log %q", c.LogPath)
		}
		unix.CloseOnExec(int(logFile.Fd()))
		c.logFile = logFile
		logrus.Debugf("using %q as console log", c.LogPath)
	}

	return c, nil
}

// peerDefault attaches the console to its bound device, or to the
// current controlling terminal when no device was given. There won't
// be a controlling terminal when running daemonized; that is not an
// error, the console simply has no peer until somebody attaches.
func (c *Console) peerDefault() {
	path := c.Path
	if path == "" {
		if _, err := os.Stat("/dev/tty"); err == nil {
			path = "/dev/tty"
		}
	}
	if path == "" {
		logrus.Debug("no console peer")
		return
	}

	logrus.Debugf("opening %s for console peer", path)
	peer, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		logrus.Debug("no console peer")
		return
	}
	unix.CloseOnExec(int(peer.Fd()))

	if !term.IsTerminal(int(peer.Fd())) {
		peer.Close()
		return
	}

	ts, err := c.registry.InstallWinchBridge(int(peer.Fd()), int(c.master.Fd()))
	if err != nil {
		logrus.Warnf("unable to install SIGWINCH bridge: %v", err)
	}
	c.ttyState = ts

	winszCopy(int(peer.Fd()), int(c.master.Fd()))

	tios, err := setupTios(int(peer.Fd()))
	if err != nil {
		logrus.Warnf("failed to set up terminal for console peer: %v", err)
		if c.ttyState != nil {
			c.registry.UninstallWinchBridge(c.ttyState)
			c.ttyState = nil
		}
		peer.Close()
		return
	}

	c.peer = peer
	c.tios = tios
}

// Delete tears the console down: saved terminal attributes are
// restored to the peer first, then every descriptor is closed in a
// fixed order (peer, master, slave, log).
func (c *Console) Delete() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttyState != nil {
		c.registry.UninstallWinchBridge(c.ttyState)
		c.ttyState = nil
	}

	if c.tios != nil && c.peer != nil {
		restoreTios(int(c.peer.Fd()), c.tios)
	}
	c.tios = nil

	if c.peer != nil {
		c.peer.Close()
		c.peer = nil
	}
	if c.master != nil {
		c.master.Close()
		c.master = nil
	}
	if c.slave != nil {
		c.slave.Close()
		c.slave = nil
	}
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}

// Master returns the console's master descriptor, nil when the console
// was skipped.
func (c *Console) Master() *os.File {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master
}

// Slave returns the console's slave descriptor.
func (c *Console) Slave() *os.File {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slave
}

// SetStdFds duplicates the console slave onto the calling process's
// standard streams. Only the container's own init process does this,
// never an attach client.
func (c *Console) SetStdFds() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slave == nil {
		return nil
	}
	for _, stdfd := range []int{0, 1, 2} {
		if err := unix.Dup3(int(c.slave.Fd()), stdfd, 0); err != nil {
			return newGenericError(err, ResourceExhausted)
		}
	}
	return nil
}

// MainloopAdd registers the console master with the loop, and any
// already-attached peer and signal bridge with it. The loop is cached
// so that a peer attached later by AllocateProxy is registered too.
func (c *Console) MainloopAdd(loop *mainloop.Loop) error {
	if c == nil {
		logrus.Info("no console")
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.master == nil {
		logrus.Info("no console")
		return nil
	}

	if err := loop.AddHandler(int(c.master.Fd()), consoleHandleFd, c); err != nil {
		return newSystemErrorWithCausef(err, "adding console master fd %d to mainloop", int(c.master.Fd()))
	}

	c.loop = loop
	c.mainloopAddPeer()
	return nil
}

// mainloopAddPeer registers the attached peer and the signal bridge
// descriptor. Failures here degrade the session (no input relay, no
// resize fan-out) but don't kill it. Caller holds c.mu.
func (c *Console) mainloopAddPeer() {
	if c.loop == nil {
		return
	}

	if c.peer != nil {
		if err := c.loop.AddHandler(int(c.peer.Fd()), consoleHandleFd, c); err != nil {
			logrus.Warnf("console peer not added to mainloop: %v", err)
		}
	}

	if c.ttyState != nil {
		if err := c.loop.AddHandler(c.ttyState.SigFd, consoleHandleSigwinch, c); err != nil {
			logrus.Warnf("failed to add SIGWINCH fd %d to mainloop: %v", c.ttyState.SigFd, err)
		}
	}
}

// consoleHandleSigwinch consumes one pending SIGWINCH notification for
// the console's active bridge. A wakeup for a bridge that was torn
// down before the event got dispatched is dropped along with its
// registration.
func consoleHandleSigwinch(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	c := data.(*Console)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttyState == nil || c.ttyState.SigFd != fd {
		loop.DelHandler(fd) //nolint:errcheck
		return mainloop.Continue
	}

	buf := make([]byte, sigfdInfoSize)
	n, err := unix.Read(fd, buf)
	if err != nil || n < sigfdInfoSize {
		logrus.Errorf("failed to read signal info from fd %d: %v", fd, err)
		return mainloop.Fail
	}

	c.ttyState.winch()
	return mainloop.Continue
}

// consoleHandleFd relays bytes for the console. Peer input goes to the
// master; master output goes to the log sink and the attached peer.
// Delivery is best effort: a short write is warned about, never fatal.
// A zero-byte read means the client on fd went away; the descriptor is
// deregistered and closed and the session continues. A descriptor that
// was freed by another goroutine between readiness and dispatch is no
// longer the console's; its stale registration is dropped without
// touching it.
func consoleHandleFd(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	c := data.(*Console)
	c.mu.Lock()
	defer c.mu.Unlock()

	isPeer := c.peer != nil && fd == int(c.peer.Fd())
	isMaster := c.master != nil && fd == int(c.master.Fd())
	if !isPeer && !isMaster {
		loop.DelHandler(fd) //nolint:errcheck
		return mainloop.Continue
	}

	buf := make([]byte, relayChunkSize)
	r, err := unix.Read(fd, buf)
	if err != nil {
		logrus.Errorf("failed to read from fd %d: %v", fd, err)
		return mainloop.Fail
	}

	if r == 0 {
		logrus.Infof("console client on fd %d has exited", fd)
		if err := loop.DelHandler(fd); err != nil {
			logrus.Warnf("failed to remove fd %d from mainloop: %v", fd, err)
		}
		c.closeFd(fd)
		return mainloop.Continue
	}

	w := r
	if isPeer && c.master != nil {
		w, _ = unix.Write(int(c.master.Fd()), buf[:r])
	}

	if isMaster {
		if c.logFile != nil {
			w, _ = unix.Write(int(c.logFile.Fd()), buf[:r])
		}
		if c.peer != nil {
			w, _ = unix.Write(int(c.peer.Fd()), buf[:r])
		}
	}

	if w != r {
		logrus.Warnf("console short write r:%d w:%d", r, w)
	}
	return mainloop.Continue
}

// closeFd closes whichever console descriptor carries fd and clears
// the reference to it. The other descriptors are left untouched.
// Caller holds c.mu.
func (c *Console) closeFd(fd int) {
	switch {
	case c.peer != nil && fd == int(c.peer.Fd()):
		if c.peerPty.slave == c.peer {
			c.peerPty.slave = nil
		}
		c.peer.Close()
		c.peer = nil
		c.tios = nil
	case c.master != nil && fd == int(c.master.Fd()):
		c.master.Close()
		c.master = nil
	default:
		unix.Close(fd)
	}
}
