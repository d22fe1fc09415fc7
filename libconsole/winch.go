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

	"github.com/nabla-containers/conmux/mainloop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// sizeof(struct signalfd_siginfo); a read from a signalfd that returns
// fewer bytes than this did not deliver a full notification.
const sigfdInfoSize = 128

// TtyState tracks one live window-size bridge between a controlling
// terminal and a pty master. SIGWINCH is not handled by an asynchronous
// handler: the signal is blocked and captured into SigFd, which is
// dispatched on the mainloop like any other descriptor, so registry
// mutation only ever happens on the dispatch goroutine.
type TtyState struct {
	registry *Registry

	StdinFd  int
	StdoutFd int
	MasterFd int

	// WinchProxy, when set, forwards the window change out of band to
	// a remote console. Failures are ignored.
	WinchProxy func()

	SigFd   int
	oldMask unix.Sigset_t

	esc escapeDecoder
}

// signalFd is a seam for tests that exercise setup failure.
var signalFd = func(mask *unix.Sigset_t) (int, error) {
	return unix.Signalfd(-1, mask, unix.SFD_CLOEXEC)
}

func sigaddset(set *unix.Sigset_t, sig int) {
	set.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
}

// Registry is the process-wide list of tty sessions that need window
// sizes fanned out to them. Every live TtyState is in the registry
// exactly once, from InstallWinchBridge until UninstallWinchBridge.
type Registry struct {
	mu   sync.Mutex
	ttys []*TtyState
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(ts *TtyState) {
	r.mu.Lock()
	r.ttys = append(r.ttys, ts)
	r.mu.Unlock()
}

func (r *Registry) remove(ts *TtyState) {
	r.mu.Lock()
	for i, t := range r.ttys {
		if t == ts {
			r.ttys = append(r.ttys[:i], r.ttys[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ttys)
}

// BroadcastWinch applies the current window size of every registered
// session's source terminal to its master. Used when the signal lands
// on the parent process rather than a specific session.
func (r *Registry) BroadcastWinch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ts := range r.ttys {
		ts.winch()
	}
}

// InstallWinchBridge blocks SIGWINCH, opens a signalfd for it and
// inserts a new TtyState into the registry. The returned state's SigFd
// can be added to a mainloop. On failure the signal mask is restored
// and nothing is left in the registry.
func (r *Registry) InstallWinchBridge(srcFd, dstFd int) (*TtyState, error) {
	ts := &TtyState{
		registry: r,
		StdinFd:  srcFd,
		MasterFd: dstFd,
		SigFd:    -1,
	}

	// Add to the list to be scanned at SIGWINCH time.
	r.add(ts)

	var mask unix.Sigset_t
	sigaddset(&mask, int(unix.SIGWINCH))
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, &ts.oldMask); err != nil {
		r.remove(ts)
		return nil, newSystemErrorWithCause(err, "blocking SIGWINCH")
	}

	sigfd, err := signalFd(&mask)
	if err != nil {
		unix.PthreadSigmask(unix.SIG_SETMASK, &ts.oldMask, nil) //nolint:errcheck
		r.remove(ts)
		return nil, newGenericError(err, ResourceExhausted)
	}
	ts.SigFd = sigfd

	logrus.Debugf("pid %d got SIGWINCH fd %d", os.Getpid(), sigfd)
	return ts, nil
}

// UninstallWinchBridge closes the signal descriptor, removes the state
// from the registry and restores the signal mask saved at install time.
func (r *Registry) UninstallWinchBridge(ts *TtyState) {
	if ts.SigFd >= 0 {
		unix.Close(ts.SigFd)
		ts.SigFd = -1
	}
	r.remove(ts)
	unix.PthreadSigmask(unix.SIG_SETMASK, &ts.oldMask, nil) //nolint:errcheck
}

// winch propagates the window size from the session's source terminal
// to its master and notifies the remote side, if one is configured.
func (ts *TtyState) winch() {
	winszCopy(ts.StdinFd, ts.MasterFd)
	if ts.WinchProxy != nil {
		ts.WinchProxy()
	}
}

// winszCopy propagates the window size from one terminal to another.
//
// srcFd is the terminal to get the size from (typically a slave pty),
// dstFd the terminal to set it on (typically a master pty).
func winszCopy(srcFd, dstFd int) {
	if !term.IsTerminal(srcFd) {
		return
	}
	wsz, err := unix.IoctlGetWinsize(srcFd, unix.TIOCGWINSZ)
	if err != nil {
		return
	}
	logrus.Debugf("set winsz dstfd:%d cols:%d rows:%d", dstFd, wsz.Col, wsz.Row)
	unix.IoctlSetWinsize(dstFd, unix.TIOCSWINSZ, wsz) //nolint:errcheck
}

// ttyHandleSigwinch consumes one pending SIGWINCH notification from the
// signalfd and resizes the session that owns it.
func ttyHandleSigwinch(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	ts := data.(*TtyState)

	buf := make([]byte, sigfdInfoSize)
	n, err := unix.Read(fd, buf)
	if err != nil || n < sigfdInfoSize {
		logrus.Errorf("failed to read signal info from fd %d: %v", fd, err)
		return mainloop.Fail
	}

	ts.winch()
	return mainloop.Continue
}
