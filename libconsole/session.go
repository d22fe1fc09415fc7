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
	"fmt"
	"os"

	"github.com/nabla-containers/conmux/mainloop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// escapeDecoder recognizes the console exit sequence in the local
// stdin byte stream. The escape byte arms it; an armed 'q' ends the
// session, an armed escape byte emits one literal escape byte, any
// other armed byte passes through. It never buffers more than its own
// two states.
type escapeDecoder struct {
	escape byte
	armed  bool
}

// next consumes one input byte and returns the bytes to forward to the
// master and whether the session should end.
func (d *escapeDecoder) next(c byte) (forward []byte, quit bool) {
	if !d.armed {
		if c == d.escape {
			d.armed = true
			return nil, false
		}
		return []byte{c}, false
	}

	d.armed = false
	switch c {
	case 'q':
		return nil, true
	case d.escape:
		return []byte{d.escape}, false
	default:
		return []byte{c}, false
	}
}

// AttachFunc requests a tty from the remote side. req is the tty
// index being asked for (0 console, >0 specific, <0 any). It returns
// the selected index, the master descriptor to relay with, and a
// closer releasing the remote allocation (typically the protocol
// connection whose shutdown frees the tty).
type AttachFunc func(req int) (selected int, master *os.File, closer func(), err error)

// Session is one interactive local attach to a container tty: raw-mode
// stdin relayed to the remote master, master output relayed to stdout,
// window sizes kept in sync, until the escape sequence or the remote
// side ends it.
type Session struct {
	// Stdin and Stdout are the local endpoints. Stdin must be a real
	// terminal.
	Stdin  *os.File
	Stdout *os.File

	// TtyNum is the tty requested: 0 for the console, > 0 for a
	// specific auxiliary tty, < 0 for any free one.
	TtyNum int

	// Escape is the console exit character; <Escape q> ends the
	// session. Zero means Ctrl-a.
	Escape byte

	// Attach issues the remote allocation request.
	Attach AttachFunc

	// NotifyWinch, when set, tells the remote side to fan the new
	// window size out to the container's own sessions. Best effort.
	NotifyWinch func()

	// Registry is the process-wide tty registry; nil gets a private
	// one.
	Registry *Registry
}

const defaultEscape = 1 // Ctrl-a

// Run drives the session to completion. Whatever happens after the
// local terminal was switched to raw mode, its original attributes are
// restored before Run returns.
func (s *Session) Run() error {
	if s.Escape == 0 {
		s.Escape = defaultEscape
	}
	if s.Registry == nil {
		s.Registry = NewRegistry()
	}

	stdinFd := int(s.Stdin.Fd())
	stdoutFd := int(s.Stdout.Fd())

	tios, err := setupTios(stdinFd)
	if err != nil {
		return err
	}
	defer restoreTios(stdinFd, tios)

	selected, master, closer, err := s.Attach(s.TtyNum)
	if err != nil {
		return newGenericError(err, ProtocolFailure)
	}
	if closer != nil {
		defer closer()
	}
	defer master.Close()

	fmt.Fprintf(os.Stderr, "\n"+
		"Connected to tty %[1]d\n"+
		"Type <Ctrl+%[2]c q> to exit the console, "+
		"<Ctrl+%[2]c Ctrl+%[2]c> to enter Ctrl+%[2]c itself\n",
		selected, 'a'+s.Escape-1)

	if _, err := unix.Setsid(); err != nil {
		logrus.Info("already group leader")
	}

	masterFd := int(master.Fd())

	ts, err := s.Registry.InstallWinchBridge(stdinFd, masterFd)
	if err != nil {
		return err
	}
	defer s.Registry.UninstallWinchBridge(ts)
	ts.StdoutFd = stdoutFd
	ts.WinchProxy = s.NotifyWinch
	ts.esc = escapeDecoder{escape: s.Escape}

	winszCopy(stdinFd, masterFd)
	if s.NotifyWinch != nil {
		s.NotifyWinch()
	}

	loop, err := mainloop.Open()
	if err != nil {
		return newGenericError(err, ResourceExhausted)
	}
	defer loop.Close()

	if err := loop.AddHandler(ts.SigFd, ttyHandleSigwinch, ts); err != nil {
		return newSystemErrorWithCause(err, "adding SIGWINCH fd to mainloop")
	}
	if err := loop.AddHandler(stdinFd, ttyHandleStdin, ts); err != nil {
		return newSystemErrorWithCause(err, "adding stdin to mainloop")
	}
	if err := loop.AddHandler(masterFd, ttyHandleMaster, ts); err != nil {
		return newSystemErrorWithCause(err, "adding master fd to mainloop")
	}

	if err := loop.Run(-1); err != nil {
		return newSystemErrorWithCause(err, "console mainloop")
	}
	return nil
}

// ttyHandleStdin feeds one byte of local input through the escape
// detector and forwards whatever comes out to the master.
func ttyHandleStdin(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	ts := data.(*TtyState)

	var c [1]byte
	r, err := unix.Read(ts.StdinFd, c[:])
	if err != nil {
		logrus.Errorf("failed to read from stdin: %v", err)
		return mainloop.Fail
	}
	if r == 0 {
		return mainloop.Quit
	}

	forward, quit := ts.esc.next(c[0])
	if quit {
		return mainloop.Quit
	}
	if len(forward) > 0 {
		if _, err := unix.Write(ts.MasterFd, forward); err != nil {
			logrus.Errorf("failed to write to master fd %d: %v", ts.MasterFd, err)
			return mainloop.Fail
		}
	}
	return mainloop.Continue
}

// ttyHandleMaster forwards master output verbatim to the session's
// output descriptor. Read and write failures are fatal for the
// session; the master going away is how a session normally ends.
func ttyHandleMaster(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	ts := data.(*TtyState)
	buf := make([]byte, relayChunkSize)

	r, err := unix.Read(ts.MasterFd, buf)
	if err != nil || r == 0 {
		logrus.Debugf("master fd %d went away: %v", ts.MasterFd, err)
		return mainloop.Quit
	}

	w, err := unix.Write(ts.StdoutFd, buf[:r])
	if err != nil || w != r {
		logrus.Errorf("failed to write to stdout: %v", err)
		return mainloop.Fail
	}
	return mainloop.Continue
}
