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
	"testing"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// openTestPty opens a pty pair that is closed with the test.
func openTestPty(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	if err != nil {
		t.Fatalf("failed to open pty: %v", err)
	}
	t.Cleanup(func() {
		master.Close()
		slave.Close()
	})
	return master, slave
}

func TestWinchBridgeInstallUninstall(t *testing.T) {
	reg := NewRegistry()
	srcMaster, srcSlave := openTestPty(t)
	_ = srcMaster
	dstMaster, _ := openTestPty(t)

	ts, err := reg.InstallWinchBridge(int(srcSlave.Fd()), int(dstMaster.Fd()))
	if err != nil {
		t.Fatalf("install winch bridge: %v", err)
	}
	if ts.SigFd < 0 {
		t.Fatal("bridge has no signal descriptor")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", reg.Len())
	}

	reg.UninstallWinchBridge(ts)
	if reg.Len() != 0 {
		t.Fatalf("registry has %d sessions after uninstall, want 0", reg.Len())
	}
	if ts.SigFd != -1 {
		t.Fatal("signal descriptor survived uninstall")
	}
}

func TestWinchBridgeInstallRollback(t *testing.T) {
	oldSignalFd := signalFd
	signalFd = func(mask *unix.Sigset_t) (int, error) {
		return -1, errors.New("injected signalfd failure")
	}
	defer func() { signalFd = oldSignalFd }()

	reg := NewRegistry()
	_, srcSlave := openTestPty(t)
	dstMaster, _ := openTestPty(t)

	before := countFds(t)
	_, err := reg.InstallWinchBridge(int(srcSlave.Fd()), int(dstMaster.Fd()))
	if errCode(t, err) != ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("failed install left a session in the registry")
	}
	if after := countFds(t); after != before {
		t.Fatalf("failed install leaked descriptors: %d -> %d", before, after)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	const sessions = 3

	reg := NewRegistry()

	srcMaster, srcSlave := openTestPty(t)
	want := pty.Winsize{Rows: 24, Cols: 80}
	if err := pty.Setsize(srcMaster, &want); err != nil {
		t.Fatalf("failed to set source size: %v", err)
	}

	var masters []*os.File
	for i := 0; i < sessions; i++ {
		dstMaster, _ := openTestPty(t)
		ts, err := reg.InstallWinchBridge(int(srcSlave.Fd()), int(dstMaster.Fd()))
		if err != nil {
			t.Fatalf("install bridge %d: %v", i, err)
		}
		defer reg.UninstallWinchBridge(ts)
		masters = append(masters, dstMaster)
	}

	reg.BroadcastWinch()

	// Every registered session's master got the size, not just one.
	for i, m := range masters {
		wsz, err := unix.IoctlGetWinsize(int(m.Fd()), unix.TIOCGWINSZ)
		if err != nil {
			t.Fatalf("get winsize of master %d: %v", i, err)
		}
		if wsz.Row != want.Rows || wsz.Col != want.Cols {
			t.Fatalf("master %d has size %dx%d, want %dx%d", i, wsz.Col, wsz.Row, want.Cols, want.Rows)
		}
	}
}

func TestWinszCopyFromNonTty(t *testing.T) {
	dstMaster, _ := openTestPty(t)
	want := pty.Winsize{Rows: 11, Cols: 42}
	if err := pty.Setsize(dstMaster, &want); err != nil {
		t.Fatalf("failed to set size: %v", err)
	}

	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// A non-terminal source must leave the destination alone.
	winszCopy(int(f.Fd()), int(dstMaster.Fd()))

	wsz, err := unix.IoctlGetWinsize(int(dstMaster.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		t.Fatal(err)
	}
	if wsz.Row != want.Rows || wsz.Col != want.Cols {
		t.Fatalf("size changed to %dx%d", wsz.Col, wsz.Row)
	}
}
