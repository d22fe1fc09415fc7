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

package command

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nabla-containers/conmux/libconsole"
	"github.com/nabla-containers/conmux/libconsole/configs"
	"golang.org/x/sys/unix"
)

// startTestServer brings up a console server for a container with two
// auxiliary ttys and a console whose peer resolves to a plain file.
func startTestServer(t *testing.T) (string, *libconsole.Container) {
	t.Helper()

	dir := t.TempDir()
	conf := &configs.Config{
		Rootfs:      dir,
		ConsolePath: filepath.Join(dir, "peer"),
		TtyCount:    2,
	}
	container, err := libconsole.New("test", conf, libconsole.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create container consoles: %v", err)
	}
	t.Cleanup(container.Destroy)

	socket := filepath.Join(dir, "console.sock")
	server, err := NewServer(socket, container)
	if err != nil {
		t.Fatalf("failed to start console server: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	go server.Serve() //nolint:errcheck

	return socket, container
}

// waitFree polls until owner-free allocation of tty succeeds, proving
// the disconnect free went through.
func waitFree(t *testing.T, container *libconsole.Container, tty int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := container.AllocateTty(tty, "probe"); err == nil {
			container.FreeTty("probe")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tty %d was never freed", tty)
}

func TestConsoleRequestSpecificTty(t *testing.T) {
	socket, container := startTestServer(t)

	att, err := Console(socket, "test", 1)
	if err != nil {
		t.Fatalf("console request: %v", err)
	}
	if att.TtyNum != 1 {
		t.Fatalf("selected tty %d, want 1", att.TtyNum)
	}

	// The received descriptor is the tty's master: container output
	// written to the slave arrives on it.
	slave := container.Pool().Slot(1).Slave
	payload := []byte("tty traffic")
	if _, err := slave.Write(payload); err != nil {
		t.Fatalf("write to tty slave: %v", err)
	}
	got := make([]byte, len(payload))
	fd := int(att.Master.Fd())
	deadline := time.Now().Add(2 * time.Second)
	n := 0
	unix.SetNonblock(fd, true) //nolint:errcheck
	for n < len(payload) && time.Now().Before(deadline) {
		m, err := unix.Read(fd, got[n:])
		if m > 0 {
			n += m
		}
		if err == unix.EAGAIN {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !bytes.Equal(got[:n], payload) {
		t.Fatalf("master delivered %q, want %q", got[:n], payload)
	}

	// Closing the attachment frees the allocation.
	att.Close()
	waitFree(t, container, 1)
}

func TestConsoleRequestAnyTty(t *testing.T) {
	socket, _ := startTestServer(t)

	first, err := Console(socket, "test", -1)
	if err != nil {
		t.Fatalf("console request: %v", err)
	}
	defer first.Close()
	if first.TtyNum != 1 {
		t.Fatalf("any selected tty %d, want lowest free 1", first.TtyNum)
	}

	second, err := Console(socket, "test", -1)
	if err != nil {
		t.Fatalf("console request: %v", err)
	}
	defer second.Close()
	if second.TtyNum != 2 {
		t.Fatalf("any selected tty %d, want 2", second.TtyNum)
	}

	// Pool exhausted.
	if _, err := Console(socket, "test", -1); err == nil {
		t.Fatal("allocation on an exhausted pool succeeded")
	} else if !strings.Contains(err.Error(), libconsole.NoFreeSlot.String()) {
		t.Fatalf("expected %q in error, got %v", libconsole.NoFreeSlot, err)
	}
}

func TestConsoleRequestBusy(t *testing.T) {
	socket, _ := startTestServer(t)

	att, err := Console(socket, "test", 2)
	if err != nil {
		t.Fatalf("console request: %v", err)
	}
	defer att.Close()

	if _, err := Console(socket, "test", 2); err == nil {
		t.Fatal("allocating a busy tty succeeded")
	} else if !strings.Contains(err.Error(), libconsole.AllocationBusy.String()) {
		t.Fatalf("expected %q in error, got %v", libconsole.AllocationBusy, err)
	}
}

func TestConsoleRequestProxy(t *testing.T) {
	socket, container := startTestServer(t)

	att, err := Console(socket, "test", 0)
	if err != nil {
		t.Fatalf("console request: %v", err)
	}
	if att.TtyNum != 0 {
		t.Fatalf("selected tty %d, want console 0", att.TtyNum)
	}

	// A second console attach is refused while the proxy is held.
	if _, err := Console(socket, "test", 0); err == nil {
		t.Fatal("double console attach succeeded")
	} else if !strings.Contains(err.Error(), libconsole.AllocationBusy.String()) {
		t.Fatalf("expected %q in error, got %v", libconsole.AllocationBusy, err)
	}

	// Dropping the connection frees the proxy for the next client.
	att.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := container.AllocateTty(0, "probe"); err == nil {
			container.FreeTty("probe")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("console proxy never freed after disconnect")
}

func TestNotifyWinch(t *testing.T) {
	socket, _ := startTestServer(t)

	// Fire and forget; nothing to observe beyond "does not fail or
	// wedge the server".
	if err := NotifyWinch(socket, "test"); err != nil {
		t.Fatalf("winch notify: %v", err)
	}
	if _, err := Console(socket, "test", 1); err != nil {
		t.Fatalf("server wedged after winch notify: %v", err)
	}
}
