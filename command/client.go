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

package command

import (
	"net"
	"os"

	"github.com/pkg/errors"
)

// Attachment is a successful console allocation held by this process.
// Closing it drops the connection, which is what tells the remote side
// to free the tty.
type Attachment struct {
	// TtyNum is the index that was actually selected.
	TtyNum int

	// Master is the received master descriptor (the proxy master for
	// the console, the real master for an auxiliary tty).
	Master *os.File

	conn *net.UnixConn
}

// Close releases the attachment: the master descriptor first, then the
// connection whose shutdown frees the remote allocation.
func (a *Attachment) Close() {
	if a.Master != nil {
		a.Master.Close()
		a.Master = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

func dial(socketPath string) (*net.UnixConn, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", socketPath)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %q", socketPath)
	}
	return conn, nil
}

// Console requests a tty from the container supervisor listening on
// socketPath. ttyNum 0 asks for the primary console, > 0 for that
// specific auxiliary tty, < 0 for any free one.
func Console(socketPath, containerID string, ttyNum int) (*Attachment, error) {
	conn, err := dial(socketPath)
	if err != nil {
		return nil, err
	}

	req := Request{
		Type:        ReqConsole,
		ContainerID: containerID,
		TtyNum:      ttyNum,
	}
	if err := writeMsg(conn, &req); err != nil {
		conn.Close()
		return nil, err
	}

	var resp Response
	fds, err := readMsg(conn, &resp)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to read console response")
	}
	if err := resp.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	if len(fds) != 1 {
		conn.Close()
		return nil, errors.Errorf("expected one master descriptor, got %d", len(fds))
	}

	return &Attachment{
		TtyNum: resp.TtyNum,
		Master: os.NewFile(uintptr(fds[0]), "console-master"),
		conn:   conn,
	}, nil
}

// NotifyWinch tells the supervisor to fan the current window sizes out
// to every session of the container. Fire and forget; the returned
// error is informational, callers are expected to ignore it.
func NotifyWinch(socketPath, containerID string) error {
	conn, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := Request{
		Type:        ReqWinchNotify,
		ContainerID: containerID,
	}
	return writeMsg(conn, &req)
}
