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

// Package command implements the cross-process console allocation
// protocol: a unix-socket request/response exchange that hands a tty's
// master descriptor to an attach client via SCM_RIGHTS, and a
// fire-and-forget window-change notification. A tty stays allocated
// for as long as the requesting connection is open; the remote side
// closing the socket is what frees it.
package command

import (
	"encoding/json"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nabla-containers/conmux/libconsole"
)

// Request kinds.
const (
	// ReqConsole asks for a tty. TtyNum 0 means the primary console,
	// > 0 a specific auxiliary tty, < 0 any free one.
	ReqConsole = "console"
	// ReqWinchNotify triggers the container's registry-wide resize
	// broadcast. It has no response.
	ReqWinchNotify = "winch"
)

// Request is one client request.
type Request struct {
	Type        string `json:"type"`
	ContainerID string `json:"container_id"`
	TtyNum      int    `json:"tty_num,omitempty"`
}

// Response answers a ReqConsole request. On success the selected tty's
// master descriptor rides along as ancillary data.
type Response struct {
	TtyNum int    `json:"tty_num"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Err converts an error response back into an error.
func (r *Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.Errorf("%s: %s", libconsole.ErrorCode(r.Code), r.Error)
}

// maxMsgSize bounds one protocol message. Requests and responses are
// small JSON objects; a message is always sent in a single write so a
// single read returns it whole.
const maxMsgSize = 4096

// writeMsg marshals v and sends it, with fds attached as SCM_RIGHTS
// when given.
func writeMsg(conn *net.UnixConn, v interface{}, fds ...int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if _, _, err := conn.WriteMsgUnix(b, oob, nil); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

// readMsg receives one message into v and returns any descriptors that
// rode along.
func readMsg(conn *net.UnixConn, v interface{}) ([]int, error) {
	buf := make([]byte, maxMsgSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("connection closed")
	}
	if err := json.Unmarshal(buf[:n], v); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse control message")
		}
		for _, cmsg := range cmsgs {
			got, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}
	return fds, nil
}
