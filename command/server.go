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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nabla-containers/conmux/libconsole"
)

// Server serves console allocation requests for one container. Every
// accepted connection gets its own owner token; whatever that token
// holds is freed when the connection goes away, however it goes away.
type Server struct {
	container *libconsole.Container
	listener  *net.UnixListener
}

// NewServer listens on socketPath for requests against container.
func NewServer(socketPath string, container *libconsole.Container) (*Server, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		container: container,
		listener:  listener,
	}, nil
}

// Serve accepts and dispatches connections until Close. Each
// connection is handled on its own goroutine; all allocation state is
// behind the container lock.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn *net.UnixConn) {
	owner := libconsole.Owner(uuid.New().String())
	defer conn.Close()
	defer s.container.FreeTty(owner)

	for {
		var req Request
		if _, err := readMsg(conn, &req); err != nil {
			// EOF or reset: the client is gone, the deferred free
			// releases whatever it held.
			logrus.Debugf("connection for owner %s closed: %v", owner, err)
			return
		}

		switch req.Type {
		case ReqConsole:
			s.handleConsole(conn, &req, owner)
		case ReqWinchNotify:
			s.container.BroadcastWinch()
		default:
			logrus.Warnf("unknown request type %q", req.Type)
			return
		}
	}
}

func (s *Server) handleConsole(conn *net.UnixConn, req *Request, owner libconsole.Owner) {
	selected, master, err := s.container.AllocateTty(req.TtyNum, owner)
	if err != nil {
		logrus.Warnf("console allocation (tty %d) for %s failed: %v", req.TtyNum, owner, err)
		resp := Response{Error: err.Error()}
		if le, ok := err.(libconsole.Error); ok {
			resp.Code = int(le.Code())
		}
		if werr := writeMsg(conn, &resp); werr != nil {
			logrus.Warnf("failed to send error response: %v", werr)
		}
		return
	}

	resp := Response{TtyNum: selected}
	if err := writeMsg(conn, &resp, int(master.Fd())); err != nil {
		logrus.Warnf("failed to send console response: %v", err)
		s.container.FreeTty(owner)
	}
}

// Addr returns the socket path the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting. Live connections finish on their own.
func (s *Server) Close() error {
	return s.listener.Close()
}
