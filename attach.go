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

package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nabla-containers/conmux/command"
	"github.com/nabla-containers/conmux/libconsole"
)

var attachCommand = cli.Command{
	Name:  "attach",
	Usage: "attach the current terminal to a container console or tty",
	ArgsUsage: `<container-id>

Where "<container-id>" is the name of the container whose console
server is running (see "conmux monitor").`,
	Description: `The attach command connects the current terminal to the container's
primary console, or to one of its auxiliary ttys. The session ends when
the container's side goes away or when the escape sequence <Ctrl+a q>
is typed. <Ctrl+a Ctrl+a> sends a literal Ctrl+a.`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "tty, t",
			Value: 0,
			Usage: "tty to attach to: 0 for the console, N for tty N, -1 for any free tty",
		},
		cli.StringFlag{
			Name:  "escape, e",
			Value: "a",
			Usage: "escape character: <Ctrl+escape q> ends the session",
		},
	},
	Action: func(context *cli.Context) error {
		id := context.Args().First()
		if id == "" {
			fatal(errEmptyID)
		}

		escape, err := parseEscape(context.String("escape"))
		if err != nil {
			fatal(err)
		}

		socket := consoleSocketPath(context, id)

		session := &libconsole.Session{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			TtyNum: context.Int("tty"),
			Escape: escape,
			Attach: func(req int) (int, *os.File, func(), error) {
				att, err := command.Console(socket, id, req)
				if err != nil {
					return 0, nil, nil, err
				}
				return att.TtyNum, att.Master, att.Close, nil
			},
			NotifyWinch: func() {
				if err := command.NotifyWinch(socket, id); err != nil {
					logrus.Debugf("winch notify failed: %v", err)
				}
			},
			Registry: libconsole.NewRegistry(),
		}

		if err := session.Run(); err != nil {
			fatal(err)
		}
		return nil
	},
}
