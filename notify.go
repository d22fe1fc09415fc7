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
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nabla-containers/conmux/command"
)

var notifyWinchCommand = cli.Command{
	Name:  "notify-winch",
	Usage: "tell a container to refresh the window size of all its tty sessions",
	ArgsUsage: `<container-id>

Where "<container-id>" is the name of the container whose console
server is running.`,
	Action: func(context *cli.Context) error {
		id := context.Args().First()
		if id == "" {
			fatal(errEmptyID)
		}
		// Fire and forget; a container that isn't listening is not an
		// error worth reporting.
		if err := command.NotifyWinch(consoleSocketPath(context, id), id); err != nil {
			logrus.Debugf("winch notify failed: %v", err)
		}
		return nil
	},
}
