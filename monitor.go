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
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/nabla-containers/conmux/command"
	"github.com/nabla-containers/conmux/libconsole"
	"github.com/nabla-containers/conmux/libconsole/configs"
	"github.com/nabla-containers/conmux/mainloop"
)

var monitorCommand = cli.Command{
	Name:  "monitor",
	Usage: "create a container's consoles and serve attach requests",
	ArgsUsage: `<container-id>

Where "<container-id>" is your name for the instance of the container.
The name you provide must be unique on your host.`,
	Description: `The monitor command allocates the primary console and the auxiliary
tty pool for a bundle, listens on the container's console socket for
attach requests, and relays console traffic until it receives SIGTERM
or SIGINT.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "bundle, b",
			Value: "",
			Usage: `path to the root of the bundle directory, defaults to the current directory`,
		},
	},
	Action: func(context *cli.Context) error {
		id := context.Args().First()
		if id == "" {
			fatal(errEmptyID)
		}

		spec, err := setupSpec(context)
		if err != nil {
			fatal(err)
		}
		conf, err := configs.ParseSpec(spec)
		if err != nil {
			fatal(err)
		}

		if err := runMonitor(context, id, conf); err != nil {
			fatal(err)
		}
		return nil
	},
}

func runMonitor(context *cli.Context, id string, conf *configs.Config) error {
	container, err := libconsole.New(id, conf, libconsole.NewRegistry())
	if err != nil {
		return err
	}
	defer container.Destroy()

	socket := consoleSocketPath(context, id)
	if err := os.MkdirAll(filepath.Dir(socket), 0700); err != nil {
		return err
	}
	server, err := command.NewServer(socket, container)
	if err != nil {
		return err
	}
	defer server.Close()
	defer os.Remove(socket)

	go func() {
		if err := server.Serve(); err != nil {
			logrus.Debugf("console server stopped: %v", err)
		}
	}()

	loop, err := mainloop.Open()
	if err != nil {
		return err
	}
	defer loop.Close()

	if err := container.MainloopAdd(loop); err != nil {
		return err
	}

	quitFd, err := installQuitSignalFd()
	if err != nil {
		return err
	}
	defer unix.Close(quitFd)
	if err := loop.AddHandler(quitFd, handleQuitSignal, nil); err != nil {
		return err
	}

	logrus.Infof("monitoring console of %q on %s", id, socket)
	return loop.Run(-1)
}

// installQuitSignalFd blocks SIGTERM and SIGINT and returns a
// descriptor that becomes readable when either arrives, so shutdown
// runs on the dispatch path like everything else.
func installQuitSignalFd() (int, error) {
	var mask unix.Sigset_t
	for _, sig := range []int{int(unix.SIGTERM), int(unix.SIGINT)} {
		mask.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return -1, err
	}
	return unix.Signalfd(-1, &mask, unix.SFD_CLOEXEC)
}

func handleQuitSignal(fd int, events uint32, data interface{}, loop *mainloop.Loop) mainloop.Action {
	buf := make([]byte, 128)
	unix.Read(fd, buf) //nolint:errcheck
	logrus.Info("shutting down")
	return mainloop.Quit
}
