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

package libconsole

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// setupTios switches fd into raw mode so that bytes pass through
// unmodified; echo is done by the master proxying. Returns the previous
// terminal state for restoreTios.
func setupTios(fd int) (*term.State, error) {
	if !term.IsTerminal(fd) {
		return nil, newGenericErrorf(NotATty, "fd %d is not a tty", fd)
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, newSystemErrorWithCausef(err, "setting fd %d to raw mode", fd)
	}
	return state, nil
}

// restoreTios puts fd back into the state saved by setupTios. Failure to
// restore is logged but never escalated; the rest of teardown must
// proceed regardless.
func restoreTios(fd int, state *term.State) {
	if state == nil {
		return
	}
	if err := term.Restore(fd, state); err != nil {
		logrus.Warnf("failed to restore terminal settings on fd %d: %v", fd, err)
	}
}
