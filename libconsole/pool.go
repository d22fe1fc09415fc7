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
	"os"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Owner identifies the connection that holds a console or tty. The
// zero value means free. Frees are matched by equality, never by
// identity.
type Owner string

// NoOwner is the free owner token.
const NoOwner Owner = ""

// TtySlot is one auxiliary tty of a container.
type TtySlot struct {
	Master *os.File
	Slave  *os.File
	Name   string
	Busy   Owner
}

// TtyPool is the fixed-size table of a container's auxiliary ttys,
// indexed 1..Count(). The pool itself does no locking; callers
// serialize through the container lock.
type TtyPool struct {
	slots []TtySlot
}

// NewTtyPool returns a pool of n empty slots. Create opens the pty
// pairs.
func NewTtyPool(n int) *TtyPool {
	return &TtyPool{slots: make([]TtySlot, n)}
}

// Create opens a pty pair for every slot. On failure every pair opened
// so far is closed again and the pool is left empty.
func (p *TtyPool) Create() error {
	for i := range p.slots {
		master, slave, err := openPty()
		if err != nil {
			p.Close()
			return newGenericError(err, ResourceExhausted)
		}
		unix.CloseOnExec(int(master.Fd()))
		unix.CloseOnExec(int(slave.Fd()))
		p.slots[i] = TtySlot{
			Master: master,
			Slave:  slave,
			Name:   slave.Name(),
		}
		logrus.Debugf("allocated tty %d: %s", i+1, slave.Name())
	}
	return nil
}

// Count returns the number of auxiliary slots.
func (p *TtyPool) Count() int {
	return len(p.slots)
}

// Slot returns the 1-based slot i, or nil when out of range.
func (p *TtyPool) Slot(i int) *TtySlot {
	if i < 1 || i > len(p.slots) {
		return nil
	}
	return &p.slots[i-1]
}

// Allocate reserves an auxiliary tty for owner and returns its index
// and master descriptor. req > 0 requests that specific tty; req < 0
// requests the lowest-numbered free one. The console (req == 0) is not
// the pool's business, see Container.AllocateTty. The pool is
// unchanged when an error is returned.
func (p *TtyPool) Allocate(req int, owner Owner) (int, *os.File, error) {
	if req == 0 {
		return 0, nil, newGenericErrorf(SystemError, "tty 0 is the console, not a pool slot")
	}

	if req > 0 {
		if req > len(p.slots) {
			return 0, nil, newGenericErrorf(NoFreeSlot, "tty %d requested but pool has %d", req, len(p.slots))
		}
		slot := &p.slots[req-1]
		if slot.Busy != NoOwner {
			return 0, nil, newGenericErrorf(AllocationBusy, "tty %d already in use", req)
		}
		slot.Busy = owner
		return req, slot.Master, nil
	}

	// Search for the next available tty, lowest index first.
	for i := range p.slots {
		if p.slots[i].Busy == NoOwner {
			p.slots[i].Busy = owner
			return i + 1, p.slots[i].Master, nil
		}
	}
	return 0, nil, newGenericErrorf(NoFreeSlot, "no free tty")
}

// Free releases every slot held by owner. Freeing an owner that holds
// nothing, or freeing twice, is a no-op.
func (p *TtyPool) Free(owner Owner) {
	if owner == NoOwner {
		return
	}
	for i := range p.slots {
		if p.slots[i].Busy == owner {
			p.slots[i].Busy = NoOwner
		}
	}
}

// Close closes every pty pair and empties the pool.
func (p *TtyPool) Close() {
	for i := range p.slots {
		if p.slots[i].Master != nil {
			p.slots[i].Master.Close()
		}
		if p.slots[i].Slave != nil {
			p.slots[i].Slave.Close()
		}
		p.slots[i] = TtySlot{}
	}
}

// openPty is a seam for tests that exercise setup failure.
var openPty = pty.Open
