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

import "testing"

func errCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	le, ok := err.(Error)
	if !ok {
		t.Fatalf("error %v does not carry a code", err)
	}
	return le.Code()
}

func busySlots(p *TtyPool) map[int]Owner {
	busy := make(map[int]Owner)
	for i := 1; i <= p.Count(); i++ {
		if slot := p.Slot(i); slot.Busy != NoOwner {
			busy[i] = slot.Busy
		}
	}
	return busy
}

func TestPoolAllocateSpecific(t *testing.T) {
	p := NewTtyPool(3)

	idx, _, err := p.Allocate(2, "owner-a")
	if err != nil {
		t.Fatalf("allocate tty 2: %v", err)
	}
	if idx != 2 {
		t.Fatalf("allocate tty 2 selected %d", idx)
	}

	// Same slot again must fail busy and leave the pool unchanged.
	before := busySlots(p)
	if _, _, err := p.Allocate(2, "owner-b"); errCode(t, err) != AllocationBusy {
		t.Fatalf("expected AllocationBusy, got %v", err)
	}
	after := busySlots(p)
	if len(before) != len(after) || after[2] != "owner-a" {
		t.Fatalf("pool changed on failed allocation: %v -> %v", before, after)
	}
}

func TestPoolAllocateOutOfRange(t *testing.T) {
	p := NewTtyPool(3)
	if _, _, err := p.Allocate(4, "owner-a"); errCode(t, err) != NoFreeSlot {
		t.Fatalf("expected NoFreeSlot for tty 4 of 3, got %v", err)
	}
	if len(busySlots(p)) != 0 {
		t.Fatal("pool changed on out-of-range allocation")
	}
}

func TestPoolAllocateAnyLowestFirst(t *testing.T) {
	p := NewTtyPool(3)

	if _, _, err := p.Allocate(1, "owner-a"); err != nil {
		t.Fatalf("allocate tty 1: %v", err)
	}
	idx, _, err := p.Allocate(-1, "owner-b")
	if err != nil {
		t.Fatalf("allocate any: %v", err)
	}
	if idx != 2 {
		t.Fatalf("any allocation selected %d, want lowest free 2", idx)
	}

	if _, _, err := p.Allocate(-1, "owner-c"); err != nil {
		t.Fatalf("allocate any: %v", err)
	}
	if _, _, err := p.Allocate(-1, "owner-d"); errCode(t, err) != NoFreeSlot {
		t.Fatalf("expected NoFreeSlot on exhausted pool, got %v", err)
	}
}

func TestPoolAllocateEmptyPool(t *testing.T) {
	p := NewTtyPool(0)
	if _, _, err := p.Allocate(-1, "owner-a"); errCode(t, err) != NoFreeSlot {
		t.Fatalf("expected NoFreeSlot, got %v", err)
	}
	if _, _, err := p.Allocate(1, "owner-a"); errCode(t, err) != NoFreeSlot {
		t.Fatalf("expected NoFreeSlot, got %v", err)
	}
}

func TestPoolFree(t *testing.T) {
	p := NewTtyPool(3)
	p.Allocate(1, "owner-a") //nolint:errcheck
	p.Allocate(2, "owner-a") //nolint:errcheck
	p.Allocate(3, "owner-b") //nolint:errcheck

	// Clears every slot of the owner, and only those.
	p.Free("owner-a")
	if got := busySlots(p); len(got) != 1 || got[3] != "owner-b" {
		t.Fatalf("free owner-a left %v", got)
	}

	// Idempotent: freeing again, or freeing a token that owns
	// nothing, changes nothing.
	p.Free("owner-a")
	p.Free("owner-unknown")
	p.Free(NoOwner)
	if got := busySlots(p); len(got) != 1 || got[3] != "owner-b" {
		t.Fatalf("no-op frees changed the pool: %v", got)
	}

	// The freed slot is allocatable again.
	if idx, _, err := p.Allocate(-1, "owner-c"); err != nil || idx != 1 {
		t.Fatalf("reallocation after free got (%d, %v)", idx, err)
	}
}
