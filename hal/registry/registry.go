// Package registry is the process-wide mapping from hardware ids (pin,
// timer, interrupt) to the owning driver instance and its handler. It is
// the system's single piece of global mutable state: Bind and Unbind are
// the only mutators, and Dispatch — the interrupt-context entry point —
// takes no locks and performs no allocation.
package registry

import (
	"sync/atomic"

	"stampfly-hal-go/errcode"
)

// Event carries the minimum context a handler needs, computed from the
// hardware at dispatch time, never from cached state.
type Event struct {
	ID    uint32
	Level bool  // logical pin level (inversion already applied), where applicable
	TsUS  int64 // event timestamp in microseconds, 0 when the source has none
}

// Handler runs synchronously in interrupt context. It must not block,
// allocate, or take thread-domain locks; fire-and-forget, no retries.
type Handler func(owner any, ev Event)

type binding struct {
	owner   any
	handler Handler
}

// Table is a bounded dispatch arena indexed directly by hardware id.
// Slot count is fixed at construction; ids at or past the bound fail Bind.
type Table struct {
	name  string
	slots []atomic.Pointer[binding]
}

func NewTable(name string, size int) *Table {
	return &Table{name: name, slots: make([]atomic.Pointer[binding], size)}
}

func (t *Table) Name() string { return t.name }
func (t *Table) Size() int    { return len(t.slots) }

// Bind claims id for owner. One id binds to at most one instance;
// re-binding requires an explicit Unbind first.
func (t *Table) Bind(id uint32, owner any, h Handler) error {
	if int(id) >= len(t.slots) || h == nil {
		return errcode.InvalidArgument
	}
	b := &binding{owner: owner, handler: h}
	if !t.slots[id].CompareAndSwap(nil, b) {
		return errcode.AlreadyBound
	}
	return nil
}

// Unbind releases id. Idempotent: unbinding an unbound id is a no-op.
// Every path that disables a pin/timer/interrupt must call this, or a
// stale binding would dispatch into a dead instance.
func (t *Table) Unbind(id uint32) {
	if int(id) >= len(t.slots) {
		return
	}
	t.slots[id].Store(nil)
}

// Bound reports whether id currently has a binding.
func (t *Table) Bound(id uint32) bool {
	return int(id) < len(t.slots) && t.slots[id].Load() != nil
}

// Owner returns the bound instance for diagnostics, nil if unbound.
func (t *Table) Owner(id uint32) any {
	if int(id) >= len(t.slots) {
		return nil
	}
	if b := t.slots[id].Load(); b != nil {
		return b.owner
	}
	return nil
}

// Dispatch is the ISR entry point: O(1) lookup, silent return when the id
// is unbound (there is no caller to report to), synchronous handler
// invocation otherwise.
func (t *Table) Dispatch(ev Event) {
	if int(ev.ID) >= len(t.slots) {
		return
	}
	b := t.slots[ev.ID].Load()
	if b == nil {
		return
	}
	b.handler(b.owner, ev)
}

// Hardware id spaces of the target board. Sizing is fixed per target:
// 64 GPIO slots cover the ESP32-S3's 48 pins, 32 each for timer and
// interrupt ids.
var (
	Pins       = NewTable("pins", 64)
	Timers     = NewTable("timers", 32)
	Interrupts = NewTable("interrupts", 32)
)
