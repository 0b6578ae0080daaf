// Package gpio drives digital pins: direction, pulls, optional logic
// inversion, and edge interrupts delivered through the pins registry.
//
// Inversion is applied at the driver boundary. Callers and interrupt
// handlers always see logical levels; only the backend sees wire levels.
package gpio

import (
	"sync"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
	"stampfly-hal-go/hal/registry"
)

const MaxPin = 63

// Direction configures a pin as input or output.
type Direction uint8

const (
	Input Direction = iota
	Output
	OutputOpenDrain
)

// Pull selects the internal resistor.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects which transitions raise an interrupt.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// PinConfig fully describes one pin.
type PinConfig struct {
	Pin       uint8
	Direction Direction
	Pull      Pull
	Edge      Edge
	Invert    bool
}

// InterruptHandler receives the pin, the logical level sampled at entry,
// and the event timestamp in microseconds. It runs on the dispatch
// goroutine and must not block.
type InterruptHandler func(pin uint8, level bool, tsUS int64)

// Backend is the hardware port. Level and SetLevel speak wire levels;
// edge selection for EnableIRQ is in wire terms too.
type Backend interface {
	ConfigurePin(cfg PinConfig) error
	SetLevel(pin uint8, level bool) error
	Level(pin uint8) (bool, error)
	EnableIRQ(pin uint8, edge Edge) error
	DisableIRQ(pin uint8) error
	Close() error
}

// binding is the registry owner for one interrupt registration. It is
// immutable after SetInterrupt publishes it, so a dispatch that loaded
// it just before DisableInterrupt still sees a complete binding.
type binding struct {
	pin     uint8
	invert  bool
	handler InterruptHandler
}

type pinState struct {
	cfg   PinConfig
	bound *binding // nil when no interrupt is registered
}

// Driver owns the pin bank. Interrupt delivery goes backend ISR ->
// registry.Pins.Dispatch -> trampoline -> user handler; the trampoline
// itself takes no locks.
type Driver struct {
	life *lifecycle.Machine

	mu   sync.Mutex
	back Backend
	pins map[uint8]*pinState
}

func New(b Backend) *Driver {
	return &Driver{
		life: lifecycle.New("GPIO"),
		back: b,
		pins: map[uint8]*pinState{},
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

func (d *Driver) Initialize() error {
	if err := d.life.BeginInit(); err != nil {
		return err
	}
	return d.life.FinishInit(nil)
}

// Configure replays every known pin configuration into the backend.
// Used after Initialize and again when recovering the bank.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ps := range d.pins {
		if err := d.back.ConfigurePin(ps.cfg); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
		}
	}
	return nil
}

func (d *Driver) Start() error { return d.life.Start() }

// Stop suspends the bank and masks every interrupt it owns. Handlers
// stay bound so a later Start resumes delivery once re-enabled.
func (d *Driver) Stop() error {
	if err := d.life.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, ps := range d.pins {
		if ps.bound != nil {
			if err := d.back.DisableIRQ(pin); err != nil {
				d.life.Log().Warnf("mask irq pin %d: %v", pin, err)
			}
		}
	}
	return nil
}

// Reset unbinds every interrupt and forgets all pin configuration.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, ps := range d.pins {
		if ps.bound != nil {
			_ = d.back.DisableIRQ(pin)
			registry.Pins.Unbind(uint32(pin))
		}
		delete(d.pins, pin)
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, ps := range d.pins {
		if ps.bound != nil {
			_ = d.back.DisableIRQ(pin)
			registry.Pins.Unbind(uint32(pin))
		}
		delete(d.pins, pin)
	}
	return d.back.Close()
}

// ConfigurePin programs a pin and remembers its configuration for
// replay. Reconfiguring a pin with a bound interrupt keeps the binding.
func (d *Driver) ConfigurePin(cfg PinConfig) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if cfg.Pin > MaxPin {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.back.ConfigurePin(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure pin", err)
	}
	ps := d.pins[cfg.Pin]
	if ps == nil {
		ps = &pinState{}
		d.pins[cfg.Pin] = ps
	}
	ps.cfg = cfg
	return nil
}

func (d *Driver) PinConfigured(pin uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins[pin] != nil
}

// DigitalWrite drives an output pin to the logical level. Writing a pin
// configured as input is a state error, not a silent no-op.
func (d *Driver) DigitalWrite(pin uint8, level bool) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	d.mu.Lock()
	ps := d.pins[pin]
	if ps == nil {
		d.mu.Unlock()
		return errcode.NotFound
	}
	if ps.cfg.Direction == Input {
		d.mu.Unlock()
		return errcode.Wrap(errcode.InvalidState, d.life.ComponentName(), "write", nil)
	}
	wire := level != ps.cfg.Invert
	d.mu.Unlock()
	if err := d.back.SetLevel(pin, wire); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "write", err)
	}
	return nil
}

// DigitalRead samples the live wire level and returns it in logical
// terms. Works for outputs too: it reports what the pin actually reads.
func (d *Driver) DigitalRead(pin uint8) (bool, error) {
	if err := d.life.RequireRunning(); err != nil {
		return false, err
	}
	d.mu.Lock()
	ps := d.pins[pin]
	d.mu.Unlock()
	if ps == nil {
		return false, errcode.NotFound
	}
	wire, err := d.back.Level(pin)
	if err != nil {
		return false, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "read", err)
	}
	return wire != ps.cfg.Invert, nil
}

// SetDirection reprograms only the pin's direction.
func (d *Driver) SetDirection(pin uint8, dir Direction) error {
	return d.amend(pin, func(cfg *PinConfig) { cfg.Direction = dir })
}

// SetPull reprograms only the pin's pull resistor.
func (d *Driver) SetPull(pin uint8, pull Pull) error {
	return d.amend(pin, func(cfg *PinConfig) { cfg.Pull = pull })
}

func (d *Driver) amend(pin uint8, mut func(*PinConfig)) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ps := d.pins[pin]
	if ps == nil {
		return errcode.NotFound
	}
	cfg := ps.cfg
	mut(&cfg)
	if err := d.back.ConfigurePin(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "reconfigure", err)
	}
	ps.cfg = cfg
	return nil
}

// trampoline runs on the dispatch path. The owner is the immutable
// binding published at SetInterrupt time, so no lookup or lock is
// needed here and there is nothing to race with DisableInterrupt.
func trampoline(owner any, ev registry.Event) {
	b := owner.(*binding)
	b.handler(b.pin, ev.Level != b.invert, ev.TsUS)
}

// SetInterrupt binds a handler for the pin's configured edge. The pin
// must already be configured; a second bind without DisableInterrupt in
// between fails with AlreadyBound.
func (d *Driver) SetInterrupt(pin uint8, handler InterruptHandler) error {
	if handler == nil {
		return errcode.InvalidArgument
	}
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ps := d.pins[pin]
	if ps == nil {
		return errcode.NotFound
	}
	if ps.cfg.Edge == EdgeNone {
		return errcode.Wrap(errcode.InvalidArgument, d.life.ComponentName(), "set interrupt", nil)
	}
	b := &binding{pin: pin, invert: ps.cfg.Invert, handler: handler}
	if err := registry.Pins.Bind(uint32(pin), b, trampoline); err != nil {
		return err
	}
	if err := d.back.EnableIRQ(pin, ps.cfg.Edge); err != nil {
		registry.Pins.Unbind(uint32(pin))
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set interrupt", err)
	}
	ps.bound = b
	return nil
}

// DisableInterrupt masks and unbinds the pin's interrupt. Safe to call
// when none is bound. A dispatch already in flight still runs against
// the old binding; it is never left with a nil handler.
func (d *Driver) DisableInterrupt(pin uint8) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ps := d.pins[pin]
	if ps == nil || ps.bound == nil {
		return nil
	}
	if err := d.back.DisableIRQ(pin); err != nil {
		d.life.Log().Warnf("mask irq pin %d: %v", pin, err)
	}
	registry.Pins.Unbind(uint32(pin))
	ps.bound = nil
	return nil
}
