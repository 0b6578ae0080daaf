//go:build rp2040 || rp2350

package gpio

import (
	"machine"
	"sync/atomic"
	"time"

	"stampfly-hal-go/hal/registry"
)

// rp2Backend drives the on-chip pads. ISR callbacks push events into a
// buffered channel with a non-blocking send; a worker goroutine feeds
// the pins registry. Events that arrive while the channel is full are
// counted and dropped rather than blocking the ISR.
type rp2Backend struct {
	events  chan registry.Event
	dropped atomic.Uint32
	done    chan struct{}
}

// NewRP2Backend starts the dispatch worker and returns the backend.
func NewRP2Backend() Backend {
	b := &rp2Backend{
		events: make(chan registry.Event, 64),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *rp2Backend) loop() {
	for {
		select {
		case ev := <-b.events:
			registry.Pins.Dispatch(ev)
		case <-b.done:
			return
		}
	}
}

// Dropped reports how many edge events were lost to a full queue.
func (b *rp2Backend) Dropped() uint32 { return b.dropped.Load() }

func (b *rp2Backend) ConfigurePin(cfg PinConfig) error {
	p := machine.Pin(cfg.Pin)
	mode := machine.PinInput
	switch cfg.Direction {
	case Output, OutputOpenDrain:
		mode = machine.PinOutput
	default:
		switch cfg.Pull {
		case PullUp:
			mode = machine.PinInputPullup
		case PullDown:
			mode = machine.PinInputPulldown
		}
	}
	p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (b *rp2Backend) SetLevel(pin uint8, level bool) error {
	machine.Pin(pin).Set(level)
	return nil
}

func (b *rp2Backend) Level(pin uint8) (bool, error) {
	return machine.Pin(pin).Get(), nil
}

func (b *rp2Backend) EnableIRQ(pin uint8, edge Edge) error {
	var change machine.PinChange
	switch edge {
	case EdgeRising:
		change = machine.PinRising
	case EdgeFalling:
		change = machine.PinFalling
	case EdgeBoth:
		change = machine.PinToggle
	default:
		return nil
	}
	return machine.Pin(pin).SetInterrupt(change, func(p machine.Pin) {
		ev := registry.Event{
			ID:    uint32(p),
			Level: p.Get(),
			TsUS:  time.Now().UnixMicro(),
		}
		select {
		case b.events <- ev:
		default:
			b.dropped.Add(1)
		}
	})
}

func (b *rp2Backend) DisableIRQ(pin uint8) error {
	var zero machine.PinChange
	return machine.Pin(pin).SetInterrupt(zero, nil)
}

func (b *rp2Backend) Close() error {
	close(b.done)
	return nil
}
