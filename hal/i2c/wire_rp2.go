//go:build rp2040 || rp2350

package i2c

import (
	"machine"
	"time"

	"stampfly-hal-go/errcode"
)

// rp2Wire executes frames on the on-chip I2C controller. The machine
// API exposes combined write-then-read transactions, so the frame is
// collapsed to its address, write bytes and read buffer before hitting
// the hardware.
type rp2Wire struct {
	hw *machine.I2C
}

// NewRP2Wire returns the backend for hardware port 0 or 1.
func NewRP2Wire(port Port) Wire {
	switch port {
	case 0:
		return &rp2Wire{hw: machine.I2C0}
	default:
		return &rp2Wire{hw: machine.I2C1}
	}
}

func (w *rp2Wire) Configure(cfg Config) error {
	sda := machine.Pin(cfg.SDAPin)
	scl := machine.Pin(cfg.SCLPin)
	sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
	scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
	return w.hw.Configure(machine.I2CConfig{
		SDA:       sda,
		SCL:       scl,
		Frequency: cfg.FrequencyHz,
	})
}

func (w *rp2Wire) Exchange(frame []Seg, timeout time.Duration) error {
	var addr byte
	var wbuf []byte
	var rbuf []byte
	for i := range frame {
		s := &frame[i]
		switch s.Kind {
		case SegAddress:
			addr = s.Addr
		case SegWrite:
			wbuf = append(wbuf, s.W...)
		case SegRead:
			rbuf = s.R
		}
	}
	if err := w.hw.Tx(uint16(addr), wbuf, rbuf); err != nil {
		return errcode.BusError
	}
	return nil
}

func (w *rp2Wire) Close() error { return nil }
