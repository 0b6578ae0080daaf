//go:build rp2040 || rp2350

package spi

import (
	"machine"
	"time"

	"stampfly-hal-go/errcode"
)

// rp2Port runs exchanges on the on-chip SPI controller with a software
// chip select. The controller is reprogrammed only when the device's
// clocking differs from the last exchange.
type rp2Port struct {
	hw   *machine.SPI
	cs   machine.Pin
	base Config

	lastFreq uint32
	lastMode Mode
	haveDev  bool
}

// NewRP2Port returns the backend for hardware host 0 or 1.
func NewRP2Port(host Host) Port {
	switch host {
	case 0:
		return &rp2Port{hw: machine.SPI0}
	default:
		return &rp2Port{hw: machine.SPI1}
	}
}

func (p *rp2Port) Configure(cfg Config) error {
	p.base = cfg
	p.haveDev = false
	p.cs = machine.Pin(cfg.CSPin)
	p.cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.cs.High()
	return p.apply(DefaultFrequencyHz, Mode0)
}

func (p *rp2Port) apply(freq uint32, mode Mode) error {
	err := p.hw.Configure(machine.SPIConfig{
		Frequency: freq,
		Mode:      uint8(mode),
		SCK:       machine.Pin(p.base.SCLKPin),
		SDO:       machine.Pin(p.base.MOSIPin),
		SDI:       machine.Pin(p.base.MISOPin),
	})
	if err != nil {
		return err
	}
	p.lastFreq, p.lastMode, p.haveDev = freq, mode, true
	return nil
}

func (p *rp2Port) Exchange(dev DeviceConfig, tx, rx []byte, timeout time.Duration) error {
	if !p.haveDev || dev.FrequencyHz != p.lastFreq || dev.Mode != p.lastMode {
		if err := p.apply(dev.FrequencyHz, dev.Mode); err != nil {
			return errcode.BusError
		}
	}
	p.cs.Low()
	err := p.hw.Tx(tx, rx)
	p.cs.High()
	if err != nil {
		return errcode.BusError
	}
	return nil
}

func (p *rp2Port) Close() error {
	p.haveDev = false
	return nil
}
