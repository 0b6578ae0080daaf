// Package simhw is a simulated board: in-memory backends for every
// driver, wired into a Board that brings the whole stack up without
// hardware. Used by halcheck and by integration tests.
package simhw

import (
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/adc"
	"stampfly-hal-go/hal/gpio"
	"stampfly-hal-go/hal/i2c"
	"stampfly-hal-go/hal/intr"
	"stampfly-hal-go/hal/pwm"
	"stampfly-hal-go/hal/registry"
	"stampfly-hal-go/hal/spi"
	"stampfly-hal-go/hal/uart"
	"stampfly-hal-go/x/mathx"
)

// I2CDevice is a simulated register-file peripheral on the I2C bus.
type I2CDevice struct {
	Regs [256]byte
	ptr  uint8
}

// Bus simulates an I2C wire with a set of attached devices.
type Bus struct {
	mu      sync.Mutex
	cfg     i2c.Config
	devices map[byte]*I2CDevice
}

func NewBus() *Bus { return &Bus{devices: map[byte]*I2CDevice{}} }

// Attach puts a device on the bus at addr and returns it for seeding.
func (b *Bus) Attach(addr byte) *I2CDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := &I2CDevice{}
	b.devices[addr] = dev
	return dev
}

func (b *Bus) Configure(cfg i2c.Config) error { b.cfg = cfg; return nil }
func (b *Bus) Close() error                   { return nil }

func (b *Bus) Exchange(frame []i2c.Seg, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var dev *I2CDevice
	wrotePtr := false
	for i := range frame {
		s := &frame[i]
		switch s.Kind {
		case i2c.SegAddress:
			dev = b.devices[s.Addr]
			if dev == nil {
				return &i2c.BusFault{Phase: i2c.PhaseAddress, Seg: i}
			}
		case i2c.SegWrite:
			for _, v := range s.W {
				if !wrotePtr {
					dev.ptr = v
					wrotePtr = true
					continue
				}
				dev.Regs[dev.ptr] = v
				dev.ptr++
			}
		case i2c.SegRead:
			for j := range s.R {
				s.R[j] = dev.Regs[dev.ptr]
				dev.ptr++
			}
		}
	}
	return nil
}

// SPIDevice is a simulated register-file SPI peripheral using the
// read-bit framing: writes clear the top address bit, reads set it and
// echo the address byte first.
type SPIDevice struct {
	Regs [128]byte
}

// SPIPort simulates the SPI host with one attached device.
type SPIPort struct {
	mu  sync.Mutex
	cfg spi.Config
	Dev SPIDevice
}

func NewSPIPort() *SPIPort { return &SPIPort{} }

func (p *SPIPort) Configure(cfg spi.Config) error { p.cfg = cfg; return nil }
func (p *SPIPort) Close() error                   { return nil }

func (p *SPIPort) Exchange(dev spi.DeviceConfig, tx, rx []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(tx) != len(rx) {
		return errcode.InvalidArgument
	}
	if len(tx) == 0 {
		return nil
	}
	addr := tx[0]
	if addr&0x80 != 0 {
		rx[0] = addr
		reg := int(addr & 0x7F)
		for i := 1; i < len(rx); i++ {
			rx[i] = p.Dev.Regs[(reg+i-1)%len(p.Dev.Regs)]
		}
		return nil
	}
	reg := int(addr)
	for i := 1; i < len(tx); i++ {
		p.Dev.Regs[(reg+i-1)%len(p.Dev.Regs)] = tx[i]
	}
	return nil
}

// Analog simulates the ADC sampler. Set per-channel raw values with
// SetRaw.
type Analog struct {
	mu   sync.Mutex
	cfg  adc.Config
	raws map[uint8]uint16
}

func NewAnalog() *Analog { return &Analog{raws: map[uint8]uint16{}} }

func (a *Analog) SetRaw(channel uint8, raw uint16) {
	a.mu.Lock()
	a.raws[channel] = raw
	a.mu.Unlock()
}

func (a *Analog) Configure(cfg adc.Config) error {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

func (a *Analog) ConfigureChannel(cfg adc.ChannelConfig) error { return nil }
func (a *Analog) Close() error                                 { return nil }

// Sample saturates the injected value at the configured full-scale
// count, like a real converter would.
func (a *Analog) Sample(channel uint8) (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	full := uint16(1)<<a.cfg.BitWidth - 1
	return mathx.Clamp(a.raws[channel], 0, full), nil
}

// Pins simulates the GPIO bank. Drive sets an input's wire level and
// dispatches the pin's interrupt if one is armed for that edge.
type Pins struct {
	mu     sync.Mutex
	cfgs   map[uint8]gpio.PinConfig
	levels map[uint8]bool
	irqs   map[uint8]gpio.Edge
	nowUS  func() int64
}

func NewPins() *Pins {
	return &Pins{
		cfgs:   map[uint8]gpio.PinConfig{},
		levels: map[uint8]bool{},
		irqs:   map[uint8]gpio.Edge{},
		nowUS:  func() int64 { return time.Now().UnixMicro() },
	}
}

func (p *Pins) ConfigurePin(cfg gpio.PinConfig) error {
	p.mu.Lock()
	p.cfgs[cfg.Pin] = cfg
	p.mu.Unlock()
	return nil
}

func (p *Pins) SetLevel(pin uint8, level bool) error {
	p.mu.Lock()
	p.levels[pin] = level
	p.mu.Unlock()
	return nil
}

func (p *Pins) Level(pin uint8) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin], nil
}

func (p *Pins) EnableIRQ(pin uint8, edge gpio.Edge) error {
	p.mu.Lock()
	p.irqs[pin] = edge
	p.mu.Unlock()
	return nil
}

func (p *Pins) DisableIRQ(pin uint8) error {
	p.mu.Lock()
	delete(p.irqs, pin)
	p.mu.Unlock()
	return nil
}

func (p *Pins) Close() error { return nil }

// Drive changes an input pin's wire level and raises the interrupt if
// the transition matches the armed edge.
func (p *Pins) Drive(pin uint8, level bool) {
	p.mu.Lock()
	old := p.levels[pin]
	p.levels[pin] = level
	edge, armed := p.irqs[pin]
	now := p.nowUS()
	p.mu.Unlock()
	if !armed || old == level {
		return
	}
	rising := level
	switch {
	case edge == gpio.EdgeBoth,
		edge == gpio.EdgeRising && rising,
		edge == gpio.EdgeFalling && !rising:
		registry.Pins.Dispatch(registry.Event{ID: uint32(pin), Level: level, TsUS: now})
	}
}

// Timers simulates the timer bank. Fire dispatches a timer event as if
// the hardware expired at tsUS.
type Timers struct {
	mu      sync.Mutex
	created map[uint32]intr.TimerConfig
	running map[uint32]bool
}

func NewTimers() *Timers {
	return &Timers{
		created: map[uint32]intr.TimerConfig{},
		running: map[uint32]bool{},
	}
}

func (t *Timers) Create(id uint32, cfg intr.TimerConfig) error { t.set(id, cfg); return nil }
func (t *Timers) Start(id uint32) error                        { t.run(id, true); return nil }
func (t *Timers) Stop(id uint32) error                         { t.run(id, false); return nil }
func (t *Timers) SetPeriod(id uint32, p uint64) error          { return nil }
func (t *Timers) SetAlarm(id uint32, a uint64) error           { return nil }

func (t *Timers) Delete(id uint32) error {
	t.mu.Lock()
	delete(t.created, id)
	delete(t.running, id)
	t.mu.Unlock()
	return nil
}

func (t *Timers) set(id uint32, cfg intr.TimerConfig) {
	t.mu.Lock()
	t.created[id] = cfg
	t.mu.Unlock()
}

func (t *Timers) run(id uint32, on bool) {
	t.mu.Lock()
	t.running[id] = on
	t.mu.Unlock()
}

// Fire simulates a hardware expiry of timer id at tsUS.
func (t *Timers) Fire(id uint32, tsUS int64) {
	t.mu.Lock()
	on := t.running[id]
	t.mu.Unlock()
	if on {
		registry.Timers.Dispatch(registry.Event{ID: id, TsUS: tsUS})
	}
}

// Sources simulates the external interrupt controller.
type Sources struct {
	mu      sync.Mutex
	enabled map[uint32]bool
	nowUS   func() int64
}

func NewSources() *Sources {
	return &Sources{
		enabled: map[uint32]bool{},
		nowUS:   func() int64 { return time.Now().UnixMicro() },
	}
}

func (s *Sources) Enable(src uint32) error {
	s.mu.Lock()
	s.enabled[src] = true
	s.mu.Unlock()
	return nil
}

func (s *Sources) Disable(src uint32) error {
	s.mu.Lock()
	s.enabled[src] = false
	s.mu.Unlock()
	return nil
}

// Raise simulates the source firing. Masked sources are dropped.
func (s *Sources) Raise(src uint32) {
	s.mu.Lock()
	on := s.enabled[src]
	now := s.nowUS()
	s.mu.Unlock()
	if on {
		registry.Interrupts.Dispatch(registry.Event{ID: src, TsUS: now})
	}
}

// Loopback is a serial transport that feeds writes back to reads.
type Loopback struct {
	mu  sync.Mutex
	buf []byte
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Configure(cfg uart.Config) error { return nil }
func (l *Loopback) Close() error                    { return nil }

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	l.buf = append(l.buf, p...)
	l.mu.Unlock()
	return len(p), nil
}

func (l *Loopback) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}

// PWMBlock simulates the PWM peripheral.
type PWMBlock struct {
	mu     sync.Mutex
	Duties map[uint8]uint32
}

func NewPWMBlock() *PWMBlock { return &PWMBlock{Duties: map[uint8]uint32{}} }

func (b *PWMBlock) ConfigureTimer(cfg pwm.TimerConfig) error     { return nil }
func (b *PWMBlock) ConfigureChannel(cfg pwm.ChannelConfig) error { return nil }
func (b *PWMBlock) StopChannel(ch uint8) error                   { return nil }
func (b *PWMBlock) Close() error                                 { return nil }

func (b *PWMBlock) SetDuty(ch uint8, duty uint32) error {
	b.mu.Lock()
	b.Duties[ch] = duty
	b.mu.Unlock()
	return nil
}

func (b *PWMBlock) Duty(ch uint8) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Duties[ch]
}
