package spi

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
)

// fakePort emulates a register-file peripheral. Writes with the high
// address bit clear store payload bytes at consecutive registers; reads
// with the bit set echo the address byte first and then clock registers
// out, which is exactly what the driver must discard and return.
type fakePort struct {
	cfg        Config
	configured bool
	closes     int
	regs       [128]byte
	exchanges  int
	lastTx     []byte
	delay      time.Duration
}

func (p *fakePort) Configure(cfg Config) error {
	p.cfg = cfg
	p.configured = true
	return nil
}

func (p *fakePort) Close() error {
	p.closes++
	p.configured = false
	return nil
}

func (p *fakePort) Exchange(dev DeviceConfig, tx, rx []byte, timeout time.Duration) error {
	if len(tx) != len(rx) {
		return errcode.InvalidArgument
	}
	if p.delay > timeout {
		return errcode.Timeout
	}
	p.exchanges++
	p.lastTx = append([]byte(nil), tx...)
	if len(tx) == 0 {
		return nil
	}
	addr := tx[0]
	if addr&readBit != 0 {
		rx[0] = addr // address echo
		reg := int(addr &^ byte(readBit))
		for i := 1; i < len(rx); i++ {
			rx[i] = p.regs[(reg+i-1)%len(p.regs)]
		}
		return nil
	}
	reg := int(addr)
	for i := 1; i < len(tx); i++ {
		p.regs[(reg+i-1)%len(p.regs)] = tx[i]
	}
	return nil
}

func newRunning(t *testing.T, p *fakePort) *Driver {
	t.Helper()
	d := New(2, p)
	d.SetConfig(Config{MOSIPin: 11, MISOPin: 12, SCLKPin: 10, CSPin: 13})
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func TestRegisterRoundTrip(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, err := d.AddDevice(DeviceConfig{Mode: Mode3, FrequencyHz: 8_000_000})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	if err := d.WriteRegister(dev, 0x1B, []byte{0xA5, 0x5A}, time.Second); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if p.lastTx[0] != 0x1B {
		t.Fatalf("write address = %#x, want high bit clear", p.lastTx[0])
	}

	got, err := d.ReadRegister(dev, 0x1B, 2, time.Second)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if p.lastTx[0] != 0x1B|0x80 {
		t.Fatalf("read address = %#x, want high bit set", p.lastTx[0])
	}
	if !bytes.Equal(got, []byte{0xA5, 0x5A}) {
		t.Fatalf("read back %x, want a55a", got)
	}
}

func TestReadRegisterDiscardsEcho(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})
	p.regs[0x75] = 0x68 // WHO_AM_I style register

	v, err := d.ReadRegister8(dev, 0x75, time.Second)
	if err != nil {
		t.Fatalf("ReadRegister8: %v", err)
	}
	if v != 0x68 {
		t.Fatalf("register value = %#x, want 0x68 (echo byte must be discarded)", v)
	}
}

// Payloads at and below the inline threshold must behave exactly like
// longer buffered ones.
func TestInlineAndBufferedPathsMatch(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})

	short := []byte{0x10, 0x01, 0x02} // total wire length 3, inline
	long := []byte{0x20, 1, 2, 3, 4, 5, 6, 7}

	if err := d.Write(dev, short, time.Second); err != nil {
		t.Fatalf("short write: %v", err)
	}
	if err := d.Write(dev, long, time.Second); err != nil {
		t.Fatalf("long write: %v", err)
	}
	if p.regs[0x10] != 0x01 || p.regs[0x11] != 0x02 {
		t.Fatalf("inline write not applied: %x %x", p.regs[0x10], p.regs[0x11])
	}
	if p.regs[0x20] != 1 || p.regs[0x26] != 7 {
		t.Fatalf("buffered write not applied")
	}

	gotShort, err := d.ReadRegister(dev, 0x10, 2, time.Second)
	if err != nil {
		t.Fatalf("short read: %v", err)
	}
	gotLong, err := d.ReadRegister(dev, 0x20, 7, time.Second)
	if err != nil {
		t.Fatalf("long read: %v", err)
	}
	if !bytes.Equal(gotShort, []byte{1, 2}) || !bytes.Equal(gotLong, long[1:]) {
		t.Fatalf("paths disagree: short=%x long=%x", gotShort, gotLong)
	}
}

func TestCommandAddressPrefix(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, err := d.AddDevice(DeviceConfig{CommandBits: 8, AddressBits: 16})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	tr := Transaction{Command: 0x0B, Address: 0xBEEF, Tx: []byte{0x42}}
	if err := d.Transmit(dev, &tr, time.Second); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	want := []byte{0x0B, 0xBE, 0xEF, 0x42}
	if !bytes.Equal(p.lastTx, want) {
		t.Fatalf("wire bytes = %x, want %x", p.lastTx, want)
	}
}

func TestDeviceLifetime(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})

	if err := d.RemoveDevice(dev); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if err := d.RemoveDevice(dev); !errcode.Is(err, errcode.NotFound) {
		t.Fatalf("second remove = %v, want not_found", err)
	}
	if err := d.Write(dev, []byte{1}, time.Second); !errcode.Is(err, errcode.NotFound) {
		t.Fatalf("write to removed device = %v, want not_found", err)
	}
}

func TestOddPrefixWidthRejected(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	if _, err := d.AddDevice(DeviceConfig{AddressBits: 12}); !errcode.Is(err, errcode.InvalidArgument) {
		t.Fatalf("12-bit address accepted: %v", err)
	}
}

func TestInvalidStateNoBusActivity(t *testing.T) {
	p := &fakePort{}
	d := New(2, p)
	if _, err := d.AddDevice(DeviceConfig{}); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("AddDevice before init = %v", err)
	}

	d = newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	before := p.exchanges
	if err := d.Write(dev, []byte{1}, time.Second); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("write while suspended = %v", err)
	}
	if p.exchanges != before {
		t.Fatalf("suspended write reached the bus")
	}
}

func TestTimeout(t *testing.T) {
	p := &fakePort{delay: 50 * time.Millisecond}
	d := newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})
	err := d.Write(dev, []byte{1}, 10*time.Millisecond)
	if !errcode.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	var e *errcode.E
	if !errors.As(err, &e) || e.Op != "transmit" {
		t.Fatalf("error not wrapped with op: %v", err)
	}
}

func TestReconfigureDropsDevices(t *testing.T) {
	p := &fakePort{}
	d := newRunning(t, p)
	dev, _ := d.AddDevice(DeviceConfig{})

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d.State() != lifecycle.Initialized {
		t.Fatalf("state after reset = %v", d.State())
	}
	if p.closes != 1 {
		t.Fatalf("closes = %d, want 1", p.closes)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := d.Write(dev, []byte{1}, time.Second); !errcode.Is(err, errcode.NotFound) {
		t.Fatalf("stale handle after reset = %v, want not_found", err)
	}
}
