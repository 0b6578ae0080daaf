// Package spi is the SPI master driver: devices are added and removed
// dynamically against a shared bus host, and every transaction runs as
// one atomic, mutex-protected, timeout-bounded full-duplex exchange.
package spi

import (
	"strconv"
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
)

// Host identifies a hardware SPI controller.
type Host uint8

// Mode is the CPOL/CPHA clocking mode.
type Mode uint8

const (
	Mode0 Mode = iota // CPOL=0 CPHA=0
	Mode1             // CPOL=0 CPHA=1
	Mode2             // CPOL=1 CPHA=0
	Mode3             // CPOL=1 CPHA=1
)

const (
	readBit            = 0x80 // register address high bit set = read
	writeMask          = 0x7F // register address high bit cleared = write
	inlineMax          = 4    // payloads up to this use the inline path
	DefaultFrequencyHz = 1_000_000
	DefaultMaxTransfer = 4096
	DefaultQueueSize   = 7
)

// Config describes the bus host. Immutable until reconfigured.
type Config struct {
	Host            Host
	MOSIPin         int // -1 when unset
	MISOPin         int
	SCLKPin         int
	CSPin           int
	MaxTransferSize int
	QueueSize       int
	DMAChannel      int
}

// DeviceConfig fixes a device's framing at add time: command and address
// prefix widths, clocking mode and frequency.
type DeviceConfig struct {
	Mode          Mode
	FrequencyHz   uint32
	CommandBits   uint8 // 0 or multiple of 8
	AddressBits   uint8 // 0 or multiple of 8
	DummyBits     uint8
	CSSetupCycles uint8
	CSHoldCycles  uint8
}

// Device is the opaque handle returned by AddDevice.
type Device struct {
	id  int
	cfg DeviceConfig
}

func (d *Device) Config() DeviceConfig { return d.cfg }

// Transaction is an ephemeral value describing one exchange. Command and
// Address are emitted only when the device's prefix widths are non-zero.
type Transaction struct {
	Command uint16
	Address uint32
	Tx      []byte
	Rx      []byte // caller-sized; filled by Transmit
}

// Port is the hardware backend: one full-duplex exchange of equal-length
// buffers against the addressed device.
type Port interface {
	Configure(cfg Config) error
	Exchange(dev DeviceConfig, tx, rx []byte, timeout time.Duration) error
	Close() error
}

// Driver owns one SPI host exclusively. The instance mutex serializes
// transactions for the host's full duration: framing, exchange and
// response copy.
type Driver struct {
	life *lifecycle.Machine

	mu         sync.Mutex
	cfg        Config
	port       Port
	configured bool
	devices    map[int]*Device
	nextDev    int

	// Inline scratch for short payloads; the fast path must behave
	// exactly like the buffered one.
	inTx [16]byte
	inRx [16]byte
}

func New(host Host, p Port) *Driver {
	return &Driver{
		life: lifecycle.New("SPI" + strconv.Itoa(int(host))),
		cfg: Config{
			Host:            host,
			MOSIPin:         -1,
			MISOPin:         -1,
			SCLKPin:         -1,
			CSPin:           -1,
			MaxTransferSize: DefaultMaxTransfer,
			QueueSize:       DefaultQueueSize,
		},
		port:    p,
		devices: map[int]*Device{},
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

func (d *Driver) SetConfig(cfg Config) {
	d.mu.Lock()
	cfg.Host = d.cfg.Host
	if cfg.MaxTransferSize <= 0 {
		cfg.MaxTransferSize = DefaultMaxTransfer
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Initialize validates the pin assignment: SCLK plus at least one data
// line must be set.
func (d *Driver) Initialize() error {
	if err := d.life.BeginInit(); err != nil {
		return err
	}
	d.mu.Lock()
	bad := d.cfg.SCLKPin < 0 || (d.cfg.MOSIPin < 0 && d.cfg.MISOPin < 0)
	d.mu.Unlock()
	if bad {
		d.life.Log().Errorf("pins unset mosi=%d miso=%d sclk=%d", d.cfg.MOSIPin, d.cfg.MISOPin, d.cfg.SCLKPin)
		_ = d.life.FinishInit(errcode.InvalidArgument)
		return errcode.InvalidArgument
	}
	return d.life.FinishInit(nil)
}

// Configure (re)applies the bus configuration. Device handles survive a
// reconfigure: their clocking is re-applied on the next exchange.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		if err := d.port.Close(); err != nil {
			d.life.Log().Warnf("close before reconfigure: %v", err)
		}
		d.configured = false
	}
	if err := d.port.Configure(d.cfg); err != nil {
		d.life.Fail()
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
	}
	d.configured = true
	d.life.Log().Infof("configured mosi=%d miso=%d sclk=%d", d.cfg.MOSIPin, d.cfg.MISOPin, d.cfg.SCLKPin)
	return nil
}

func (d *Driver) Start() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	need := !d.configured
	d.mu.Unlock()
	if need {
		if err := d.Configure(); err != nil {
			return err
		}
	}
	return d.life.Start()
}

func (d *Driver) Stop() error { return d.life.Stop() }

// Reset removes all devices, releases the bus and returns to Initialized.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.devices {
		delete(d.devices, id)
	}
	if d.configured {
		_ = d.port.Close()
		d.configured = false
	}
	return nil
}

// Close tears the driver down and releases the host.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.devices {
		delete(d.devices, id)
	}
	if d.configured {
		d.configured = false
		return d.port.Close()
	}
	return nil
}

// AddDevice registers a device against the shared bus and returns its
// handle. Prefix widths must be byte multiples.
func (d *Driver) AddDevice(cfg DeviceConfig) (*Device, error) {
	if err := d.life.RequireRunning(); err != nil {
		return nil, err
	}
	if cfg.CommandBits%8 != 0 || cfg.AddressBits%8 != 0 || cfg.DummyBits%8 != 0 {
		return nil, errcode.InvalidArgument
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := &Device{id: d.nextDev, cfg: cfg}
	d.nextDev++
	d.devices[dev.id] = dev
	d.life.Log().Infof("device added freq=%d mode=%d", cfg.FrequencyHz, cfg.Mode)
	return dev, nil
}

// RemoveDevice drops a device. Removing a device mid-transaction is the
// caller's fault; the engine does not reference-count in-flight use.
func (d *Driver) RemoveDevice(dev *Device) error {
	if dev == nil {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[dev.id]; !ok {
		return errcode.NotFound
	}
	delete(d.devices, dev.id)
	d.life.Log().Infof("device removed")
	return nil
}

// Transmit executes one transaction: optional command/address prefix,
// transmit payload, receive payload, all inside the host mutex.
func (d *Driver) Transmit(dev *Device, t *Transaction, timeout time.Duration) error {
	if dev == nil || t == nil {
		return errcode.InvalidArgument
	}
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[dev.id]; !ok {
		return errcode.NotFound
	}

	prefix := int(dev.cfg.CommandBits/8) + int(dev.cfg.AddressBits/8) + int(dev.cfg.DummyBits/8)
	payload := len(t.Tx)
	if len(t.Rx) > payload {
		payload = len(t.Rx)
	}
	n := prefix + payload

	var tx, rx []byte
	if n <= inlineMax {
		// Short payloads run through the fixed inline scratch, longer
		// ones through heap buffers; the two paths must be
		// indistinguishable to the caller.
		tx = d.inTx[:n]
		rx = d.inRx[:n]
		for i := range tx {
			tx[i] = 0
			rx[i] = 0
		}
	} else {
		tx = make([]byte, n)
		rx = make([]byte, n)
	}

	off := 0
	for i := int(dev.cfg.CommandBits/8) - 1; i >= 0; i-- {
		tx[off] = byte(t.Command >> (8 * i))
		off++
	}
	for i := int(dev.cfg.AddressBits/8) - 1; i >= 0; i-- {
		tx[off] = byte(t.Address >> (8 * i))
		off++
	}
	off += int(dev.cfg.DummyBits / 8)
	copy(tx[off:], t.Tx)

	if err := d.port.Exchange(dev.cfg, tx, rx, timeout); err != nil {
		c := errcode.Of(err)
		if c == errcode.Error {
			c = errcode.BusError
		}
		d.life.Log().Errorf("transmit failed: %v", err)
		return errcode.Wrap(c, d.life.ComponentName(), "transmit", err)
	}
	copy(t.Rx, rx[prefix:])
	return nil
}

// Write transmits data with no receive phase.
func (d *Driver) Write(dev *Device, data []byte, timeout time.Duration) error {
	if len(data) == 0 {
		return errcode.InvalidArgument
	}
	return d.Transmit(dev, &Transaction{Tx: data}, timeout)
}

// Read clocks out n bytes while transmitting zeros.
func (d *Driver) Read(dev *Device, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, errcode.InvalidArgument
	}
	t := Transaction{Rx: make([]byte, n)}
	if err := d.Transmit(dev, &t, timeout); err != nil {
		return nil, err
	}
	return t.Rx, nil
}

// WriteRegister sends the register address with the high bit cleared,
// followed by the payload, as a single transaction.
func (d *Driver) WriteRegister(dev *Device, addr byte, data []byte, timeout time.Duration) error {
	tx := make([]byte, 0, len(data)+1)
	tx = append(tx, addr&writeMask)
	tx = append(tx, data...)
	return d.Transmit(dev, &Transaction{Tx: tx}, timeout)
}

// ReadRegister sends the register address with the high bit set followed
// by n dummy bytes to clock the response out. The first received byte is
// the address echo and is discarded.
func (d *Driver) ReadRegister(dev *Device, addr byte, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, errcode.InvalidArgument
	}
	t := Transaction{
		Tx: make([]byte, n+1),
		Rx: make([]byte, n+1),
	}
	t.Tx[0] = addr | readBit
	if err := d.Transmit(dev, &t, timeout); err != nil {
		return nil, err
	}
	return t.Rx[1:], nil
}

func (d *Driver) WriteRegister8(dev *Device, addr, value byte, timeout time.Duration) error {
	return d.WriteRegister(dev, addr, []byte{value}, timeout)
}

func (d *Driver) ReadRegister8(dev *Device, addr byte, timeout time.Duration) (byte, error) {
	b, err := d.ReadRegister(dev, addr, 1, timeout)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
