// Package i2c is the I²C master driver: it serializes client operations
// into primitive bus frames and executes each as one atomic,
// mutex-protected, timeout-bounded transaction against the wire backend.
package i2c

import (
	"strconv"
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
)

// Port identifies a hardware I²C controller.
type Port uint8

const (
	DefaultFrequencyHz = 100_000

	// 7-bit address range probed by Scan, per the bus standard's
	// reserved-address boundaries.
	ScanAddrMin = 0x08
	ScanAddrMax = 0x77

	probeTimeout = 100 * time.Millisecond
)

// ByteOrder selects the wire order of 16-bit register values.
type ByteOrder uint8

const (
	BigEndian ByteOrder = iota // default for 16-bit registers
	LittleEndian
)

// Config describes the bus mode. Immutable until reconfigured.
type Config struct {
	Port        Port
	SDAPin      int // -1 when unset
	SCLPin      int
	FrequencyHz uint32
	SDAPullup   bool
	SCLPullup   bool
}

// Wire executes one framed transaction atomically against the
// controller hardware. Implementations: simhw (host), rp2 (machine).
type Wire interface {
	Configure(cfg Config) error
	Exchange(frame []Seg, timeout time.Duration) error
	Close() error
}

// Driver owns one I²C controller exclusively for its lifetime. The
// instance mutex is the sole serialization point for the port: a
// transaction holds it for framing, execution and response copy.
type Driver struct {
	life *lifecycle.Machine

	mu         sync.Mutex
	cfg        Config
	wire       Wire
	configured bool
}

func New(port Port, w Wire) *Driver {
	return &Driver{
		life: lifecycle.New("I2C" + strconv.Itoa(int(port))),
		cfg: Config{
			Port:        port,
			SDAPin:      -1,
			SCLPin:      -1,
			FrequencyHz: DefaultFrequencyHz,
			SDAPullup:   true,
			SCLPullup:   true,
		},
		wire: w,
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

// SetConfig stores the bus configuration; Configure applies it.
func (d *Driver) SetConfig(cfg Config) {
	d.mu.Lock()
	cfg.Port = d.cfg.Port
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Initialize validates the pin assignment and enters Initialized.
func (d *Driver) Initialize() error {
	if err := d.life.BeginInit(); err != nil {
		return err
	}
	d.mu.Lock()
	bad := d.cfg.SDAPin < 0 || d.cfg.SCLPin < 0
	d.mu.Unlock()
	if bad {
		d.life.Log().Errorf("pins unset sda=%d scl=%d", d.cfg.SDAPin, d.cfg.SCLPin)
		_ = d.life.FinishInit(errcode.InvalidArgument)
		return errcode.InvalidArgument
	}
	return d.life.FinishInit(nil)
}

// Configure (re)applies the stored configuration to the wire. Idempotent;
// callable repeatedly while Initialized or Running.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		if err := d.wire.Close(); err != nil {
			d.life.Log().Warnf("close before reconfigure: %v", err)
		}
		d.configured = false
	}
	if err := d.wire.Configure(d.cfg); err != nil {
		d.life.Fail()
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
	}
	d.configured = true
	d.life.Log().Infof("configured freq=%d sda=%d scl=%d", d.cfg.FrequencyHz, d.cfg.SDAPin, d.cfg.SCLPin)
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

// Reset releases the wire and returns to Initialized.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		_ = d.wire.Close()
		d.configured = false
	}
	return nil
}

// Close tears the driver down; the port is released for good.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		d.configured = false
		return d.wire.Close()
	}
	return nil
}

// transact guards, locks and executes one frame. The mutex is held for
// the full duration so the frame is atomic with respect to this port.
func (d *Driver) transact(op string, frame []Seg, timeout time.Duration) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.wire.Exchange(frame, timeout); err != nil {
		c := errcode.Of(err)
		if c == errcode.Error {
			c = errcode.BusError
		}
		d.life.Log().Errorf("%s failed: %v", op, err)
		return errcode.Wrap(c, d.life.ComponentName(), op, err)
	}
	return nil
}

// Write transmits data to the device: START, address+W, payload, STOP.
func (d *Driver) Write(addr byte, data []byte, timeout time.Duration) error {
	if len(data) == 0 {
		return errcode.InvalidArgument
	}
	return d.transact("write", writeFrame(addr, data), timeout)
}

// Read fetches n bytes: START, address+R, n-1 ACKed bytes, final NACK,
// STOP. n must be positive.
func (d *Driver) Read(addr byte, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, errcode.InvalidArgument
	}
	buf := make([]byte, n)
	if err := d.transact("read", readFrame(addr, buf), timeout); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRegister writes payload bytes at a register address. An empty
// payload writes just the register pointer.
func (d *Driver) WriteRegister(addr, reg byte, data []byte, timeout time.Duration) error {
	return d.transact("write_reg", writeRegFrame(addr, reg, data), timeout)
}

// ReadRegister sets the register pointer then reads n bytes using a
// repeated START — one atomic transaction, no STOP between the phases.
func (d *Driver) ReadRegister(addr, reg byte, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, errcode.InvalidArgument
	}
	buf := make([]byte, n)
	if err := d.transact("read_reg", readRegFrame(addr, reg, buf), timeout); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRead performs a write followed by a repeated-START read in one
// transaction. This is the drivers.I2C Tx shape.
func (d *Driver) WriteRead(addr byte, w, r []byte, timeout time.Duration) error {
	if len(w) == 0 || len(r) == 0 {
		return errcode.InvalidArgument
	}
	return d.transact("write_read", writeReadFrame(addr, w, r), timeout)
}

func (d *Driver) WriteRegister8(addr, reg, value byte, timeout time.Duration) error {
	return d.WriteRegister(addr, reg, []byte{value}, timeout)
}

func (d *Driver) ReadRegister8(addr, reg byte, timeout time.Duration) (byte, error) {
	b, err := d.ReadRegister(addr, reg, 1, timeout)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Driver) WriteRegister16(addr, reg byte, value uint16, order ByteOrder, timeout time.Duration) error {
	var data [2]byte
	if order == BigEndian {
		data[0] = byte(value >> 8)
		data[1] = byte(value)
	} else {
		data[0] = byte(value)
		data[1] = byte(value >> 8)
	}
	return d.WriteRegister(addr, reg, data[:], timeout)
}

func (d *Driver) ReadRegister16(addr, reg byte, order ByteOrder, timeout time.Duration) (uint16, error) {
	b, err := d.ReadRegister(addr, reg, 2, timeout)
	if err != nil {
		return 0, err
	}
	if order == BigEndian {
		return uint16(b[0])<<8 | uint16(b[1]), nil
	}
	return uint16(b[1])<<8 | uint16(b[0]), nil
}

// Probe reports whether a device at addr acknowledges its address:
// START, address+W, STOP, no payload.
func (d *Driver) Probe(addr byte, timeout time.Duration) bool {
	return d.transact("probe", probeFrame(addr), timeout) == nil
}

// Scan probes the 7-bit address range 0x08-0x77 and returns the
// acknowledging addresses in ascending order.
func (d *Driver) Scan() ([]byte, error) {
	if err := d.life.RequireRunning(); err != nil {
		return nil, err
	}
	var found []byte
	for addr := byte(ScanAddrMin); addr <= ScanAddrMax; addr++ {
		if d.Probe(addr, probeTimeout) {
			found = append(found, addr)
			d.life.Log().Infof("device found at 0x%x", addr)
		}
	}
	d.life.Log().Infof("scan complete, %d device(s)", len(found))
	return found, nil
}
