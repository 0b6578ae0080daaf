// Package uart is the serial port driver. Reads and writes block up to
// a caller supplied timeout; a read that got nothing by the deadline
// fails with Timeout, a partial read returns what arrived.
package uart

import (
	"strconv"
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
)

// Parity values accepted by Config.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1

	// pollInterval paces the read loop when the transport returns
	// nothing.
	pollInterval = time.Millisecond
)

// Config describes the port. Device names the host serial device and is
// ignored by MCU transports, which use the pin numbers instead.
type Config struct {
	Port     uint8
	Device   string
	BaudRate uint32
	DataBits uint8
	StopBits uint8
	Parity   Parity
	TxPin    int
	RxPin    int
}

// Transport is the byte-stream backend. Read may return (0, nil) when
// no data is pending.
type Transport interface {
	Configure(cfg Config) error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Driver owns one serial port.
type Driver struct {
	life *lifecycle.Machine

	mu         sync.Mutex
	cfg        Config
	tr         Transport
	configured bool
}

func New(port uint8, tr Transport) *Driver {
	return &Driver{
		life: lifecycle.New("UART" + strconv.Itoa(int(port))),
		cfg: Config{
			Port:     port,
			BaudRate: DefaultBaudRate,
			DataBits: DefaultDataBits,
			StopBits: DefaultStopBits,
			TxPin:    -1,
			RxPin:    -1,
		},
		tr: tr,
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

func (d *Driver) SetConfig(cfg Config) {
	d.mu.Lock()
	cfg.Port = d.cfg.Port
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = DefaultDataBits
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = DefaultStopBits
	}
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Driver) Initialize() error {
	if err := d.life.BeginInit(); err != nil {
		return err
	}
	return d.life.FinishInit(nil)
}

// Configure opens or re-opens the transport with the current settings.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		if err := d.tr.Close(); err != nil {
			d.life.Log().Warnf("close before reconfigure: %v", err)
		}
		d.configured = false
	}
	if err := d.tr.Configure(d.cfg); err != nil {
		d.life.Fail()
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
	}
	d.configured = true
	d.life.Log().Infof("configured baud=%d", d.cfg.BaudRate)
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

func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		_ = d.tr.Close()
		d.configured = false
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configured {
		d.configured = false
		return d.tr.Close()
	}
	return nil
}

// Write sends the whole buffer, blocking up to timeout.
func (d *Driver) Write(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, errcode.InvalidArgument
	}
	if err := d.life.RequireRunning(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	deadline := time.Now().Add(timeout)
	n := 0
	for n < len(p) {
		m, err := d.tr.Write(p[n:])
		n += m
		if err != nil {
			return n, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "write", err)
		}
		if n < len(p) && time.Now().After(deadline) {
			return n, errcode.Wrap(errcode.Timeout, d.life.ComponentName(), "write", nil)
		}
		if m == 0 {
			time.Sleep(pollInterval)
		}
	}
	return n, nil
}

// Read fills p with whatever arrives before the deadline. Nothing at
// all is a Timeout; a partial buffer is a successful short read.
func (d *Driver) Read(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, errcode.InvalidArgument
	}
	if err := d.life.RequireRunning(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	deadline := time.Now().Add(timeout)
	n := 0
	for n < len(p) {
		m, err := d.tr.Read(p[n:])
		n += m
		if err != nil {
			return n, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "read", err)
		}
		if n == len(p) {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
		if m == 0 {
			time.Sleep(pollInterval)
		}
	}
	if n == 0 {
		return 0, errcode.Wrap(errcode.Timeout, d.life.ComponentName(), "read", nil)
	}
	return n, nil
}

// WriteByte sends a single byte.
func (d *Driver) WriteByte(b byte, timeout time.Duration) error {
	_, err := d.Write([]byte{b}, timeout)
	return err
}

// ReadByte blocks for one byte.
func (d *Driver) ReadByte(timeout time.Duration) (byte, error) {
	var buf [1]byte
	if _, err := d.Read(buf[:], timeout); err != nil {
		return 0, err
	}
	return buf[0], nil
}
