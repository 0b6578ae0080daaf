package i2c

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
)

// fakeDevice emulates a register-pointer slave: the first written byte
// sets the pointer, later bytes land at regs[ptr++], reads clock out
// regs[ptr++].
type fakeDevice struct {
	regs     [256]byte
	ptr      byte
	nackData bool // NACK the first data byte (device rejects payload)
}

// fakeWire flattens executed frames into a token trace so tests can
// assert the exact wire sequence.
type fakeWire struct {
	cfg        Config
	configured bool
	closes     int
	devices    map[byte]*fakeDevice
	trace      []string
	delay      time.Duration
	exchanges  int
}

func newFakeWire(addrs ...byte) *fakeWire {
	w := &fakeWire{devices: map[byte]*fakeDevice{}}
	for _, a := range addrs {
		w.devices[a] = &fakeDevice{}
	}
	return w
}

func (w *fakeWire) Configure(cfg Config) error { w.cfg = cfg; w.configured = true; return nil }
func (w *fakeWire) Close() error               { w.closes++; w.configured = false; return nil }

func (w *fakeWire) Exchange(frame []Seg, timeout time.Duration) error {
	w.exchanges++
	if w.delay > timeout {
		return errcode.Timeout
	}
	var dev *fakeDevice
	wrotePtr := false
	for i, s := range frame {
		switch s.Kind {
		case SegStart:
			w.trace = append(w.trace, "S")
		case SegStop:
			w.trace = append(w.trace, "P")
		case SegAddress:
			d, ok := w.devices[s.Addr]
			dir := "w"
			if s.Read {
				dir = "r"
			}
			if !ok {
				w.trace = append(w.trace, fmt.Sprintf("addr 0x%02x %s nack", s.Addr, dir))
				return &BusFault{Phase: PhaseAddress, Seg: i}
			}
			w.trace = append(w.trace, fmt.Sprintf("addr 0x%02x %s ack", s.Addr, dir))
			dev = d
		case SegWrite:
			for _, b := range s.W {
				if dev.nackData {
					w.trace = append(w.trace, fmt.Sprintf("w 0x%02x nack", b))
					return &BusFault{Phase: PhaseData, Seg: i}
				}
				w.trace = append(w.trace, fmt.Sprintf("w 0x%02x ack", b))
				if !wrotePtr {
					dev.ptr = b
					wrotePtr = true
					continue
				}
				dev.regs[dev.ptr] = b
				dev.ptr++
			}
		case SegRead:
			for j := range s.R {
				s.R[j] = dev.regs[dev.ptr]
				dev.ptr++
				ack := "ack"
				if s.NackLast && j == len(s.R)-1 {
					ack = "nack"
				}
				w.trace = append(w.trace, fmt.Sprintf("r 0x%02x %s", s.R[j], ack))
			}
		}
	}
	return nil
}

func newRunning(t *testing.T, w Wire) *Driver {
	t.Helper()
	d := New(0, w)
	d.SetConfig(Config{SDAPin: 3, SCLPin: 4})
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	return d
}

const tmo = 50 * time.Millisecond

func TestWriteFrameExact(t *testing.T) {
	w := newFakeWire(0x3C)
	d := newRunning(t, w)

	if err := d.Write(0x3C, []byte{0x00, 0xAE}, tmo); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"S",
		"addr 0x3c w ack",
		"w 0x00 ack",
		"w 0xae ack",
		"P",
	}
	if !reflect.DeepEqual(w.trace, want) {
		t.Fatalf("frame trace:\n got %v\nwant %v", w.trace, want)
	}
}

func TestZeroLengthFails(t *testing.T) {
	w := newFakeWire(0x3C)
	d := newRunning(t, w)

	if err := d.Write(0x3C, nil, tmo); !errcode.Is(err, errcode.InvalidArgument) {
		t.Fatalf("empty write: %v", err)
	}
	if _, err := d.Read(0x3C, 0, tmo); !errcode.Is(err, errcode.InvalidArgument) {
		t.Fatalf("zero read: %v", err)
	}
	if _, err := d.ReadRegister(0x3C, 0x10, 0, tmo); !errcode.Is(err, errcode.InvalidArgument) {
		t.Fatalf("zero register read: %v", err)
	}
	if w.exchanges != 0 {
		t.Fatalf("bus touched %d times on invalid arguments", w.exchanges)
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	w := newFakeWire(0x68)
	d := newRunning(t, w)

	payload := []byte{0xDE, 0xAD}
	if err := d.WriteRegister(0x68, 0x10, payload, tmo); err != nil {
		t.Fatal(err)
	}
	got, err := d.ReadRegister(0x68, 0x10, 2, tmo)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, payload) {
		t.Fatalf("round trip: got %x want %x", got, payload)
	}
}

func TestReadRegisterUsesRepeatedStart(t *testing.T) {
	w := newFakeWire(0x68)
	d := newRunning(t, w)

	if _, err := d.ReadRegister(0x68, 0x10, 1, tmo); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"S",
		"addr 0x68 w ack",
		"w 0x10 ack",
		"S", // repeated start, no STOP between the phases
		"addr 0x68 r ack",
		"r 0x00 nack",
		"P",
	}
	if !reflect.DeepEqual(w.trace, want) {
		t.Fatalf("frame trace:\n got %v\nwant %v", w.trace, want)
	}
}

func TestRegister16ByteOrder(t *testing.T) {
	w := newFakeWire(0x48)
	d := newRunning(t, w)

	if err := d.WriteRegister16(0x48, 0x02, 0xBEEF, BigEndian, tmo); err != nil {
		t.Fatal(err)
	}
	got, err := d.ReadRegister16(0x48, 0x02, BigEndian, tmo)
	if err != nil || got != 0xBEEF {
		t.Fatalf("BE round trip: %04x, %v", got, err)
	}
	// Same bytes re-read little-endian come back swapped.
	got, err = d.ReadRegister16(0x48, 0x02, LittleEndian, tmo)
	if err != nil || got != 0xEFBE {
		t.Fatalf("LE read: %04x, %v", got, err)
	}
}

func TestScanFindsDevicesAscending(t *testing.T) {
	w := newFakeWire(0x68, 0x23)
	d := newRunning(t, w)

	found, err := d.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(found, []byte{0x23, 0x68}) {
		t.Fatalf("scan = %x", found)
	}
}

func TestProbeAbsent(t *testing.T) {
	w := newFakeWire(0x23)
	d := newRunning(t, w)

	if !d.Probe(0x23, tmo) {
		t.Fatal("present device not acknowledged")
	}
	if d.Probe(0x42, tmo) {
		t.Fatal("absent device acknowledged")
	}
}

func TestInvalidStateNoBusActivity(t *testing.T) {
	w := newFakeWire(0x3C)
	d := New(0, w)
	d.SetConfig(Config{SDAPin: 3, SCLPin: 4})

	// Uninitialized.
	if err := d.Write(0x3C, []byte{1}, tmo); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("write while uninitialized: %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	// Suspended.
	if err := d.Write(0x3C, []byte{1}, tmo); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("write while suspended: %v", err)
	}
	if _, err := d.Scan(); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("scan while suspended: %v", err)
	}
	if w.exchanges != 0 {
		t.Fatalf("bus touched %d times outside Running", w.exchanges)
	}
}

func TestTimeout(t *testing.T) {
	w := newFakeWire(0x3C)
	w.delay = 10 * time.Millisecond
	d := newRunning(t, w)

	err := d.Write(0x3C, []byte{1}, 1*time.Millisecond)
	if !errcode.Is(err, errcode.Timeout) {
		t.Fatalf("timeout: %v", err)
	}
}

func TestBusFaultPhases(t *testing.T) {
	w := newFakeWire(0x3C)
	w.devices[0x3C].nackData = true
	d := newRunning(t, w)

	err := d.Write(0x3C, []byte{1}, tmo)
	if !errcode.Is(err, errcode.BusError) {
		t.Fatalf("data NACK: %v", err)
	}
	var f *BusFault
	if !errors.As(err, &f) || f.Phase != PhaseData {
		t.Fatalf("phase = %+v", f)
	}

	err = d.Write(0x42, []byte{1}, tmo)
	if !errors.As(err, &f) || f.Phase != PhaseAddress {
		t.Fatalf("address phase = %+v", f)
	}
}

func TestReconfigureClosesWire(t *testing.T) {
	w := newFakeWire()
	d := newRunning(t, w)

	if err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	if w.closes != 1 {
		t.Fatalf("closes = %d", w.closes)
	}
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if w.closes != 2 || d.State() != lifecycle.Initialized {
		t.Fatalf("after reset: closes=%d state=%v", w.closes, d.State())
	}
}

func TestCompatTx(t *testing.T) {
	w := newFakeWire(0x68)
	d := newRunning(t, w)
	c := NewCompat(d)

	if err := c.Tx(0x68, []byte{0x20, 0x55}, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 1)
	if err := c.Tx(0x68, []byte{0x20}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0x55 {
		t.Fatalf("Tx read back 0x%02x", r[0])
	}
}
