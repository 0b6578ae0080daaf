package uart

import (
	"bytes"
	"testing"
	"time"

	"stampfly-hal-go/errcode"
)

// fakeTransport feeds scripted receive data in chunks, mimicking a
// slow peripheral that delivers a few bytes per poll.
type fakeTransport struct {
	cfg        Config
	configures int
	closes     int
	sent       bytes.Buffer
	pending    []byte
	chunk      int       // max bytes returned per Read; 0 means all
	stallUntil time.Time // Write accepts nothing before this instant
	writeCalls int
}

func (t *fakeTransport) Configure(cfg Config) error {
	t.cfg = cfg
	t.configures++
	return nil
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.writeCalls++
	if !t.stallUntil.IsZero() && time.Now().Before(t.stallUntil) {
		return 0, nil
	}
	return t.sent.Write(p)
}

func (t *fakeTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		return 0, nil
	}
	n := len(t.pending)
	if t.chunk > 0 && n > t.chunk {
		n = t.chunk
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, t.pending[:n])
	t.pending = t.pending[n:]
	return n, nil
}

func (t *fakeTransport) Close() error { t.closes++; return nil }

func newRunning(t *testing.T, tr Transport) *Driver {
	t.Helper()
	d := New(1, tr)
	d.SetConfig(Config{Device: "/dev/null", BaudRate: 115200})
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func TestWriteAll(t *testing.T) {
	tr := &fakeTransport{}
	d := newRunning(t, tr)
	n, err := d.Write([]byte("$GPGGA"), time.Second)
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if tr.sent.String() != "$GPGGA" {
		t.Fatalf("sent %q", tr.sent.String())
	}
}

// A transport that accepts nothing for a while must be polled at the
// poll interval, not spun on.
func TestWritePacesStalledTransport(t *testing.T) {
	tr := &fakeTransport{}
	d := newRunning(t, tr)
	tr.stallUntil = time.Now().Add(20 * time.Millisecond)
	n, err := d.Write([]byte("abcd"), time.Second)
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if tr.sent.String() != "abcd" {
		t.Fatalf("sent %q", tr.sent.String())
	}
	if tr.writeCalls > 100 {
		t.Fatalf("stalled transport polled %d times over 20ms", tr.writeCalls)
	}
}

func TestReadAssemblesChunks(t *testing.T) {
	tr := &fakeTransport{pending: []byte("hello"), chunk: 2}
	d := newRunning(t, tr)
	buf := make([]byte, 5)
	n, err := d.Read(buf, time.Second)
	if err != nil || n != 5 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if string(buf) != "hello" {
		t.Fatalf("read %q", buf)
	}
}

func TestReadPartialIsNotAnError(t *testing.T) {
	tr := &fakeTransport{pending: []byte("ok")}
	d := newRunning(t, tr)
	buf := make([]byte, 8)
	n, err := d.Read(buf, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("partial read failed: %v", err)
	}
	if n != 2 || string(buf[:n]) != "ok" {
		t.Fatalf("Read = %d %q", n, buf[:n])
	}
}

func TestReadNothingIsTimeout(t *testing.T) {
	tr := &fakeTransport{}
	d := newRunning(t, tr)
	buf := make([]byte, 4)
	start := time.Now()
	_, err := d.Read(buf, 20*time.Millisecond)
	if !errcode.Is(err, errcode.Timeout) {
		t.Fatalf("empty read = %v, want timeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("read returned before the deadline")
	}
}

func TestByteHelpers(t *testing.T) {
	tr := &fakeTransport{pending: []byte{0xA7}}
	d := newRunning(t, tr)
	if err := d.WriteByte(0x55, time.Second); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if tr.sent.Bytes()[0] != 0x55 {
		t.Fatalf("sent %x", tr.sent.Bytes())
	}
	b, err := d.ReadByte(time.Second)
	if err != nil || b != 0xA7 {
		t.Fatalf("ReadByte = %#x, %v", b, err)
	}
}

func TestNotRunning(t *testing.T) {
	tr := &fakeTransport{}
	d := New(1, tr)
	if _, err := d.Write([]byte("x"), time.Second); !errcode.Is(err, errcode.InvalidState) {
		t.Fatalf("write before init = %v", err)
	}
}

func TestReconfigureClosesTransport(t *testing.T) {
	tr := &fakeTransport{}
	d := newRunning(t, tr)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if tr.closes != 1 {
		t.Fatalf("closes = %d", tr.closes)
	}
	d.SetConfig(Config{Device: "/dev/ttyUSB1", BaudRate: 9600})
	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if tr.cfg.BaudRate != 9600 || tr.configures != 2 {
		t.Fatalf("cfg = %+v configures = %d", tr.cfg, tr.configures)
	}
}
