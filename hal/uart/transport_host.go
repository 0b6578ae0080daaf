//go:build !(rp2040 || rp2350)

package uart

import (
	"time"

	"github.com/tarm/serial"
)

// hostTransport speaks to a real serial device through tarm/serial.
// The short read timeout keeps the driver's deadline loop responsive.
type hostTransport struct {
	port *serial.Port
}

// NewHostTransport returns the host serial backend. Config.Device names
// the device node, for example /dev/ttyUSB0.
func NewHostTransport() Transport { return &hostTransport{} }

func (t *hostTransport) Configure(cfg Config) error {
	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        int(cfg.BaudRate),
		ReadTimeout: 5 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	t.port = p
	return nil
}

func (t *hostTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *hostTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }

func (t *hostTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
