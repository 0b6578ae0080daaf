package i2c

import (
	"time"

	"tinygo.org/x/drivers"
)

// Compat adapts a Driver to the tinygo drivers.I2C contract so existing
// device drivers (sensors, IMUs) run on top of the transaction engine.
type Compat struct {
	D       *Driver
	Timeout time.Duration
}

var _ drivers.I2C = Compat{}

func NewCompat(d *Driver) Compat {
	return Compat{D: d, Timeout: 25 * time.Millisecond}
}

// Tx maps the drivers.I2C exchange onto the engine's framed operations:
// write+read becomes a single repeated-START transaction.
func (c Compat) Tx(addr uint16, w, r []byte) error {
	t := c.Timeout
	if t <= 0 {
		t = 25 * time.Millisecond
	}
	switch {
	case len(w) > 0 && len(r) > 0:
		return c.D.WriteRead(byte(addr), w, r, t)
	case len(w) > 0:
		return c.D.Write(byte(addr), w, t)
	case len(r) > 0:
		b, err := c.D.Read(byte(addr), len(r), t)
		if err != nil {
			return err
		}
		copy(r, b)
		return nil
	}
	return nil
}
