//go:build rp2040 || rp2350

package uart

import (
	"context"
	"errors"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// mcuTransport drives the on-chip UART through uartx.
type mcuTransport struct {
	hw *uartx.UART
}

// NewMCUTransport returns the backend for a hardware UART. Ports other
// than 0 and 1 do not exist on this part.
func NewMCUTransport(port uint8) Transport {
	switch port {
	case 0:
		return &mcuTransport{hw: uartx.UART0}
	default:
		return &mcuTransport{hw: uartx.UART1}
	}
}

func (t *mcuTransport) Configure(cfg Config) error {
	if err := t.hw.Configure(uartx.UARTConfig{
		BaudRate: cfg.BaudRate,
		TX:       machine.Pin(cfg.TxPin),
		RX:       machine.Pin(cfg.RxPin),
	}); err != nil {
		return err
	}
	var par uartx.UARTParity
	switch cfg.Parity {
	case ParityEven:
		par = uartx.ParityEven
	case ParityOdd:
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	return t.hw.SetFormat(cfg.DataBits, cfg.StopBits, par)
}

func (t *mcuTransport) Write(p []byte) (int, error) { return t.hw.Write(p) }

func (t *mcuTransport) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	n, err := t.hw.RecvSomeContext(ctx, p)
	if errors.Is(err, context.DeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (t *mcuTransport) Close() error { return nil }
