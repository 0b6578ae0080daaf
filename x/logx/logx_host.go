//go:build !(rp2040 || rp2350)

package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects host-side log output (tests capture it this way).
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

func write(lv Level, component, format string, a []any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "[%s] %s: %s\n", component, lv.tag(), fmt.Sprintf(format, a...))
}
