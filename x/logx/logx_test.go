package logx

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestComponentTagAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel(LevelInfo)

	l := New("ADC1")
	l.Debugf("hidden %d", 1)
	l.Infof("raw=%d mv=%d", 2048, 550)
	l.Errorf("bus fault on 0x%x", 0x3C)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line emitted below min level")
	}
	if !strings.Contains(out, "[ADC1] info: raw=2048 mv=550") {
		t.Fatalf("missing tagged info line, got %q", out)
	}
	if !strings.Contains(out, "[ADC1] error: bus fault on 0x3c") {
		t.Fatalf("missing error line, got %q", out)
	}
}
