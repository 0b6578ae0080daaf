// Package logx is the HAL's component-tagged diagnostic log.
// Output goes through a build-tag selected backend: fmt on host,
// println-compatible formatting on MCU builds.
package logx

import "sync/atomic"

type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

var minLevel atomic.Uint32

func init() { minLevel.Store(uint32(LevelInfo)) }

// SetLevel sets the process-wide minimum emitted level.
func SetLevel(l Level) { minLevel.Store(uint32(l)) }

func enabled(l Level) bool { return uint32(l) >= minLevel.Load() }

func (l Level) tag() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "?"
}

// Logger tags every line with the owning component's name.
// The zero value logs with an empty tag; drivers construct one via New.
type Logger struct {
	component string
}

func New(component string) Logger { return Logger{component: component} }

func (l Logger) Component() string { return l.component }

func (l Logger) Debugf(format string, a ...any) { l.emit(LevelDebug, format, a...) }
func (l Logger) Infof(format string, a ...any)  { l.emit(LevelInfo, format, a...) }
func (l Logger) Warnf(format string, a ...any)  { l.emit(LevelWarn, format, a...) }
func (l Logger) Errorf(format string, a ...any) { l.emit(LevelError, format, a...) }

func (l Logger) emit(lv Level, format string, a ...any) {
	if !enabled(lv) {
		return
	}
	write(lv, l.component, format, a)
}
