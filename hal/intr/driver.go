// Package intr manages hardware timers and external interrupt sources,
// and keeps per-source dispatch statistics.
//
// Two timer kinds exist. High-resolution timers run on a period in
// microseconds and support SetPeriod; general-purpose timers count
// against an alarm value and support SetAlarm. Each rejects the other
// kind's knob with Unsupported rather than guessing.
package intr

import (
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
	"stampfly-hal-go/hal/registry"
)

// TimerKind selects the underlying timer hardware.
type TimerKind uint8

const (
	HighRes TimerKind = iota
	General
)

// TimerHandler runs on the dispatch goroutine with the fire timestamp.
type TimerHandler func(id uint32, tsUS int64)

// SourceHandler runs on the dispatch goroutine for one interrupt source.
type SourceHandler func(source uint32, tsUS int64)

// TimerConfig describes a timer at creation. PeriodUS applies to
// high-resolution timers, DividerHz and AlarmValue to general-purpose
// ones.
type TimerConfig struct {
	Kind       TimerKind
	Periodic   bool
	PeriodUS   uint64
	DividerHz  uint32
	AlarmValue uint64
	Handler    TimerHandler
}

// Statistics is a snapshot of one source's dispatch history. For timers
// the latency is fire time minus the scheduled deadline, and MissedCount
// counts whole periods the timer overran. For interrupt sources the
// latency is the handler's execution time.
type Statistics struct {
	TotalCount   uint64
	MissedCount  uint64
	MaxLatencyUS uint64
	AvgLatencyUS uint64
}

// TimerBackend is the hardware timer port.
type TimerBackend interface {
	Create(id uint32, cfg TimerConfig) error
	Start(id uint32) error
	Stop(id uint32) error
	SetPeriod(id uint32, periodUS uint64) error
	SetAlarm(id uint32, alarm uint64) error
	Delete(id uint32) error
}

// SourceBackend masks and unmasks external interrupt sources.
type SourceBackend interface {
	Enable(source uint32) error
	Disable(source uint32) error
}

type timerState struct {
	id  uint32
	cfg TimerConfig

	mu         sync.Mutex
	running    bool
	deadlineUS int64
	stats      stats
}

type sourceState struct {
	source  uint32
	handler SourceHandler
	nowUS   func() int64

	mu    sync.Mutex
	stats stats
}

// stats accumulates under its owner's mutex; AvgLatencyUS is a running
// cumulative mean.
type stats struct {
	total  uint64
	missed uint64
	maxLat uint64
	sumLat uint64
}

func (s *stats) record(latUS uint64) {
	s.total++
	s.sumLat += latUS
	if latUS > s.maxLat {
		s.maxLat = latUS
	}
}

func (s *stats) snapshot() Statistics {
	out := Statistics{
		TotalCount:   s.total,
		MissedCount:  s.missed,
		MaxLatencyUS: s.maxLat,
	}
	if s.total > 0 {
		out.AvgLatencyUS = s.sumLat / s.total
	}
	return out
}

// Driver owns the timer bank and the interrupt source mask.
type Driver struct {
	life *lifecycle.Machine

	mu      sync.Mutex
	timers  TimerBackend
	sources SourceBackend
	states  map[uint32]*timerState
	bound   map[uint32]*sourceState
	nextID  uint32

	// nowUS supplies the monotonic microsecond clock; tests override it.
	nowUS func() int64
}

func New(tb TimerBackend, sb SourceBackend) *Driver {
	return &Driver{
		life:    lifecycle.New("INTR"),
		timers:  tb,
		sources: sb,
		states:  map[uint32]*timerState{},
		bound:   map[uint32]*sourceState{},
		nowUS:   func() int64 { return time.Now().UnixMicro() },
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

func (d *Driver) Initialize() error {
	if err := d.life.BeginInit(); err != nil {
		return err
	}
	return d.life.FinishInit(nil)
}

func (d *Driver) Start() error { return d.life.Start() }

// Stop suspends the manager and halts every running timer.
func (d *Driver) Stop() error {
	if err := d.life.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ts := range d.states {
		ts.mu.Lock()
		running := ts.running
		ts.running = false
		ts.mu.Unlock()
		if running {
			if err := d.timers.Stop(id); err != nil {
				d.life.Log().Warnf("stop timer %d: %v", id, err)
			}
		}
	}
	return nil
}

// Reset deletes every timer and unbinds every interrupt source.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.states {
		_ = d.timers.Stop(id)
		_ = d.timers.Delete(id)
		registry.Timers.Unbind(id)
		delete(d.states, id)
	}
	for src := range d.bound {
		_ = d.sources.Disable(src)
		registry.Interrupts.Unbind(src)
		delete(d.bound, src)
	}
	return nil
}

// timerFired is the registry trampoline for timers. The owner carries
// the timer's state so dispatch needs no table lookup.
func timerFired(owner any, ev registry.Event) {
	ts := owner.(*timerState)
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return
	}
	var lat int64
	if ts.cfg.Kind == HighRes && ts.cfg.PeriodUS > 0 {
		lat = ev.TsUS - ts.deadlineUS
		if lat < 0 {
			lat = 0
		}
		period := int64(ts.cfg.PeriodUS)
		overrun := lat / period
		ts.stats.missed += uint64(overrun)
		if ts.cfg.Periodic {
			ts.deadlineUS += period * (overrun + 1)
		} else {
			ts.running = false
		}
	}
	ts.stats.record(uint64(lat))
	h := ts.cfg.Handler
	ts.mu.Unlock()
	if h != nil {
		h(ts.id, ev.TsUS)
	}
}

// CreateTimer allocates an id, programs the backend and binds the
// dispatch slot. The timer starts stopped.
func (d *Driver) CreateTimer(cfg TimerConfig) (uint32, error) {
	if err := d.life.RequireInitialized(); err != nil {
		return 0, err
	}
	if cfg.Kind == HighRes && cfg.PeriodUS == 0 {
		return 0, errcode.InvalidArgument
	}
	if cfg.Kind == General && cfg.AlarmValue == 0 {
		return 0, errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	ts := &timerState{id: id, cfg: cfg}
	if err := registry.Timers.Bind(id, ts, timerFired); err != nil {
		return 0, err
	}
	if err := d.timers.Create(id, cfg); err != nil {
		registry.Timers.Unbind(id)
		return 0, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "create timer", err)
	}
	d.states[id] = ts
	return id, nil
}

func (d *Driver) timerByID(id uint32) (*timerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := d.states[id]
	if ts == nil {
		return nil, errcode.NotFound
	}
	return ts, nil
}

// StartTimer arms the timer and pins its first deadline.
func (d *Driver) StartTimer(id uint32) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	ts, err := d.timerByID(id)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.running = true
	if ts.cfg.Kind == HighRes {
		ts.deadlineUS = d.nowUS() + int64(ts.cfg.PeriodUS)
	}
	ts.mu.Unlock()
	if err := d.timers.Start(id); err != nil {
		ts.mu.Lock()
		ts.running = false
		ts.mu.Unlock()
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "start timer", err)
	}
	return nil
}

func (d *Driver) StopTimer(id uint32) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	ts, err := d.timerByID(id)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.running = false
	ts.mu.Unlock()
	if err := d.timers.Stop(id); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "stop timer", err)
	}
	return nil
}

// DeleteTimer stops the timer, frees the backend slot and unbinds
// dispatch.
func (d *Driver) DeleteTimer(id uint32) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	ts := d.states[id]
	if ts == nil {
		d.mu.Unlock()
		return errcode.NotFound
	}
	delete(d.states, id)
	d.mu.Unlock()
	ts.mu.Lock()
	ts.running = false
	ts.mu.Unlock()
	_ = d.timers.Stop(id)
	registry.Timers.Unbind(id)
	if err := d.timers.Delete(id); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "delete timer", err)
	}
	return nil
}

// SetTimerPeriod changes a high-resolution timer's period. General
// purpose timers have no period, only an alarm value.
func (d *Driver) SetTimerPeriod(id uint32, periodUS uint64) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if periodUS == 0 {
		return errcode.InvalidArgument
	}
	ts, err := d.timerByID(id)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	if ts.cfg.Kind != HighRes {
		ts.mu.Unlock()
		return errcode.Wrap(errcode.Unsupported, d.life.ComponentName(), "set period", nil)
	}
	ts.cfg.PeriodUS = periodUS
	if ts.running {
		ts.deadlineUS = d.nowUS() + int64(periodUS)
	}
	ts.mu.Unlock()
	if err := d.timers.SetPeriod(id, periodUS); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set period", err)
	}
	return nil
}

// SetAlarmValue changes a general-purpose timer's alarm. High
// resolution timers have no alarm register.
func (d *Driver) SetAlarmValue(id uint32, alarm uint64) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if alarm == 0 {
		return errcode.InvalidArgument
	}
	ts, err := d.timerByID(id)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	if ts.cfg.Kind != General {
		ts.mu.Unlock()
		return errcode.Wrap(errcode.Unsupported, d.life.ComponentName(), "set alarm", nil)
	}
	ts.cfg.AlarmValue = alarm
	ts.mu.Unlock()
	if err := d.timers.SetAlarm(id, alarm); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set alarm", err)
	}
	return nil
}

// sourceFired is the registry trampoline for external interrupts. The
// recorded latency is the handler's execution time.
func sourceFired(owner any, ev registry.Event) {
	ss := owner.(*sourceState)
	begin := ss.nowUS()
	ss.handler(ss.source, ev.TsUS)
	elapsed := ss.nowUS() - begin
	if elapsed < 0 {
		elapsed = 0
	}
	ss.mu.Lock()
	ss.stats.record(uint64(elapsed))
	ss.mu.Unlock()
}

// RegisterInterrupt binds a handler to an external source and unmasks
// it.
func (d *Driver) RegisterInterrupt(source uint32, handler SourceHandler) error {
	if handler == nil {
		return errcode.InvalidArgument
	}
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ss := &sourceState{source: source, handler: handler, nowUS: d.nowUS}
	if err := registry.Interrupts.Bind(source, ss, sourceFired); err != nil {
		return err
	}
	if err := d.sources.Enable(source); err != nil {
		registry.Interrupts.Unbind(source)
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "register", err)
	}
	d.bound[source] = ss
	return nil
}

// UnregisterInterrupt masks the source and drops its binding. Safe to
// call for a source that was never registered.
func (d *Driver) UnregisterInterrupt(source uint32) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bound[source]; !ok {
		return nil
	}
	if err := d.sources.Disable(source); err != nil {
		d.life.Log().Warnf("mask source %d: %v", source, err)
	}
	registry.Interrupts.Unbind(source)
	delete(d.bound, source)
	return nil
}

// EnableInterrupt unmasks an already registered source.
func (d *Driver) EnableInterrupt(source uint32) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bound[source]; !ok {
		return errcode.NotFound
	}
	if err := d.sources.Enable(source); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "enable", err)
	}
	return nil
}

// DisableInterrupt masks a registered source but keeps the binding.
func (d *Driver) DisableInterrupt(source uint32) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bound[source]; !ok {
		return errcode.NotFound
	}
	if err := d.sources.Disable(source); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "disable", err)
	}
	return nil
}

// TimerStatistics snapshots one timer's dispatch statistics.
func (d *Driver) TimerStatistics(id uint32) (Statistics, error) {
	ts, err := d.timerByID(id)
	if err != nil {
		return Statistics{}, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stats.snapshot(), nil
}

// ResetTimerStatistics zeroes one timer's counters.
func (d *Driver) ResetTimerStatistics(id uint32) error {
	ts, err := d.timerByID(id)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.stats = stats{}
	ts.mu.Unlock()
	return nil
}

// InterruptStatistics snapshots one source's dispatch statistics.
func (d *Driver) InterruptStatistics(source uint32) (Statistics, error) {
	d.mu.Lock()
	ss := d.bound[source]
	d.mu.Unlock()
	if ss == nil {
		return Statistics{}, errcode.NotFound
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.stats.snapshot(), nil
}

// ResetInterruptStatistics zeroes one source's counters.
func (d *Driver) ResetInterruptStatistics(source uint32) error {
	d.mu.Lock()
	ss := d.bound[source]
	d.mu.Unlock()
	if ss == nil {
		return errcode.NotFound
	}
	ss.mu.Lock()
	ss.stats = stats{}
	ss.mu.Unlock()
	return nil
}
