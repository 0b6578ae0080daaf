// Package adc reads the on-chip ADC: per-channel attenuation, hardware
// calibration with a linear fallback, and an exponential moving-average
// filter per channel.
package adc

import (
	"strconv"
	"sync"
	"time"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
	"stampfly-hal-go/x/mathx"
)

// Unit identifies a hardware ADC block.
type Unit uint8

// Attenuation selects the channel's input range.
type Attenuation uint8

const (
	Atten0dB Attenuation = iota
	Atten2_5dB
	Atten6dB
	Atten12dB
)

const (
	DefaultVrefMV   = 1100
	DefaultBitWidth = 12
	MaxChannel      = 9

	// Inter-sample pause used by ReadAverage.
	averageDelay = time.Millisecond
)

// Config describes the unit. BitWidth applies to every channel.
type Config struct {
	Unit     Unit
	BitWidth uint8
	VrefMV   uint32
}

// ChannelConfig is fixed at ConfigureChannel time except for the
// attenuation, which SetAttenuation may change later.
type ChannelConfig struct {
	Channel     uint8
	Attenuation Attenuation
}

// ReadResult is one converted sample. Calibrated reports whether the
// millivolt value came from a hardware calibration curve or from the
// linear estimate.
type ReadResult struct {
	Raw        uint16
	MilliVolts uint32
	Calibrated bool
}

// Sampler is the conversion backend for one unit.
type Sampler interface {
	Configure(cfg Config) error
	ConfigureChannel(cfg ChannelConfig) error
	Sample(channel uint8) (uint16, error)
	Close() error
}

// Calibrator builds per-channel calibration contexts. Context creation
// failing is not fatal: the channel falls back to the linear estimate.
type Calibrator interface {
	NewContext(unit Unit, atten Attenuation, bits uint8) (Context, error)
}

// Context converts a raw count to millivolts using a fitted curve.
type Context interface {
	RawToMilliVolts(raw uint16) (uint32, error)
	Close() error
}

type channel struct {
	cfg    ChannelConfig
	cal    Context // nil when running on the linear estimate
	ema    float64
	hasEMA bool
}

// Driver owns one ADC unit. The instance mutex serializes everything:
// channel state, calibration contexts and the backend sample calls.
type Driver struct {
	life *lifecycle.Machine

	mu       sync.Mutex
	cfg      Config
	sampler  Sampler
	calib    Calibrator // nil disables hardware calibration entirely
	channels [MaxChannel + 1]*channel
}

func New(unit Unit, s Sampler, c Calibrator) *Driver {
	return &Driver{
		life: lifecycle.New("ADC" + strconv.Itoa(int(unit))),
		cfg: Config{
			Unit:     unit,
			BitWidth: DefaultBitWidth,
			VrefMV:   DefaultVrefMV,
		},
		sampler: s,
		calib:   c,
	}
}

func (d *Driver) State() lifecycle.State { return d.life.State() }

func (d *Driver) SetConfig(cfg Config) {
	d.mu.Lock()
	cfg.Unit = d.cfg.Unit
	if cfg.BitWidth == 0 {
		cfg.BitWidth = DefaultBitWidth
	}
	if cfg.VrefMV == 0 {
		cfg.VrefMV = DefaultVrefMV
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
	d.mu.Lock()
	err := d.sampler.Configure(d.cfg)
	d.mu.Unlock()
	if err != nil {
		d.life.Log().Errorf("unit configure: %v", err)
	}
	return d.life.FinishInit(err)
}

func (d *Driver) Start() error { return d.life.Start() }
func (d *Driver) Stop() error  { return d.life.Stop() }

// Configure re-applies the unit configuration and replays every
// configured channel into the backend.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sampler.Configure(d.cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
	}
	for _, ch := range d.channels {
		if ch == nil {
			continue
		}
		if err := d.sampler.ConfigureChannel(ch.cfg); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
		}
	}
	return nil
}

// Reset drops every channel, its calibration context and filter state.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch == nil {
			continue
		}
		if ch.cal != nil {
			_ = ch.cal.Close()
		}
		d.channels[i] = nil
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch == nil {
			continue
		}
		if ch.cal != nil {
			_ = ch.cal.Close()
		}
		d.channels[i] = nil
	}
	return d.sampler.Close()
}

// ConfigureChannel sets a channel up and tries to calibrate it. A failed
// calibration is logged and the channel still works on the linear
// estimate.
func (d *Driver) ConfigureChannel(cfg ChannelConfig) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if cfg.Channel > MaxChannel {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sampler.ConfigureChannel(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure channel", err)
	}
	ch := &channel{cfg: cfg}
	ch.cal = d.newCalContext(cfg.Attenuation)
	if old := d.channels[cfg.Channel]; old != nil && old.cal != nil {
		_ = old.cal.Close()
	}
	d.channels[cfg.Channel] = ch
	return nil
}

// newCalContext is called with the mutex held.
func (d *Driver) newCalContext(atten Attenuation) Context {
	if d.calib == nil {
		return nil
	}
	ctx, err := d.calib.NewContext(d.cfg.Unit, atten, d.cfg.BitWidth)
	if err != nil {
		d.life.Log().Warnf("calibration unavailable, using linear estimate: %v", err)
		return nil
	}
	return ctx
}

// ConvertToVoltage is the linear estimate: raw scaled over the full-scale
// count at the configured reference voltage.
func (d *Driver) ConvertToVoltage(raw uint16) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linearLocked(raw)
}

func (d *Driver) linearLocked(raw uint16) uint32 {
	full := uint32(1)<<d.cfg.BitWidth - 1
	return mathx.ScaleU32(uint32(raw), full, d.cfg.VrefMV)
}

// Read takes one sample and converts it, preferring the channel's
// calibration curve. The instance mutex is held across sample and
// conversion so a concurrent recalibration cannot close the context
// mid-read.
func (d *Driver) Read(channelNum uint8) (ReadResult, error) {
	if err := d.life.RequireRunning(); err != nil {
		return ReadResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return ReadResult{}, errcode.NotFound
	}
	raw, err := d.sampler.Sample(channelNum)
	if err != nil {
		return ReadResult{}, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "read", err)
	}
	return d.convertLocked(ch, raw), nil
}

func (d *Driver) channelLocked(n uint8) *channel {
	if n > MaxChannel {
		return nil
	}
	return d.channels[n]
}

func (d *Driver) convertLocked(ch *channel, raw uint16) ReadResult {
	if ch.cal != nil {
		if mv, err := ch.cal.RawToMilliVolts(raw); err == nil {
			return ReadResult{Raw: raw, MilliVolts: mv, Calibrated: true}
		}
	}
	return ReadResult{Raw: raw, MilliVolts: d.linearLocked(raw)}
}

// ReadAverage takes count samples a millisecond apart and averages the
// raw counts before converting. Any sampling error aborts the whole run.
func (d *Driver) ReadAverage(channelNum uint8, count int) (ReadResult, error) {
	if count <= 0 {
		return ReadResult{}, errcode.InvalidArgument
	}
	if err := d.life.RequireRunning(); err != nil {
		return ReadResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return ReadResult{}, errcode.NotFound
	}
	var sum uint64
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(averageDelay)
		}
		raw, err := d.sampler.Sample(channelNum)
		if err != nil {
			return ReadResult{}, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "read average", err)
		}
		sum += uint64(raw)
	}
	return d.convertLocked(ch, uint16(sum/uint64(count))), nil
}

// ReadFiltered runs one sample through the channel's exponential moving
// average. The first call seeds the filter with the sample itself. The
// filtered raw value is truncated back to a count before conversion so
// repeated reads of a steady input converge exactly.
func (d *Driver) ReadFiltered(channelNum uint8, alpha float64) (ReadResult, error) {
	if !mathx.Between(alpha, 0, 1) {
		return ReadResult{}, errcode.InvalidArgument
	}
	if err := d.life.RequireRunning(); err != nil {
		return ReadResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return ReadResult{}, errcode.NotFound
	}
	raw, err := d.sampler.Sample(channelNum)
	if err != nil {
		return ReadResult{}, errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "read filtered", err)
	}
	if !ch.hasEMA {
		ch.ema = float64(raw)
		ch.hasEMA = true
	} else {
		ch.ema = alpha*float64(raw) + (1-alpha)*ch.ema
	}
	return d.convertLocked(ch, uint16(ch.ema)), nil
}

// ResetFilter clears the channel's EMA state so the next filtered read
// reseeds.
func (d *Driver) ResetFilter(channelNum uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return errcode.NotFound
	}
	ch.hasEMA = false
	ch.ema = 0
	return nil
}

// SetAttenuation reprograms the channel and rebuilds its calibration
// context, since the curve depends on the input range.
func (d *Driver) SetAttenuation(channelNum uint8, atten Attenuation) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return errcode.NotFound
	}
	cfg := ch.cfg
	cfg.Attenuation = atten
	if err := d.sampler.ConfigureChannel(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set attenuation", err)
	}
	ch.cfg = cfg
	if ch.cal != nil {
		_ = ch.cal.Close()
	}
	ch.cal = d.newCalContext(atten)
	return nil
}

// SetBitWidth reconfigures the unit and every configured channel, since
// both the full-scale count and the calibration curves change.
func (d *Driver) SetBitWidth(bits uint8) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if !mathx.Between(bits, 9, 13) {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.BitWidth = bits
	if err := d.sampler.Configure(d.cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set bit width", err)
	}
	for _, ch := range d.channels {
		if ch == nil {
			continue
		}
		if err := d.sampler.ConfigureChannel(ch.cfg); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set bit width", err)
		}
		if ch.cal != nil {
			_ = ch.cal.Close()
		}
		ch.cal = d.newCalContext(ch.cfg.Attenuation)
	}
	return nil
}

// Calibrate rebuilds one channel's calibration context.
func (d *Driver) Calibrate(channelNum uint8) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	if ch == nil {
		return errcode.NotFound
	}
	return d.calibrateLocked(channelNum, ch)
}

func (d *Driver) calibrateLocked(channelNum uint8, ch *channel) error {
	if ch.cal != nil {
		_ = ch.cal.Close()
		ch.cal = nil
	}
	if d.calib == nil {
		return errcode.Unsupported
	}
	ctx, err := d.calib.NewContext(d.cfg.Unit, ch.cfg.Attenuation, d.cfg.BitWidth)
	if err != nil {
		d.life.Log().Warnf("calibrate channel %d: %v", channelNum, err)
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "calibrate", err)
	}
	ch.cal = ctx
	return nil
}

// CalibrateAll calibrates every configured channel, best effort: it
// keeps going past failures and returns the last error seen.
func (d *Driver) CalibrateAll() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var last error
	for i, ch := range d.channels {
		if ch == nil {
			continue
		}
		if err := d.calibrateLocked(uint8(i), ch); err != nil {
			last = err
		}
	}
	return last
}

// Calibrated reports whether the channel currently has a hardware
// calibration context.
func (d *Driver) Calibrated(channelNum uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channelNum)
	return ch != nil && ch.cal != nil
}
