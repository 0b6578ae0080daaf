// Package pwm drives PWM outputs: shared timers set the frequency and
// resolution, channels bind a pin to a timer and carry a duty cycle.
package pwm

import (
	"sync"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/hal/lifecycle"
	"stampfly-hal-go/x/mathx"
)

const (
	MaxTimer   = 3
	MaxChannel = 7

	DefaultFrequencyHz = 1000
	DefaultResolution  = 12
)

// TimerConfig fixes a timer's frequency and counter resolution.
type TimerConfig struct {
	Timer       uint8
	FrequencyHz uint32
	Resolution  uint8 // counter bits, 1..16
}

// ChannelConfig binds an output pin to a timer.
type ChannelConfig struct {
	Channel uint8
	Timer   uint8
	Pin     uint8
	Invert  bool
}

// Backend is the hardware port. SetDuty takes the raw counter value.
type Backend interface {
	ConfigureTimer(cfg TimerConfig) error
	ConfigureChannel(cfg ChannelConfig) error
	SetDuty(channel uint8, duty uint32) error
	StopChannel(channel uint8) error
	Close() error
}

type channelState struct {
	cfg  ChannelConfig
	duty uint32 // raw counter value last programmed
}

// Driver owns the PWM block.
type Driver struct {
	life *lifecycle.Machine

	mu       sync.Mutex
	back     Backend
	timers   [MaxTimer + 1]*TimerConfig
	channels [MaxChannel + 1]*channelState
}

func New(b Backend) *Driver {
	return &Driver{
		life: lifecycle.New("PWM"),
		back: b,
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

// Configure replays every stored timer and channel configuration and
// restores each channel's last duty.
func (d *Driver) Configure() error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, tc := range d.timers {
		if tc == nil {
			continue
		}
		if err := d.back.ConfigureTimer(*tc); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
		}
	}
	for i, ch := range d.channels {
		if ch == nil {
			continue
		}
		if err := d.back.ConfigureChannel(ch.cfg); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
		}
		if err := d.back.SetDuty(uint8(i), ch.duty); err != nil {
			return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure", err)
		}
	}
	return nil
}

// Stop suspends the block and idles every configured channel.
func (d *Driver) Stop() error {
	if err := d.life.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch == nil {
			continue
		}
		if err := d.back.StopChannel(uint8(i)); err != nil {
			d.life.Log().Warnf("stop channel %d: %v", i, err)
		}
	}
	return nil
}

// Reset forgets all timer and channel configuration.
func (d *Driver) Reset() error {
	if err := d.life.Reset(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch != nil {
			_ = d.back.StopChannel(uint8(i))
			d.channels[i] = nil
		}
	}
	for i := range d.timers {
		d.timers[i] = nil
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch != nil {
			_ = d.back.StopChannel(uint8(i))
			d.channels[i] = nil
		}
	}
	return d.back.Close()
}

// ConfigureTimer programs a shared timer.
func (d *Driver) ConfigureTimer(cfg TimerConfig) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if cfg.Timer > MaxTimer || cfg.Resolution < 1 || cfg.Resolution > 16 {
		return errcode.InvalidArgument
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.back.ConfigureTimer(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure timer", err)
	}
	c := cfg
	d.timers[cfg.Timer] = &c
	return nil
}

// ConfigureChannel binds a channel to an already configured timer. The
// channel starts at zero duty.
func (d *Driver) ConfigureChannel(cfg ChannelConfig) error {
	if err := d.life.RequireInitialized(); err != nil {
		return err
	}
	if cfg.Channel > MaxChannel || cfg.Timer > MaxTimer {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timers[cfg.Timer] == nil {
		return errcode.Wrap(errcode.NotFound, d.life.ComponentName(), "configure channel", nil)
	}
	if err := d.back.ConfigureChannel(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "configure channel", err)
	}
	d.channels[cfg.Channel] = &channelState{cfg: cfg}
	return nil
}

// SetDutyPercent programs the channel to a duty cycle in percent,
// scaled linearly over the timer's full counter range.
func (d *Driver) SetDutyPercent(channel uint8, percent uint32) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	if percent > 100 {
		return errcode.InvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channel)
	if ch == nil {
		return errcode.NotFound
	}
	tc := d.timers[ch.cfg.Timer]
	full := uint32(1)<<tc.Resolution - 1
	duty := mathx.ScaleU32(percent, 100, full)
	if err := d.back.SetDuty(channel, duty); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set duty", err)
	}
	ch.duty = duty
	return nil
}

// SetDutyRaw programs the raw counter value directly.
func (d *Driver) SetDutyRaw(channel uint8, duty uint32) error {
	if err := d.life.RequireRunning(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channel)
	if ch == nil {
		return errcode.NotFound
	}
	tc := d.timers[ch.cfg.Timer]
	if duty > uint32(1)<<tc.Resolution-1 {
		return errcode.InvalidArgument
	}
	if err := d.back.SetDuty(channel, duty); err != nil {
		return errcode.Wrap(errcode.Of(err), d.life.ComponentName(), "set duty", err)
	}
	ch.duty = duty
	return nil
}

// Duty reports the raw counter value last programmed on the channel.
func (d *Driver) Duty(channel uint8) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channelLocked(channel)
	if ch == nil {
		return 0, errcode.NotFound
	}
	return ch.duty, nil
}

func (d *Driver) channelLocked(n uint8) *channelState {
	if n > MaxChannel {
		return nil
	}
	return d.channels[n]
}
