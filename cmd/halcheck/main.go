// cmd/halcheck/main.go
//
// Smoke check for the driver stack on the simulated board: bus scan,
// IMU register traffic, battery ADC, button interrupt, serial loopback
// and a motor duty ramp. Prints PASS/FAIL per step and exits non-zero
// on any failure.
package main

import (
	"fmt"
	"os"
	"time"

	"stampfly-hal-go/hal/adc"
	"stampfly-hal-go/hal/gpio"
	"stampfly-hal-go/hal/pwm"
	"stampfly-hal-go/hal/simhw"
	"stampfly-hal-go/hal/spi"
	"stampfly-hal-go/x/logx"
)

const opTimeout = 250 * time.Millisecond

func main() {
	logx.SetLevel(logx.LevelWarn)

	board := simhw.NewBoard()

	// Populate the board the way the airframe is wired.
	imu := board.Bus.Attach(0x68)
	imu.Regs[0x75] = 0x68
	board.Bus.Attach(0x0C) // magnetometer
	board.Analog.SetRaw(5, 2048)

	if err := board.BringUp(); err != nil {
		fmt.Println("[FAIL] bring-up:", err)
		os.Exit(1)
	}
	defer board.Shutdown()

	fails := 0
	check := func(name string, err error) {
		if err != nil {
			fails++
			fmt.Printf("[FAIL] %s: %v\n", name, err)
			return
		}
		fmt.Printf("[PASS] %s\n", name)
	}

	// Bus scan should see both sensors.
	found, err := board.I2C.Scan()
	if err == nil && len(found) != 2 {
		err = fmt.Errorf("found %d devices, want 2", len(found))
	}
	check("i2c scan", err)

	// IMU identity over I2C.
	who, err := board.I2C.ReadRegister8(0x68, 0x75, opTimeout)
	if err == nil && who != 0x68 {
		err = fmt.Errorf("whoami = %#x", who)
	}
	check("imu whoami", err)

	// IMU over SPI: wake it and read the register back.
	dev, err := board.SPI.AddDevice(spi.DeviceConfig{Mode: spi.Mode3, FrequencyHz: 8_000_000})
	if err == nil {
		err = board.SPI.WriteRegister8(dev, 0x6B, 0x01, opTimeout)
	}
	if err == nil {
		var v byte
		v, err = board.SPI.ReadRegister8(dev, 0x6B, opTimeout)
		if err == nil && v != 0x01 {
			err = fmt.Errorf("read back %#x", v)
		}
	}
	check("spi register", err)

	// Battery voltage through the ADC.
	err = board.ADC.ConfigureChannel(adc.ChannelConfig{Channel: 5, Attenuation: adc.Atten12dB})
	if err == nil {
		var r adc.ReadResult
		r, err = board.ADC.Read(5)
		if err == nil && r.MilliVolts != 550 {
			err = fmt.Errorf("battery = %d mV", r.MilliVolts)
		}
	}
	check("adc battery", err)

	// Active-low button on pin 9.
	presses := 0
	err = board.GPIO.ConfigurePin(gpio.PinConfig{Pin: 9, Direction: gpio.Input, Pull: gpio.PullUp, Edge: gpio.EdgeFalling, Invert: true})
	if err == nil {
		err = board.GPIO.SetInterrupt(9, func(pin uint8, level bool, tsUS int64) {
			if level {
				presses++
			}
		})
	}
	if err == nil {
		_ = board.Pins.SetLevel(9, true)
		board.Pins.Drive(9, false)
		board.Pins.Drive(9, true)
		if presses != 1 {
			err = fmt.Errorf("presses = %d", presses)
		}
	}
	check("button interrupt", err)

	// Serial loopback.
	_, err = board.UART.Write([]byte("halcheck"), opTimeout)
	if err == nil {
		buf := make([]byte, 8)
		_, err = board.UART.Read(buf, opTimeout)
		if err == nil && string(buf) != "halcheck" {
			err = fmt.Errorf("loopback = %q", buf)
		}
	}
	check("uart loopback", err)

	// Motor duty ramp on channel 0.
	err = board.Motor.ConfigureTimer(pwm.TimerConfig{Timer: 0, FrequencyHz: 300, Resolution: 12})
	if err == nil {
		err = board.Motor.ConfigureChannel(pwm.ChannelConfig{Channel: 0, Timer: 0, Pin: 42})
	}
	if err == nil {
		for _, pct := range []uint32{0, 25, 50, 75, 100} {
			if err = board.Motor.SetDutyPercent(0, pct); err != nil {
				break
			}
		}
		if err == nil && board.PWM.Duty(0) != 4095 {
			err = fmt.Errorf("duty = %d", board.PWM.Duty(0))
		}
	}
	check("motor pwm", err)

	if fails > 0 {
		fmt.Printf("halcheck: %d step(s) failed\n", fails)
		os.Exit(1)
	}
	fmt.Println("halcheck: all steps passed")
}
