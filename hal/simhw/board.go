package simhw

import (
	"stampfly-hal-go/hal/adc"
	"stampfly-hal-go/hal/gpio"
	"stampfly-hal-go/hal/i2c"
	"stampfly-hal-go/hal/pwm"
	"stampfly-hal-go/hal/spi"
	"stampfly-hal-go/hal/uart"
)

// Board bundles one of every driver over simulated backends, laid out
// like the flight controller: an IMU on SPI, sensors on I2C, battery
// voltage on the ADC, motors on PWM.
type Board struct {
	Bus     *Bus
	SPIHost *SPIPort
	Analog  *Analog
	Pins    *Pins
	Serial  *Loopback
	PWM     *PWMBlock

	I2C   *i2c.Driver
	SPI   *spi.Driver
	ADC   *adc.Driver
	GPIO  *gpio.Driver
	UART  *uart.Driver
	Motor *pwm.Driver
}

// NewBoard wires the drivers to fresh simulated peripherals.
func NewBoard() *Board {
	b := &Board{
		Bus:     NewBus(),
		SPIHost: NewSPIPort(),
		Analog:  NewAnalog(),
		Pins:    NewPins(),
		Serial:  NewLoopback(),
		PWM:     NewPWMBlock(),
	}
	b.I2C = i2c.New(0, b.Bus)
	b.SPI = spi.New(2, b.SPIHost)
	b.ADC = adc.New(1, b.Analog, nil)
	b.GPIO = gpio.New(b.Pins)
	b.UART = uart.New(1, b.Serial)
	b.Motor = pwm.New(b.PWM)
	return b
}

// BringUp initializes and starts every driver, stopping at the first
// failure.
func (b *Board) BringUp() error {
	b.I2C.SetConfig(i2c.Config{SDAPin: 3, SCLPin: 4, FrequencyHz: 400_000})
	b.SPI.SetConfig(spi.Config{MOSIPin: 14, MISOPin: 43, SCLKPin: 44, CSPin: 46})
	b.UART.SetConfig(uart.Config{BaudRate: 115200})

	steps := []func() error{
		b.I2C.Initialize, b.I2C.Start,
		b.SPI.Initialize, b.SPI.Start,
		b.ADC.Initialize, b.ADC.Start,
		b.GPIO.Initialize, b.GPIO.Start,
		b.UART.Initialize, b.UART.Start,
		b.Motor.Initialize, b.Motor.Start,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops everything. Errors are ignored; simulated hardware
// cannot fail to stop.
func (b *Board) Shutdown() {
	_ = b.Motor.Stop()
	_ = b.UART.Stop()
	_ = b.GPIO.Stop()
	_ = b.ADC.Stop()
	_ = b.SPI.Stop()
	_ = b.I2C.Stop()
}
