package errcode

import (
	"errors"
	"testing"
)

func TestOfBareCode(t *testing.T) {
	if got := Of(Timeout); got != Timeout {
		t.Fatalf("Of(Timeout) = %v", got)
	}
	if got := Of(nil); got != OK {
		t.Fatalf("Of(nil) = %v", got)
	}
	if got := Of(errors.New("boom")); got != Error {
		t.Fatalf("Of(plain error) = %v", got)
	}
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := errors.New("nack")
	e := Wrap(BusError, "I2C0", "write", cause)
	if Of(e) != BusError {
		t.Fatalf("Of(wrapped) = %v", Of(e))
	}
	if !errors.Is(e, cause) {
		t.Fatal("cause lost by Wrap")
	}
	if e.Error() != "I2C0: write: bus_error" {
		t.Fatalf("unexpected message %q", e.Error())
	}
}

func TestIs(t *testing.T) {
	if !Is(Wrap(InvalidState, "ADC1", "read", nil), InvalidState) {
		t.Fatal("Is failed on wrapped code")
	}
	if Is(Timeout, BusError) {
		t.Fatal("Is matched wrong code")
	}
}
