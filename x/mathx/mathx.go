package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Between reports lo <= v && v <= hi (order-insensitive).
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// ScaleU32 maps x in [0,inMax] to [0,outMax] with 64-bit intermediates,
// clamping x first. Used for PWM duty and ADC linear estimates.
func ScaleU32(x, inMax, outMax uint32) uint32 {
	if inMax == 0 {
		return 0
	}
	if x > inMax {
		x = inMax
	}
	return uint32(uint64(x) * uint64(outMax) / uint64(inMax))
}
