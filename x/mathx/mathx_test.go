package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 3); got != 3 {
		t.Fatalf("Clamp high = %d", got)
	}
	if got := Clamp(-1, 0, 3); got != 0 {
		t.Fatalf("Clamp low = %d", got)
	}
	if got := Clamp(2, 3, 0); got != 2 { // swapped bounds
		t.Fatalf("Clamp swapped = %d", got)
	}
}

func TestScaleU32(t *testing.T) {
	cases := []struct{ x, in, out, want uint32 }{
		{0, 4095, 1100, 0},
		{4095, 4095, 1100, 1100},
		{2048, 4095, 1100, 550},
		{5000, 4095, 1100, 1100}, // clamped
		{7, 0, 100, 0},
	}
	for _, c := range cases {
		if got := ScaleU32(c.x, c.in, c.out); got != c.want {
			t.Fatalf("ScaleU32(%d,%d,%d) = %d, want %d", c.x, c.in, c.out, got, c.want)
		}
	}
}
