package timeouts

import (
	"testing"
	"time"
)

func TestScale(t *testing.T) {
	base := 10 * time.Second
	scaled := Scale(base)

	// Factor is clamped to [1.0, 10.0], so the scaled value must be
	// within those bounds regardless of host speed.
	if scaled < base {
		t.Errorf("Scale(%v) = %v, below the 1.0x floor", base, scaled)
	}
	if scaled > 10*base {
		t.Errorf("Scale(%v) = %v, above the 10.0x ceiling", base, scaled)
	}
}

func TestGetFactor(t *testing.T) {
	f := GetFactor()
	if f < 1.0 || f > 10.0 {
		t.Errorf("GetFactor() = %v, outside clamp range", f)
	}

	// Repeat calls return the same calibration result.
	if again := GetFactor(); again != f {
		t.Errorf("GetFactor() not stable: %v then %v", f, again)
	}
}

func TestSetFactor(t *testing.T) {
	orig := GetFactor()
	defer SetFactor(orig)

	SetFactor(2.5)
	if got := GetFactor(); got != 2.5 {
		t.Errorf("after SetFactor(2.5), GetFactor() = %v", got)
	}
	if got := Scale(time.Second); got != 2500*time.Millisecond {
		t.Errorf("Scale(1s) with factor 2.5 = %v", got)
	}

	// Non-positive values are ignored.
	SetFactor(0)
	if got := GetFactor(); got != 2.5 {
		t.Errorf("SetFactor(0) should be ignored, got %v", got)
	}
}

func TestGetFactorString(t *testing.T) {
	s := GetFactorString()
	if s == "" {
		t.Error("GetFactorString returned empty string")
	}
}
