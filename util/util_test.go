package util_test

import (
	"testing"

	"github.com/benchcnc/cncrouter/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: 0, Max: 24000}
	if !l.Check(12000) {
		t.Errorf("expected 12000 to be within [0,24000]")
	}
	if l.Check(30000) {
		t.Errorf("expected 30000 to be outside [0,24000]")
	}
}
