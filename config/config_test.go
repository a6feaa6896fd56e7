package config_test

import (
	"os"
	"testing"

	"github.com/benchcnc/cncrouter/config"
)

func TestLoadDefaults(t *testing.T) {
	c, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Simulation {
		t.Error("expected simulation=true by default")
	}
	if c.Spindle.Max != 24000 {
		t.Errorf("expected default max rpm 24000, got %f", c.Spindle.Max)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("SIMULATION", "false")
	os.Setenv("SPINDLE_MAX_RPM", "18000")
	os.Setenv("DAC_ADDRESS", "0x62")
	defer os.Unsetenv("SIMULATION")
	defer os.Unsetenv("SPINDLE_MAX_RPM")
	defer os.Unsetenv("DAC_ADDRESS")

	c, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Simulation {
		t.Error("expected SIMULATION=false to override default")
	}
	if c.Spindle.Max != 18000 {
		t.Errorf("expected spindle max 18000, got %f", c.Spindle.Max)
	}
	if c.DAC.Address != 0x62 {
		t.Errorf("expected dac address 0x62 (98), got %d", c.DAC.Address)
	}
}
