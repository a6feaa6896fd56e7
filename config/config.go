// Package config describes the environment- and file-driven configuration
// for cncrouterd. It is layered with koanf the way cmd/multiserver layers
// its own configuration: compiled-in defaults, then an optional YAML file,
// then the environment, each overriding the last.
package config

import (
	"strconv"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/benchcnc/cncrouter/util"
)

// Pins holds the BCM GPIO pin numbers driving the VFD direction pair and
// the vacuum relay.
type Pins struct {
	Forward int `koanf:"forward"`
	Reverse int `koanf:"reverse"`
	Vacuum  int `koanf:"vacuum"`
}

// DAC describes the I2C DAC used for the spindle speed control voltage.
type DAC struct {
	Bus     int     `koanf:"bus"`
	Address int     `koanf:"address"`
	Vref    float64 `koanf:"vref"`
}

// Config is the complete set of knobs recognized at startup. Default
// returns sane conservative values for it (simulation on).
type Config struct {
	// Simulation, when true, skips opening the serial link on startup and
	// every peripheral sink is the no-op variant.
	Simulation bool `koanf:"simulation"`

	// GrblPort is the serial device path to the motion controller.
	GrblPort string `koanf:"grbl_port" yaml:"grbl_port"`

	// GrblBaud is the serial rate.
	GrblBaud int `koanf:"grbl_baud" yaml:"grbl_baud"`

	// Pins holds the direction and vacuum relay GPIO assignments.
	Pins Pins `koanf:"pins"`

	// DAC holds the I2C bus/address/reference voltage for the spindle DAC.
	DAC DAC `koanf:"dac"`

	// Spindle is the clamp applied to commanded spindle RPM before it
	// reaches the shim.
	Spindle util.Limiter `koanf:"spindle"`

	// ContentDir is where uploaded toolpath files are stored.
	ContentDir string `koanf:"content_dir" yaml:"content_dir"`

	// ToolDBPath names a tool definitions database file. No package reads
	// it: the tool store (package toolstore) is held in memory.
	ToolDBPath string `koanf:"tool_db_path" yaml:"tool_db_path"`

	// ListenAddr is the address httpapi.Server binds to.
	ListenAddr string `koanf:"listen_addr" yaml:"listen_addr"`
}

// Default returns the compiled-in defaults, matching original_source's
// config.py defaults where one exists.
func Default() Config {
	return Config{
		Simulation: true,
		GrblPort:   "/dev/ttyUSB0",
		GrblBaud:   115200,
		Pins: Pins{
			Forward: 17,
			Reverse: 27,
			Vacuum:  22,
		},
		DAC: DAC{
			Bus:     1,
			Address: 0x60,
			Vref:    5.0,
		},
		Spindle: util.Limiter{
			Min: 0,
			Max: 24000,
		},
		ContentDir: "./toolpaths",
		ToolDBPath: "./tools.db",
		ListenAddr: ":8080",
	}
}

// envKeys maps the §6 environment variable names onto koanf's dotted key
// space, since the env var names do not follow koanf's nesting convention.
var envKeys = map[string]string{
	"SIMULATION":      "simulation",
	"GRBL_PORT":       "grbl_port",
	"GRBL_BAUD":       "grbl_baud",
	"GPIO_FORWARD":    "pins.forward",
	"GPIO_REVERSE":    "pins.reverse",
	"GPIO_VACUUM":     "pins.vacuum",
	"I2C_BUS":         "dac.bus",
	"DAC_ADDRESS":     "dac.address",
	"DAC_VREF":        "dac.vref",
	"SPINDLE_MIN_RPM": "spindle.min",
	"SPINDLE_MAX_RPM": "spindle.max",
}

// Load builds a Config by layering defaults, an optional YAML file at
// path (silently skipped if absent), and the environment last so an
// operator can always override the file at deploy time.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such file") {
				return Config{}, err
			}
		}
	}

	if err := k.Load(env.ProviderWithValue("", "__", envProvider), nil); err != nil {
		return Config{}, err
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// truthy mirrors §6's SIMULATION enumeration: {0,1,true,false,yes,no,on,off}.
func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// envProvider translates a recognized §6 environment variable into its
// koanf key and a value of the type the target field expects, parsing
// DAC_ADDRESS as hex the way config.py's int(v, 16) does.
func envProvider(key, value string) (string, interface{}) {
	mapped, ok := envKeys[key]
	if !ok {
		return "", nil
	}
	switch key {
	case "SIMULATION":
		return mapped, truthy(value)
	case "DAC_ADDRESS":
		v := strings.TrimPrefix(strings.ToLower(value), "0x")
		n, err := strconv.ParseInt(v, 16, 64)
		if err != nil {
			return "", nil
		}
		return mapped, int(n)
	case "GRBL_BAUD", "GPIO_FORWARD", "GPIO_REVERSE", "GPIO_VACUUM", "I2C_BUS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", nil
		}
		return mapped, n
	case "DAC_VREF", "SPINDLE_MIN_RPM", "SPINDLE_MAX_RPM":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", nil
		}
		return mapped, f
	default:
		return mapped, value
	}
}
