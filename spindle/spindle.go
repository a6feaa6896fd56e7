// Package spindle implements the Spindle Shim and the narrow peripheral
// sink interfaces it drives: a direction pin pair (forward/reverse) and
// an analog speed output realized as a 12-bit I2C DAC write, plus the
// vacuum extraction relay. Real GPIO/I2C hardware backends are an
// external collaborator (see §1 Non-goals); this package exposes the
// sink interfaces and a no-op variant selectable at construction, never
// probing for hardware at runtime.
package spindle

import "github.com/benchcnc/cncrouter/util"

// Direction is the commanded spindle rotation.
type Direction string

// The three spindle directions a toolpath can command.
const (
	CW  Direction = "CW"
	CCW Direction = "CCW"
	Off Direction = "Off"
)

// VFDSink is the two-operation interface the Spindle Shim drives: a
// direction pin pair and an analog voltage output. A no-op implementation
// must be selectable at construction for hostless operation.
type VFDSink interface {
	SetDirection(Direction)
	SetVoltage(volts float64)
}

// VacuumSink switches the dust-extraction relay.
type VacuumSink interface {
	SetState(on bool)
}

// NoopVFD discards every write; it is the default sink when no hardware
// is configured, and the sink the machine and httpapi tests use.
type NoopVFD struct{}

// SetDirection implements VFDSink by doing nothing.
func (NoopVFD) SetDirection(Direction) {}

// SetVoltage implements VFDSink by doing nothing.
func (NoopVFD) SetVoltage(float64) {}

// NoopVacuum discards every write.
type NoopVacuum struct{}

// SetState implements VacuumSink by doing nothing.
func (NoopVacuum) SetState(bool) {}

// Shim translates a commanded (rpm, direction) pair into a direction-pin
// write followed by a clamped DAC voltage write, per §4.4: rpm is
// clamped to the configured bounds, then voltage is the clamped fraction
// of full scale times the DAC reference voltage.
type Shim struct {
	VFD    VFDSink
	Limits util.Limiter
	Vref   float64
}

// NewShim returns a Shim writing to sink, clamping to limits, scaled by
// vref. If sink is nil, NoopVFD is used.
func NewShim(sink VFDSink, limits util.Limiter, vref float64) *Shim {
	if sink == nil {
		sink = NoopVFD{}
	}
	return &Shim{VFD: sink, Limits: limits, Vref: vref}
}

// Apply clamps rpm to the shim's configured bounds, computes the
// corresponding DAC voltage, and writes direction before voltage, as
// required by §4.4 step 3.
func (s *Shim) Apply(rpm float64, dir Direction) (clampedRPM, volts float64) {
	clampedRPM = s.Limits.Clamp(rpm)
	max := s.Limits.Max
	if max == 0 {
		volts = 0
	} else {
		volts = clampedRPM / max * s.Vref
	}
	s.VFD.SetDirection(dir)
	s.VFD.SetVoltage(volts)
	return clampedRPM, volts
}
