package machine

import (
	"github.com/benchcnc/cncrouter/gcode"
	"github.com/benchcnc/cncrouter/spindle"
)

// Status is one of the seven legal machine states in the §4.5 graph.
type Status string

// The legal machine states.
const (
	StatusIdle     Status = "Idle"
	StatusRunning  Status = "Running"
	StatusPaused   Status = "Paused"
	StatusHoming   Status = "Homing"
	StatusAlarm    Status = "Alarm"
	StatusStopped  Status = "Stopped"
	StatusComplete Status = "Complete"
)

// Tool is the descriptor carried on State.Tool and persisted by
// the tool store external collaborator.
type Tool struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	DiameterMM float64           `json:"diameter_mm"`
	LengthMM   float64           `json:"length_mm"`
	RPM        float64           `json:"rpm"`
	FeedMMMin  float64           `json:"feed_mm_min"`
	Direction  spindle.Direction `json:"direction"`
	Climb      bool              `json:"climb"`
}

// State is the single authoritative machine state value, mutated only
// under Controller's exclusive lock. Snapshot returns a deep copy of it.
type State struct {
	Status      Status     `json:"status"`
	MachinePos  gcode.Vec3 `json:"machine_pos"`
	WorkOffset  gcode.Vec3 `json:"work_offset"`
	FeedRate    float64    `json:"feed_rate"`
	SpindleRPM  float64    `json:"spindle_rpm"`
	SpindleDir  spindle.Direction `json:"spindle_dir"`
	Tool        *Tool      `json:"tool,omitempty"`
	CurrentLine int        `json:"current_line"`
	TotalLines  int        `json:"total_lines"`
	JobFile     *string    `json:"job_file,omitempty"`
}

// clone returns a deep copy of s; Tool and JobFile are pointers so they
// are copied rather than aliased.
func (s State) clone() State {
	out := s
	if s.Tool != nil {
		t := *s.Tool
		out.Tool = &t
	}
	if s.JobFile != nil {
		f := *s.JobFile
		out.JobFile = &f
	}
	return out
}

// initialState is Idle at the origin with zero work offset, as required
// by §3's lifecycle note.
func initialState() State {
	return State{
		Status:     StatusIdle,
		SpindleDir: spindle.Off,
	}
}
