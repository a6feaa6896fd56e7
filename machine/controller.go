// Package machine is the Machine Controller: the authoritative state
// machine that mediates between the operator surface, the Motion-
// Controller Link, and the spindle/vacuum peripherals. It owns the
// single exclusive lock guarding State and runs the job executor
// that streams a toolpath to the link (or, absent a link, to an
// in-process Move Tracker) under operator control.
package machine

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benchcnc/cncrouter/gcode"
	"github.com/benchcnc/cncrouter/grbl"
	"github.com/benchcnc/cncrouter/spindle"
)

// pauseGatePeriod is how often the executor rechecks for Paused/stop
// while gated, per §5's suspension point list.
const pauseGatePeriod = 50 * time.Millisecond

// interLineDwell bounds the line rate to the motion controller to
// roughly 500 lines/s when the link is connected.
const interLineDwell = 2 * time.Millisecond

// vacuumOffDwell is the grace delay before the vacuum relay drops at job
// end, applied uniformly whether the job completed or was stopped.
const vacuumOffDwell = 500 * time.Millisecond

// defaultJogFeed is used when a jog request does not specify a feed rate.
const defaultJogFeed = 500.0

// Link is the subset of grbl.Link the controller depends on; it is an
// interface so tests can exercise the executor without a real serial
// device.
type Link interface {
	Connected() bool
	SendLine(string)
	RealtimeCommand(byte)
}

// FileProvider is the narrow contract the controller needs from the
// on-disk toolpath store (see package filestore for the real adapter).
type FileProvider interface {
	Exists(filename string) bool
	LineCount(filename string) (int, error)
	ReadLines(filename string) ([]string, error)
}

// ToolProvider is the narrow contract the controller needs from the tool
// definitions store (see package toolstore for the real adapter).
type ToolProvider interface {
	Get(id int) (*Tool, error)
}

// Controller owns State behind a single exclusive lock.
type Controller struct {
	mu    sync.Mutex
	state State

	stopFlag atomic.Bool
	tracker  *gcode.Tracker

	link   Link
	shim   *spindle.Shim
	vacuum spindle.VacuumSink

	files FileProvider
	tools ToolProvider

	logger *log.Logger
}

// New returns a Controller wired to link (may be nil to always run in
// simulation mode), the spindle shim, the vacuum sink, and the file/tool
// providers. If logger is nil, log.Default() is used.
func New(link Link, shim *spindle.Shim, vacuum spindle.VacuumSink, files FileProvider, tools ToolProvider, logger *log.Logger) *Controller {
	if vacuum == nil {
		vacuum = spindle.NoopVacuum{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		state:   initialState(),
		tracker: gcode.NewTracker(),
		link:    link,
		shim:    shim,
		vacuum:  vacuum,
		files:   files,
		tools:   tools,
		logger:  logger,
	}
}

// Snapshot returns a deep copy of the current machine state. It never
// blocks on I/O.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) linkConnected() bool {
	return c.link != nil && c.link.Connected()
}

// StartJob begins streaming filename to the motion controller (or, in
// simulation, to the move tracker). See §4.5 for the precondition and
// setup sequence.
func (c *Controller) StartJob(filename string, toolID *int) error {
	if !c.files.Exists(filename) {
		return ErrNotFound(fmt.Sprintf("toolpath file not found: %s", filename))
	}
	total, err := c.files.LineCount(filename)
	if err != nil {
		return ErrNotFound(fmt.Sprintf("toolpath file not found: %s", filename))
	}
	lines, err := c.files.ReadLines(filename)
	if err != nil {
		return ErrNotFound(fmt.Sprintf("toolpath file not found: %s", filename))
	}

	c.mu.Lock()
	if c.state.Status == StatusRunning || c.state.Status == StatusPaused {
		c.mu.Unlock()
		return ErrInvalidState("job already running")
	}
	c.state.Status = StatusRunning
	f := filename
	c.state.JobFile = &f
	c.state.CurrentLine = 0
	c.state.TotalLines = total
	c.mu.Unlock()

	if toolID != nil {
		if tool, err := c.tools.Get(*toolID); err == nil && tool != nil {
			c.mu.Lock()
			c.state.SpindleRPM = tool.RPM
			c.state.SpindleDir = tool.Direction
			t := *tool
			c.state.Tool = &t
			c.mu.Unlock()
			c.shim.Apply(tool.RPM, tool.Direction)
		}
	}

	c.vacuum.SetState(true)
	c.stopFlag.Store(false)
	c.tracker = gcode.NewTracker()

	go c.runJob(lines)
	return nil
}

// runJob is the job executor: it streams lines to the link or the move
// tracker, gated by the pause flag and the cooperative stop flag.
func (c *Controller) runJob(lines []string) {
	for idx := 1; idx <= len(lines); idx++ {
		if c.stopFlag.Load() {
			break
		}

		for {
			c.mu.Lock()
			paused := c.state.Status == StatusPaused
			c.mu.Unlock()
			if c.stopFlag.Load() || !paused {
				break
			}
			time.Sleep(pauseGatePeriod)
		}
		if c.stopFlag.Load() {
			break
		}

		line := strings.TrimSpace(lines[idx-1])
		if line == "" {
			continue
		}

		c.applySpindleTokens(line)

		if c.linkConnected() {
			c.link.SendLine(line)
			if !c.linkConnected() {
				// the send above drove the link into a fault and it tore
				// itself down; the job continues against the move tracker
				// from here, but the drop is worth a log line
				c.logger.Println(wrapFault(fmt.Errorf("link disconnected while streaming line %d", idx), "job executor"))
			}
			c.mu.Lock()
			c.state.CurrentLine = idx
			c.mu.Unlock()
			time.Sleep(interLineDwell)
		} else {
			c.tracker.Consume(line)
			c.mu.Lock()
			c.state.MachinePos = c.tracker.Position()
			c.state.CurrentLine = idx
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	if c.stopFlag.Load() {
		c.state.Status = StatusStopped
	} else {
		c.state.Status = StatusComplete
	}
	c.mu.Unlock()

	time.Sleep(vacuumOffDwell)
	c.vacuum.SetState(false)
}

// applySpindleTokens scans line for M3/M4/M5 and an S word, updates the
// state under lock, and always re-applies the shim with the now-current
// pair, matching the original executor calling the shim on every line.
func (c *Controller) applySpindleTokens(line string) {
	upper := strings.ToUpper(line)

	var dir spindle.Direction
	dirSet := false
	switch {
	case strings.Contains(upper, "M3"):
		dir, dirSet = spindle.CW, true
	case strings.Contains(upper, "M4"):
		dir, dirSet = spindle.CCW, true
	case strings.Contains(upper, "M5"):
		dir, dirSet = spindle.Off, true
	}

	var rpm float64
	rpmSet := false
	for _, tok := range strings.Fields(upper) {
		if len(tok) > 1 && tok[0] == 'S' {
			if v, err := strconv.ParseFloat(tok[1:], 64); err == nil {
				rpm, rpmSet = v, true
			}
		}
	}

	c.mu.Lock()
	if rpmSet {
		c.state.SpindleRPM = rpm
	}
	if dirSet {
		c.state.SpindleDir = dir
	}
	curRPM := c.state.SpindleRPM
	curDir := c.state.SpindleDir
	c.mu.Unlock()

	if c.shim != nil {
		c.shim.Apply(curRPM, curDir)
	}
}

// Pause requests a feed hold. If connected, a real-time '!' is sent
// first; under lock, Running transitions to Paused.
func (c *Controller) Pause() {
	if c.linkConnected() {
		c.link.RealtimeCommand(grbl.CmdFeedHold)
	}
	c.mu.Lock()
	if c.state.Status == StatusRunning {
		c.state.Status = StatusPaused
	}
	c.mu.Unlock()
}

// Resume requests a cycle start. If connected, a real-time '~' is sent
// first; under lock, Paused transitions to Running.
func (c *Controller) Resume() {
	if c.linkConnected() {
		c.link.RealtimeCommand(grbl.CmdCycleStart)
	}
	c.mu.Lock()
	if c.state.Status == StatusPaused {
		c.state.Status = StatusRunning
	}
	c.mu.Unlock()
}

// Stop sets the cooperative stop flag, sends a soft reset if connected,
// and transitions status to Stopped. A stopped job cannot be resumed; a
// new StartJob is required.
func (c *Controller) Stop() {
	c.stopFlag.Store(true)
	if c.linkConnected() {
		c.link.RealtimeCommand(grbl.CmdSoftReset)
	}
	c.mu.Lock()
	c.state.Status = StatusStopped
	c.mu.Unlock()
}

// Home enqueues a homing cycle and transitions status to Homing. A
// subsequent link status frame reporting Idle is what ultimately clears
// Homing, per the §4.5 state graph.
func (c *Controller) Home() {
	if c.linkConnected() {
		c.link.SendLine("$H")
	}
	c.mu.Lock()
	c.state.Status = StatusHoming
	c.mu.Unlock()
}

// SetWorkOffset stores offset and, if connected, programs it on the
// motion controller with a G10 L20 P1 line.
func (c *Controller) SetWorkOffset(offset gcode.Vec3) {
	c.mu.Lock()
	c.state.WorkOffset = offset
	c.mu.Unlock()
	if c.linkConnected() {
		cmd := fmt.Sprintf("G10 L20 P1 X%v Y%v Z%v", offset[0], offset[1], offset[2])
		c.link.SendLine(cmd)
	}
}

// Jog nudges axis by delta at the default feed rate.
func (c *Controller) Jog(axis string, delta float64) error {
	return c.JogWithFeed(axis, delta, defaultJogFeed)
}

// JogWithFeed nudges axis by delta at feed. axis must be one of X/Y/Z
// (case-insensitive); any other value is an InvalidArgument error. If
// connected, a $J=G91 line is enqueued; otherwise machine_pos is adjusted
// directly. Status is never changed by a jog.
func (c *Controller) JogWithFeed(axis string, delta, feed float64) error {
	axisNorm := strings.ToUpper(axis)
	idx, ok := map[string]int{"X": 0, "Y": 1, "Z": 2}[axisNorm]
	if !ok {
		return ErrInvalidArgument(fmt.Sprintf("invalid jog axis %q", axis))
	}
	if feed <= 0 {
		feed = defaultJogFeed
	}

	if c.linkConnected() {
		cmd := fmt.Sprintf("$J=G91 %s%.3f F%.1f", axisNorm, delta, feed)
		c.link.SendLine(cmd)
		return nil
	}

	c.mu.Lock()
	c.state.MachinePos[idx] += delta
	c.mu.Unlock()
	return nil
}

// IngestStatus applies a sparse status update from the Motion-Controller
// Link. Only present fields are copied; the link's status word takes
// precedence over an internally-set status, including after a job
// completes locally (see §9's open question on status after job end).
func (c *Controller) IngestStatus(u grbl.StatusUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.Status != nil {
		c.state.Status = fromLinkStatus(*u.Status)
	}
	if u.MachinePos != nil {
		c.state.MachinePos = gcode.Vec3(*u.MachinePos)
	}
	if u.WorkOffset != nil {
		c.state.WorkOffset = gcode.Vec3(*u.WorkOffset)
	}
	if u.FeedRate != nil {
		c.state.FeedRate = *u.FeedRate
	}
	if u.SpindleRPM != nil {
		c.state.SpindleRPM = *u.SpindleRPM
	}
}

func fromLinkStatus(s grbl.Status) Status {
	switch s {
	case grbl.StatusRunning:
		return StatusRunning
	case grbl.StatusPaused:
		return StatusPaused
	case grbl.StatusHoming:
		return StatusHoming
	case grbl.StatusAlarm:
		return StatusAlarm
	default:
		return StatusIdle
	}
}
