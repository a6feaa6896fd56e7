package machine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benchcnc/cncrouter/gcode"
	"github.com/benchcnc/cncrouter/machine"
	"github.com/benchcnc/cncrouter/spindle"
	"github.com/benchcnc/cncrouter/util"
)

// fakeFiles is a minimal FileProvider backed by a temp directory, enough
// to drive the job executor in simulation mode without package filestore.
type fakeFiles struct {
	dir string
}

func newFakeFiles(t *testing.T) *fakeFiles {
	return &fakeFiles{dir: t.TempDir()}
}

func (f *fakeFiles) write(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fakeFiles) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.dir, name))
	return err == nil
}

func (f *fakeFiles) LineCount(name string) (int, error) {
	return gcode.LineCount(filepath.Join(f.dir, name))
}

func (f *fakeFiles) ReadLines(name string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return nil, err
	}
	s := string(b)
	if s == "" {
		return nil, nil
	}
	if s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return splitLines(s), nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

type noTools struct{}

func (noTools) Get(id int) (*machine.Tool, error) { return nil, errors.New("no tools configured") }

// fakeLink reports itself connected and discards everything written to
// it, used by tests that need the executor's link-connected (paced)
// branch rather than the immediate simulation branch.
type fakeLink struct{}

func (fakeLink) Connected() bool          { return true }
func (fakeLink) SendLine(string)          {}
func (fakeLink) RealtimeCommand(byte)     {}

func newTestController(files *fakeFiles) *machine.Controller {
	shim := spindle.NewShim(spindle.NoopVFD{}, util.Limiter{Min: 0, Max: 24000}, 5.0)
	return machine.New(nil, shim, spindle.NoopVacuum{}, files, noTools{}, nil)
}

func newPacedTestController(files *fakeFiles) *machine.Controller {
	shim := spindle.NewShim(spindle.NoopVFD{}, util.Limiter{Min: 0, Max: 24000}, 5.0)
	return machine.New(fakeLink{}, shim, spindle.NoopVacuum{}, files, noTools{}, nil)
}

func waitForStatus(t *testing.T, c *machine.Controller, want machine.Status, timeout time.Duration) machine.State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last machine.State
	for time.Now().Before(deadline) {
		last = c.Snapshot()
		if last.Status == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %v, last seen %v", want, last.Status)
	return last
}

func TestStartJobSingleRapid(t *testing.T) {
	files := newFakeFiles(t)
	files.write(t, "job.gcode", "G90\nG0 X10 Y0\n")
	c := newTestController(files)

	if err := c.StartJob("job.gcode", nil); err != nil {
		t.Fatal(err)
	}
	state := waitForStatus(t, c, machine.StatusComplete, time.Second)
	if state.MachinePos != (gcode.Vec3{10, 0, 0}) {
		t.Errorf("expected final pos [10,0,0], got %v", state.MachinePos)
	}
	if state.CurrentLine != 2 || state.TotalLines != 2 {
		t.Errorf("expected current_line=2 total_lines=2, got %d/%d", state.CurrentLine, state.TotalLines)
	}
}

func TestStartJobIncrementalSequence(t *testing.T) {
	files := newFakeFiles(t)
	files.write(t, "job.gcode", "G91\nG1 X5\nG1 Y5\nG1 Z-2\n")
	c := newTestController(files)

	if err := c.StartJob("job.gcode", nil); err != nil {
		t.Fatal(err)
	}
	state := waitForStatus(t, c, machine.StatusComplete, time.Second)
	if state.MachinePos != (gcode.Vec3{5, 5, -2}) {
		t.Errorf("expected final pos [5,5,-2], got %v", state.MachinePos)
	}
}

func TestStartJobSpindleDirectives(t *testing.T) {
	files := newFakeFiles(t)
	files.write(t, "job.gcode", "M3 S12000\nG1 X1\nM5\n")
	c := newTestController(files)

	if err := c.StartJob("job.gcode", nil); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, c, machine.StatusComplete, time.Second)
	final := c.Snapshot()
	if final.SpindleDir != spindle.Off {
		t.Errorf("expected final spindle direction Off after M5, got %v", final.SpindleDir)
	}
	if final.SpindleRPM != 12000 {
		t.Errorf("expected spindle rpm to remain 12000, got %f", final.SpindleRPM)
	}
}

func TestStartJobWhileRunningIsRejected(t *testing.T) {
	files := newFakeFiles(t)
	lines := ""
	for i := 0; i < 200; i++ {
		lines += "G1 X0.001\n"
	}
	files.write(t, "job.gcode", lines)
	c := newPacedTestController(files)

	if err := c.StartJob("job.gcode", nil); err != nil {
		t.Fatal(err)
	}
	err := c.StartJob("job.gcode", nil)
	if err == nil {
		t.Fatal("expected InvalidState error for concurrent start_job")
	}
	var merr *machine.Error
	if !errors.As(err, &merr) || merr.Kind != machine.KindInvalidState {
		t.Errorf("expected InvalidState error, got %v", err)
	}
	c.Stop()
}

func TestStartJobMissingFileIsNotFound(t *testing.T) {
	files := newFakeFiles(t)
	c := newTestController(files)
	err := c.StartJob("nonexistent.gcode", nil)
	var merr *machine.Error
	if !errors.As(err, &merr) || merr.Kind != machine.KindNotFound {
		t.Errorf("expected NotFound error, got %v", err)
	}
}

func TestPauseThenStop(t *testing.T) {
	files := newFakeFiles(t)
	lines := ""
	for i := 0; i < 500; i++ {
		lines += "G1 X0.001\n"
	}
	files.write(t, "job.gcode", lines)
	c := newPacedTestController(files)

	if err := c.StartJob("job.gcode", nil); err != nil {
		t.Fatal(err)
	}
	c.Pause()
	waitForStatus(t, c, machine.StatusPaused, 200*time.Millisecond)

	c.Stop()
	waitForStatus(t, c, machine.StatusStopped, time.Second)
}

func TestJogInSimulation(t *testing.T) {
	files := newFakeFiles(t)
	c := newTestController(files)

	if err := c.Jog("x", 2.5); err != nil {
		t.Fatal(err)
	}
	state := c.Snapshot()
	if state.MachinePos != (gcode.Vec3{2.5, 0, 0}) {
		t.Errorf("expected pos [2.5,0,0], got %v", state.MachinePos)
	}
	if state.Status != machine.StatusIdle {
		t.Errorf("expected jog not to change status, got %v", state.Status)
	}
}

func TestJogInvalidAxis(t *testing.T) {
	files := newFakeFiles(t)
	c := newTestController(files)
	err := c.Jog("w", 1.0)
	var merr *machine.Error
	if !errors.As(err, &merr) || merr.Kind != machine.KindInvalidArgument {
		t.Errorf("expected InvalidArgument error, got %v", err)
	}
}

func TestSetWorkOffsetRoundTrips(t *testing.T) {
	files := newFakeFiles(t)
	c := newTestController(files)
	offset := gcode.Vec3{1, 2, 3}
	c.SetWorkOffset(offset)
	if c.Snapshot().WorkOffset != offset {
		t.Errorf("expected work offset to round trip, got %v", c.Snapshot().WorkOffset)
	}
}

func TestEmptyFileYieldsComplete(t *testing.T) {
	files := newFakeFiles(t)
	files.write(t, "empty.gcode", "")
	c := newTestController(files)
	if err := c.StartJob("empty.gcode", nil); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, c, machine.StatusComplete, time.Second)
}
