package filestore_test

import (
	"testing"

	"github.com/benchcnc/cncrouter/filestore"
)

func TestSaveListDeleteRoundTrip(t *testing.T) {
	s, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save("../escape/job.gcode", []byte("G0 X1\n")); err != nil {
		t.Fatal(err)
	}
	if !s.Exists("job.gcode") {
		t.Fatal("expected basenamed save to land at job.gcode")
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "job.gcode" {
		t.Fatalf("expected one file job.gcode, got %+v", list)
	}

	if err := s.Delete("job.gcode"); err != nil {
		t.Fatal(err)
	}
	if s.Exists("job.gcode") {
		t.Fatal("expected file to be gone after delete")
	}
}

func TestDeleteMissingIsError(t *testing.T) {
	s, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("nope.gcode"); err == nil {
		t.Fatal("expected error deleting missing file")
	}
}

func TestPreviewAndLineCountAgree(t *testing.T) {
	s, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("job.gcode", []byte("G90\nG0 X10 Y0\n")); err != nil {
		t.Fatal(err)
	}

	n, err := s.LineCount("job.gcode")
	if err != nil {
		t.Fatal(err)
	}
	lines, err := s.ReadLines("job.gcode")
	if err != nil {
		t.Fatal(err)
	}
	if n != len(lines) {
		t.Errorf("LineCount (%d) disagrees with ReadLines (%d)", n, len(lines))
	}

	preview, err := s.Preview("job.gcode")
	if err != nil {
		t.Fatal(err)
	}
	if len(preview.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(preview.Segments))
	}
}
