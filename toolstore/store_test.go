package toolstore_test

import (
	"testing"

	"github.com/benchcnc/cncrouter/machine"
	"github.com/benchcnc/cncrouter/spindle"
	"github.com/benchcnc/cncrouter/toolstore"
)

func TestCreateGetRoundTrip(t *testing.T) {
	s := toolstore.New()
	created := s.Create(machine.Tool{Name: "1/4in endmill", DiameterMM: 6.35, LengthMM: 25, RPM: 18000, FeedMMMin: 900, Direction: spindle.CW})
	if created.ID != 1 {
		t.Fatalf("expected first tool to get id 1, got %d", created.ID)
	}
	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "1/4in endmill" {
		t.Errorf("expected round-tripped name, got %q", got.Name)
	}
}

func TestGetMissingIsError(t *testing.T) {
	s := toolstore.New()
	if _, err := s.Get(99); err == nil {
		t.Fatal("expected error for missing tool")
	}
}

func TestDeleteMissingIsError(t *testing.T) {
	s := toolstore.New()
	if err := s.Delete(99); err == nil {
		t.Fatal("expected error deleting missing tool")
	}
}

func TestListOrderedByID(t *testing.T) {
	s := toolstore.New()
	s.Create(machine.Tool{Name: "a"})
	s.Create(machine.Tool{Name: "b"})
	list := s.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Errorf("expected ordered list [a,b], got %+v", list)
	}
}
