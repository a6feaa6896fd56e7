package broadcast_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benchcnc/cncrouter/broadcast"
	"github.com/benchcnc/cncrouter/machine"
)

type fakeSource struct{}

func (fakeSource) Snapshot() machine.State {
	return machine.State{Status: machine.StatusIdle}
}

type recordingSub struct {
	mu    sync.Mutex
	count int
	fail  bool
}

func (r *recordingSub) Send(machine.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.count++
	return nil
}

func (r *recordingSub) seen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := broadcast.New(fakeSource{}, nil)
	sub := &recordingSub{}
	b.Register(sub)
	b.Start()
	defer b.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sub.seen() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if sub.seen() == 0 {
		t.Fatal("expected at least one delivery")
	}
}

func TestBroadcasterUnregistersFailingSubscriber(t *testing.T) {
	b := broadcast.New(fakeSource{}, nil)
	sub := &recordingSub{fail: true}
	b.Register(sub)
	if b.Count() != 1 {
		t.Fatalf("expected 1 registered subscriber, got %d", b.Count())
	}
	b.Start()
	defer b.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.Count() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Count() != 0 {
		t.Fatal("expected failing subscriber to be unregistered")
	}
}

func TestBroadcasterIndependentSubscribers(t *testing.T) {
	b := broadcast.New(fakeSource{}, nil)
	good := &recordingSub{}
	bad := &recordingSub{fail: true}
	b.Register(good)
	b.Register(bad)
	b.Start()
	defer b.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && good.seen() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if good.seen() == 0 {
		t.Fatal("expected the good subscriber to keep receiving despite the bad one failing")
	}
}
