// Package broadcast is the Broadcaster: a periodic publisher that pushes
// a fresh machine state snapshot to zero or more live subscribers at
// ~5 Hz. Per-subscriber send failures unregister that subscriber without
// blocking delivery to the others.
package broadcast

import (
	"log"
	"sync"
	"time"

	"github.com/benchcnc/cncrouter/machine"
)

// publishInterval is the broadcaster's push rate, ~5 Hz per §4.6.
const publishInterval = 200 * time.Millisecond

// Subscriber receives machine state snapshots. Send must not block
// indefinitely; a websocket-backed implementation should carry its own
// write deadline.
type Subscriber interface {
	Send(machine.State) error
}

// Snapshotter is satisfied by *machine.Controller.
type Snapshotter interface {
	Snapshot() machine.State
}

// Broadcaster maintains the subscriber set and runs the publish loop.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[Subscriber]struct{}
	source Snapshotter
	logger *log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Broadcaster pulling snapshots from source. If logger is
// nil, log.Default() is used.
func New(source Snapshotter, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		subs:   make(map[Subscriber]struct{}),
		source: source,
		logger: logger,
	}
}

// Register adds sub to the subscriber set.
func (b *Broadcaster) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
}

// Unregister removes sub from the subscriber set; it is a no-op if sub
// was never registered.
func (b *Broadcaster) Unregister(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Count returns the number of currently registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Start launches the publish loop in a goroutine. Stop ends it.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.stop != nil {
		b.mu.Unlock()
		return
	}
	b.stop = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run()
}

// Stop ends the publish loop and waits for it to exit.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

// publish snapshots the source once and fans it out to every current
// subscriber; a failing subscriber is unregistered and does not block
// delivery to the rest. Ordering across subscribers is unspecified.
func (b *Broadcaster) publish() {
	state := b.source.Snapshot()

	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Send(state); err != nil {
			b.logger.Printf("broadcast: unregistering subscriber after send error: %v", err)
			b.Unregister(sub)
		}
	}
}
