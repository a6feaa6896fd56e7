// Package toolstore is the external collaborator that persists tool
// definitions. §1 scopes the relational store itself out of the core;
// this package provides the in-memory reference adapter the core
// consumes through machine.ToolProvider, with the same column shape
// spec.md §6 names for a real relational table:
// (id autoincrement, name, diameter_mm, length_mm, rpm, feed_mm_min,
// direction, climb).
package toolstore

import (
	"fmt"
	"sync"

	"github.com/benchcnc/cncrouter/machine"
)

// Store is a concurrency-safe in-memory tool table keyed by
// autoincrementing id, satisfying machine.ToolProvider.
type Store struct {
	mu     sync.Mutex
	nextID int
	tools  map[int]machine.Tool
}

// New returns an empty Store.
func New() *Store {
	return &Store{nextID: 1, tools: make(map[int]machine.Tool)}
}

// Get returns the tool with id, or an error if none exists.
func (s *Store) Get(id int) (*machine.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %d not found", id)
	}
	return &t, nil
}

// List returns every tool, ordered by id.
func (s *Store) List() []machine.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]machine.Tool, 0, len(s.tools))
	for id := 1; id < s.nextID; id++ {
		if t, ok := s.tools[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Create assigns t the next id and persists it.
func (s *Store) Create(t machine.Tool) machine.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	s.tools[t.ID] = t
	return t
}

// Update replaces the stored tool with matching id, returning an error
// if it does not exist.
func (s *Store) Update(t machine.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.ID]; !ok {
		return fmt.Errorf("tool %d not found", t.ID)
	}
	s.tools[t.ID] = t
	return nil
}

// Delete removes the tool with id, returning an error if it does not
// exist (the operator surface maps this to a 404 per §6).
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[id]; !ok {
		return fmt.Errorf("tool %d not found", id)
	}
	delete(s.tools, id)
	return nil
}
