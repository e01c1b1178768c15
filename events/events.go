/*
	Copyright 2025 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

			http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package events defines the immutable event graph consumed by partitioning:
// one Lamport-ordered chain of events per process, plus symmetric matching
// links pairing each send with its receive.
//
// Events live in a flat, indexed store.  All links between events are Refs
// into that store rather than pointers, so that downstream packages can keep
// per-event side tables (such as the owning partition) as plain slices.
package events

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// ProcessID identifies a single process (or rank, or thread) in the traced
// execution.
type ProcessID int

// Type is the kind of an event.
type Type int

const (
	// Local is a computation or other event with no message semantics.
	Local Type = iota
	// Send is the sending side of a message.
	Send
	// Receive is the receiving side of a message.
	Receive
)

func (t Type) String() string {
	switch t {
	case Local:
		return "local"
	case Send:
		return "send"
	case Receive:
		return "receive"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Key is an event's identity: the process it occurred on and its id within
// that process.
type Key struct {
	Process ProcessID
	ID      int
}

func (k Key) String() string {
	return fmt.Sprintf("p%d#%d", k.Process, k.ID)
}

// Compare orders Keys by process, then by id.
func (k Key) Compare(other Key) int {
	if c := cmp.Compare(k.Process, other.Process); c != 0 {
		return c
	}
	return cmp.Compare(k.ID, other.ID)
}

// Ref indexes an event within a Graph.
type Ref int

// NoRef is the Ref of a missing link.
const NoRef Ref = -1

// Valid returns true if the receiver refers to an event.
func (r Ref) Valid() bool {
	return r >= 0
}

// Event is a single traced event.  Start and End are in nanoseconds.
type Event struct {
	Key
	Type       Type
	Name       string
	Start, End float64
}

// Record is a single event as delivered by an ingestion collaborator, with
// its links expressed as event Keys.  A nil link is absent.
type Record struct {
	Event
	Prev, Next, Matching *Key
}

// Errors produced while validating event graph input.
var (
	// ErrDanglingLink is returned when a prev, next, or matching link refers
	// to an event that is not part of the input.
	ErrDanglingLink = errors.New("dangling event link")

	// ErrDuplicateEvent is returned when two records share a Key.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInconsistentLink is returned when prev/next links are not mutual
	// inverses within one process, or matching links are not symmetric or
	// do not pair a send with a receive.
	ErrInconsistentLink = errors.New("inconsistent event link")

	// ErrUnknownProcess is returned when an event lies on a process outside
	// the declared process universe.
	ErrUnknownProcess = errors.New("event on undeclared process")

	// ErrInvalidInterval is returned when an event ends before it starts, or
	// when either of its times is NaN or infinite.
	ErrInvalidInterval = errors.New("invalid event interval")
)

// Graph is an immutable set of events and their links.
type Graph struct {
	events              []Event
	prev, next, matches []Ref
	refsByKey           map[Key]Ref
	processes           []ProcessID
	heads               map[ProcessID]Ref
}

// NewGraph resolves the provided records into a Graph, verifying referential
// integrity.  If processes is empty, the process universe is the set of
// processes on which records occur.
func NewGraph(records []Record, processes []ProcessID) (*Graph, error) {
	g := &Graph{
		events:    make([]Event, len(records)),
		prev:      make([]Ref, len(records)),
		next:      make([]Ref, len(records)),
		matches:   make([]Ref, len(records)),
		refsByKey: make(map[Key]Ref, len(records)),
		heads:     map[ProcessID]Ref{},
	}
	declared := map[ProcessID]struct{}{}
	for _, p := range processes {
		declared[p] = struct{}{}
	}
	seen := map[ProcessID]struct{}{}
	for idx, rec := range records {
		if _, ok := g.refsByKey[rec.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, rec.Key)
		}
		if !isFinite(rec.Start) || !isFinite(rec.End) {
			return nil, fmt.Errorf("%w: %s spans %v-%v", ErrInvalidInterval, rec.Key, rec.Start, rec.End)
		}
		if rec.End < rec.Start {
			return nil, fmt.Errorf("%w: %s ends at %v before it starts at %v", ErrInvalidInterval, rec.Key, rec.End, rec.Start)
		}
		if len(declared) > 0 {
			if _, ok := declared[rec.Process]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, rec.Key)
			}
		}
		seen[rec.Process] = struct{}{}
		g.events[idx] = rec.Event
		g.refsByKey[rec.Key] = Ref(idx)
	}
	resolve := func(from Key, link string, to *Key) (Ref, error) {
		if to == nil {
			return NoRef, nil
		}
		ref, ok := g.refsByKey[*to]
		if !ok {
			return NoRef, fmt.Errorf("%w: %s link of %s points at unknown event %s", ErrDanglingLink, link, from, *to)
		}
		return ref, nil
	}
	for idx, rec := range records {
		var err error
		if g.prev[idx], err = resolve(rec.Key, "prev", rec.Prev); err != nil {
			return nil, err
		}
		if g.next[idx], err = resolve(rec.Key, "next", rec.Next); err != nil {
			return nil, err
		}
		if g.matches[idx], err = resolve(rec.Key, "matching", rec.Matching); err != nil {
			return nil, err
		}
	}
	if err := g.check(); err != nil {
		return nil, err
	}
	if len(declared) > 0 {
		g.processes = slices.Collect(maps.Keys(declared))
	} else {
		g.processes = slices.Collect(maps.Keys(seen))
	}
	slices.Sort(g.processes)
	return g, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Verifies link invariants and records each process's chain head.
func (g *Graph) check() error {
	for idx := range g.events {
		ref := Ref(idx)
		ev := g.events[idx]
		if p := g.prev[idx]; p.Valid() {
			if g.next[p] != ref {
				return fmt.Errorf("%w: %s has prev %s, whose next is not %s", ErrInconsistentLink, ev.Key, g.events[p].Key, ev.Key)
			}
			if g.events[p].Process != ev.Process {
				return fmt.Errorf("%w: prev link of %s crosses to process %d", ErrInconsistentLink, ev.Key, g.events[p].Process)
			}
		} else {
			if head, ok := g.heads[ev.Process]; ok {
				return fmt.Errorf("%w: process %d has two chain heads (%s and %s)", ErrInconsistentLink, ev.Process, g.events[head].Key, ev.Key)
			}
			g.heads[ev.Process] = ref
		}
		if n := g.next[idx]; n.Valid() {
			if g.prev[n] != ref {
				return fmt.Errorf("%w: %s has next %s, whose prev is not %s", ErrInconsistentLink, ev.Key, g.events[n].Key, ev.Key)
			}
		}
		if m := g.matches[idx]; m.Valid() {
			if g.matches[m] != ref {
				return fmt.Errorf("%w: %s matches %s, but not vice versa", ErrInconsistentLink, ev.Key, g.events[m].Key)
			}
			if m == ref {
				return fmt.Errorf("%w: %s matches itself", ErrInconsistentLink, ev.Key)
			}
			if mt := g.events[m].Type; !(ev.Type == Send && mt == Receive) && !(ev.Type == Receive && mt == Send) {
				return fmt.Errorf("%w: %s (%s) matches %s (%s); matches must pair a send with a receive", ErrInconsistentLink, ev.Key, ev.Type, g.events[m].Key, mt)
			}
		}
	}
	// A chain with no head is a prev/next cycle.
	chained := 0
	for _, head := range g.heads {
		for cursor := head; cursor.Valid(); cursor = g.next[cursor] {
			chained++
		}
	}
	if chained != len(g.events) {
		return fmt.Errorf("%w: %d events lie on cyclic prev/next chains", ErrInconsistentLink, len(g.events)-chained)
	}
	return nil
}

// Len returns the number of events in the receiver.
func (g *Graph) Len() int {
	return len(g.events)
}

// Refs returns every event Ref in the receiver, in ascending order.
func (g *Graph) Refs() []Ref {
	ret := make([]Ref, len(g.events))
	for idx := range ret {
		ret[idx] = Ref(idx)
	}
	return ret
}

// Event returns the event at the provided Ref.
func (g *Graph) Event(ref Ref) *Event {
	return &g.events[ref]
}

// Lookup returns the Ref of the event with the provided Key.
func (g *Graph) Lookup(key Key) (Ref, bool) {
	ref, ok := g.refsByKey[key]
	return ref, ok
}

// Prev returns the event preceding ref on its process, or NoRef.
func (g *Graph) Prev(ref Ref) Ref {
	return g.prev[ref]
}

// Next returns the event following ref on its process, or NoRef.
func (g *Graph) Next(ref Ref) Ref {
	return g.next[ref]
}

// Matching returns the event paired with ref by a message, or NoRef.
func (g *Graph) Matching(ref Ref) Ref {
	return g.matches[ref]
}

// Processes returns the universe of process ids, in ascending order.
func (g *Graph) Processes() []ProcessID {
	return g.processes
}

// Chain returns the events of the specified process in Lamport order.
func (g *Graph) Chain(process ProcessID) []Ref {
	head, ok := g.heads[process]
	if !ok {
		return nil
	}
	var ret []Ref
	for cursor := head; cursor.Valid(); cursor = g.next[cursor] {
		ret = append(ret, cursor)
	}
	return ret
}

// CommMatrix returns the number of messages sent between each pair of
// processes.  Rows are senders and columns receivers, both indexed by
// position in Processes().
func (g *Graph) CommMatrix() [][]int {
	index := make(map[ProcessID]int, len(g.processes))
	for idx, p := range g.processes {
		index[p] = idx
	}
	ret := make([][]int, len(g.processes))
	for idx := range ret {
		ret[idx] = make([]int, len(g.processes))
	}
	for idx, ev := range g.events {
		if ev.Type != Send {
			continue
		}
		if m := g.matches[idx]; m.Valid() {
			ret[index[ev.Process]][index[g.events[m].Process]]++
		}
	}
	return ret
}
