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

// Package partition groups the events of an event graph into partitions:
// sets of events that are causally ordered together.  Partitions are kept in
// a flat Store keyed by ID.  A partition's parents and children are the
// partitions reached by following its events' prev and next links across a
// partition boundary; they are derived on demand and cached until a merge
// invalidates them.
//
// Merging is destructive: the absorbed partition's ID is retired, and the
// Store redirects any later Resolve of that ID to the surviving partition.
// Retired IDs are never reused, and Get on a retired ID fails with
// ErrUnknownPartition.
package partition

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ilhamster/leapfrog/events"
)

// ID identifies a partition.
type ID int

// ErrUnknownPartition is returned when an operation references a partition
// ID that is unknown or has been retired by a merge.
var ErrUnknownPartition = errors.New("unknown partition")

// Grouping specifies how events are initially assigned to partitions.
type Grouping int

const (
	// SingleEvent places every event in its own partition.
	SingleEvent Grouping = iota
	// MatchedPairs places each matched send and receive together in one
	// partition; unmatched events are placed alone.
	MatchedPairs
)

func (g Grouping) String() string {
	switch g {
	case SingleEvent:
		return "single_event"
	case MatchedPairs:
		return "matched_pairs"
	default:
		return fmt.Sprintf("grouping(%d)", int(g))
	}
}

// ParseGrouping returns the Grouping with the provided name.
func ParseGrouping(name string) (Grouping, error) {
	for _, g := range []Grouping{SingleEvent, MatchedPairs} {
		if g.String() == name {
			return g, nil
		}
	}
	return SingleEvent, fmt.Errorf("unknown grouping '%s'", name)
}

// Partition is a set of events.  Partitions are equal iff their IDs are.
type Partition struct {
	id        ID
	events    []events.Ref
	processes []events.ProcessID
	minStart  float64
	maxEnd    float64

	// Derived neighbor sets; valid only when derived is true.
	derived           bool
	parents, children []ID
}

// ID returns the receiver's ID.
func (p *Partition) ID() ID {
	return p.id
}

// Equal returns true iff the receiver and other have the same ID.
func (p *Partition) Equal(other *Partition) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.id == other.id
}

// Events returns the receiver's events.  The returned slice must not be
// modified.
func (p *Partition) Events() []events.Ref {
	return p.events
}

// Len returns the number of events in the receiver.
func (p *Partition) Len() int {
	return len(p.events)
}

// Processes returns the processes on which the receiver's events occur, in
// ascending order.
func (p *Partition) Processes() []events.ProcessID {
	return p.processes
}

// MinStart returns the earliest start time among the receiver's events.
func (p *Partition) MinStart() float64 {
	return p.minStart
}

// MaxEnd returns the latest end time among the receiver's events.
func (p *Partition) MaxEnd() float64 {
	return p.maxEnd
}

// Store owns every live partition over an event graph, and each event's
// owning-partition back-reference.  A Store is not safe for concurrent
// mutation; once mutation is complete, Get, Owner, and the Partition accessors
// may be used concurrently, but Parents and Children may not, since they
// populate caches.
type Store struct {
	graph      *events.Graph
	owners     []ID
	partitions map[ID]*Partition
	redirects  map[ID]ID
	nextID     ID
}

// NewStore returns a new Store over the provided graph, with its events
// grouped into initial partitions according to grouping.  Partition IDs are
// assigned in ascending order of each partition's first event.
func NewStore(graph *events.Graph, grouping Grouping) *Store {
	s := &Store{
		graph:      graph,
		owners:     make([]ID, graph.Len()),
		partitions: make(map[ID]*Partition, graph.Len()),
		redirects:  map[ID]ID{},
	}
	assigned := make([]bool, graph.Len())
	for _, ref := range graph.Refs() {
		if assigned[ref] {
			continue
		}
		refs := []events.Ref{ref}
		assigned[ref] = true
		if grouping == MatchedPairs {
			if m := graph.Matching(ref); m.Valid() && !assigned[m] {
				refs = append(refs, m)
				assigned[m] = true
			}
		}
		s.add(refs)
	}
	return s
}

func (s *Store) add(refs []events.Ref) *Partition {
	p := &Partition{
		id:     s.nextID,
		events: refs,
	}
	s.nextID++
	for _, ref := range refs {
		s.owners[ref] = p.id
	}
	s.partitions[p.id] = p
	s.updateSummary(p)
	return p
}

// Recomputes p's process set and time bounds from its events.
func (s *Store) updateSummary(p *Partition) {
	p.minStart, p.maxEnd = math.Inf(1), math.Inf(-1)
	p.processes = nil
	for _, ref := range p.events {
		ev := s.graph.Event(ref)
		p.minStart = math.Min(p.minStart, ev.Start)
		p.maxEnd = math.Max(p.maxEnd, ev.End)
		p.processes = append(p.processes, ev.Process)
	}
	slices.Sort(p.processes)
	p.processes = slices.Compact(p.processes)
}

// Graph returns the event graph the receiver partitions.
func (s *Store) Graph() *events.Graph {
	return s.graph
}

// Len returns the number of live partitions.
func (s *Store) Len() int {
	return len(s.partitions)
}

// IDs returns the IDs of all live partitions, in ascending order.
func (s *Store) IDs() []ID {
	ret := make([]ID, 0, len(s.partitions))
	for id := range s.partitions {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// Get returns the live partition with the provided ID.
func (s *Store) Get(id ID) (*Partition, error) {
	p, ok := s.partitions[id]
	if !ok {
		if s.Retired(id) {
			return nil, fmt.Errorf("%w: partition %d was absorbed", ErrUnknownPartition, id)
		}
		return nil, fmt.Errorf("%w: partition %d", ErrUnknownPartition, id)
	}
	return p, nil
}

// Retired returns true if the provided ID was absorbed by a merge.
func (s *Store) Retired(id ID) bool {
	_, ok := s.redirects[id]
	return ok
}

// Resolve returns the ID of the live partition that the provided ID now
// refers to: the ID itself if it is live, or the partition that (directly or
// transitively) absorbed it.
func (s *Store) Resolve(id ID) (ID, error) {
	root := id
	for {
		next, ok := s.redirects[root]
		if !ok {
			break
		}
		root = next
	}
	if _, ok := s.partitions[root]; !ok {
		return root, fmt.Errorf("%w: partition %d", ErrUnknownPartition, id)
	}
	// Compress the redirect path.
	for cursor := id; cursor != root; {
		next := s.redirects[cursor]
		s.redirects[cursor] = root
		cursor = next
	}
	return root, nil
}

// Owner returns the ID of the partition owning the provided event.
func (s *Store) Owner(ref events.Ref) ID {
	return s.owners[ref]
}

func (s *Store) derive(p *Partition) {
	if p.derived {
		return
	}
	p.parents, p.children = nil, nil
	for _, ref := range p.events {
		if prev := s.graph.Prev(ref); prev.Valid() && s.owners[prev] != p.id {
			p.parents = append(p.parents, s.owners[prev])
		}
		if next := s.graph.Next(ref); next.Valid() && s.owners[next] != p.id {
			p.children = append(p.children, s.owners[next])
		}
	}
	slices.Sort(p.parents)
	p.parents = slices.Compact(p.parents)
	slices.Sort(p.children)
	p.children = slices.Compact(p.children)
	p.derived = true
}

// Parents returns the IDs of the partitions owning a prev event of any of the
// specified partition's events, excluding the partition itself, in ascending
// order.  The returned slice must not be modified.
func (s *Store) Parents(id ID) ([]ID, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.derive(p)
	return p.parents, nil
}

// Children returns the IDs of the partitions owning a next event of any of
// the specified partition's events, excluding the partition itself, in
// ascending order.  The returned slice must not be modified.
func (s *Store) Children(id ID) ([]ID, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.derive(p)
	return p.children, nil
}

// Merge moves every event of partition `from` into partition `into`,
// re-stamping their owners, and retires `from`.  The derived neighbor sets of
// `into`, and of every partition adjacent to `from`, are invalidated.
func (s *Store) Merge(into, from ID) error {
	return s.MergeAll(into, []ID{from})
}

// MergeAll merges every partition in `from` into partition `into` in one
// batch, retiring each.  It costs time linear in the events moved plus the
// processes of the merged partitions, regardless of the size of `into`.  On
// error, the receiver is unchanged.
func (s *Store) MergeAll(into ID, from []ID) error {
	dst, err := s.Get(into)
	if err != nil {
		return fmt.Errorf("can't merge into partition: %w", err)
	}
	srcs := make([]*Partition, 0, len(from))
	seen := make(map[ID]struct{}, len(from))
	for _, id := range from {
		if id == into {
			return fmt.Errorf("cannot merge partition %d into itself", into)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("partition %d is merged more than once", id)
		}
		seen[id] = struct{}{}
		src, err := s.Get(id)
		if err != nil {
			return fmt.Errorf("can't merge from partition: %w", err)
		}
		srcs = append(srcs, src)
	}
	// Only partitions adjacent to a retired partition see their neighbor sets
	// change; partitions adjacent to dst still see dst.
	var neighbors []ID
	processes := slices.Clone(dst.processes)
	for _, src := range srcs {
		for _, ref := range src.events {
			if prev := s.graph.Prev(ref); prev.Valid() {
				neighbors = append(neighbors, s.owners[prev])
			}
			if next := s.graph.Next(ref); next.Valid() {
				neighbors = append(neighbors, s.owners[next])
			}
			s.owners[ref] = into
		}
		dst.events = append(dst.events, src.events...)
		dst.minStart = math.Min(dst.minStart, src.minStart)
		dst.maxEnd = math.Max(dst.maxEnd, src.maxEnd)
		processes = append(processes, src.processes...)
		delete(s.partitions, src.id)
		s.redirects[src.id] = into
	}
	slices.Sort(processes)
	dst.processes = slices.Compact(processes)
	dst.derived = false
	for _, n := range neighbors {
		if np, ok := s.partitions[n]; ok {
			np.derived = false
		}
	}
	return nil
}

// CheckCoverage verifies that every event is owned by exactly one live
// partition, and that every live partition's events agree with their owner
// back-references.
func (s *Store) CheckCoverage() error {
	counts := make([]int, s.graph.Len())
	for _, id := range s.IDs() {
		p := s.partitions[id]
		if len(p.events) == 0 {
			return fmt.Errorf("partition %d is empty", id)
		}
		for _, ref := range p.events {
			counts[ref]++
			if s.owners[ref] != id {
				return fmt.Errorf("event %s lies in partition %d but is owned by %d", s.graph.Event(ref).Key, id, s.owners[ref])
			}
		}
	}
	for ref, count := range counts {
		if count != 1 {
			return fmt.Errorf("event %s lies in %d partitions", s.graph.Event(events.Ref(ref)).Key, count)
		}
	}
	return nil
}

// String prettyprints the receiver's live partitions, their events, and
// their children.
func (s *Store) String() string {
	var ret []string
	for _, id := range s.IDs() {
		p := s.partitions[id]
		keys := make([]string, len(p.events))
		refs := slices.Clone(p.events)
		slices.SortFunc(refs, func(a, b events.Ref) int {
			return s.graph.Event(a).Key.Compare(s.graph.Event(b).Key)
		})
		for idx, ref := range refs {
			keys[idx] = s.graph.Event(ref).Key.String()
		}
		s.derive(p)
		children := make([]string, len(p.children))
		for idx, child := range p.children {
			children[idx] = fmt.Sprintf("%d", child)
		}
		ret = append(ret, fmt.Sprintf("%d: [%s] -> [%s]", id, strings.Join(keys, " "), strings.Join(children, " ")))
	}
	return strings.Join(ret, "\n")
}
