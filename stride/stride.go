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

// Package stride assigns each event in a leap a stride: its longest-path
// distance from the leap's first events, over one of two per-leap event
// graphs.
//
// In the full graph, every leap event is a node, and edges follow next links
// and, from non-receive events, matching links; receive events add nothing
// to the strides of their successors.  In the send graph, only non-receive
// events are nodes, and each edge skips over the run of receive events
// between its endpoints, recording them as the edge's receive chain.
package stride

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/leaps"
	"github.com/ilhamster/leapfrog/partition"
)

// GraphKind identifies one of the two per-leap event graphs.
type GraphKind int

const (
	// Full is the graph over every leap event.
	Full GraphKind = iota
	// SendGraph is the graph over non-receive leap events.
	SendGraph
)

func (gk GraphKind) String() string {
	switch gk {
	case Full:
		return "full"
	case SendGraph:
		return "send"
	default:
		return fmt.Sprintf("graph(%d)", int(gk))
	}
}

// ErrCycleDetected is wrapped by Diagnostics reporting a cycle among a
// leap's events.
var ErrCycleDetected = errors.New("event cycle detected within leap")

// Diagnostic reports a cycle found in one of a leap's event graphs.  The
// stride table for that graph is invalid.
type Diagnostic struct {
	Rank  int
	Graph GraphKind
	// The events on the cycle, in edge order.
	Cycle []events.Key
}

func (d Diagnostic) Error() string {
	keys := make([]string, len(d.Cycle))
	for idx, key := range d.Cycle {
		keys[idx] = key.String()
	}
	return fmt.Sprintf("%s: leap %d %s graph: %s", ErrCycleDetected, d.Rank, d.Graph, strings.Join(keys, " -> "))
}

func (d Diagnostic) Unwrap() error {
	return ErrCycleDetected
}

// Row is a single event's stride within a leap.
type Row struct {
	Partition partition.ID
	Event     events.Key
	Type      events.Type
	// The receive events skipped by this event's outgoing send-graph edges:
	// those along its next chain, then those along its matching chain.
	// Always empty in full-graph tables.
	ReceiveChain []events.Key
	Stride       int
}

// Table is the stride labeling of one leap event graph.  Rows are ordered by
// stride, then by event Key.  An invalid table has no rows.
type Table struct {
	Graph GraphKind
	Valid bool
	Rows  []Row
}

func (t *Table) String() string {
	if !t.Valid {
		return fmt.Sprintf("%s: invalid", t.Graph)
	}
	lines := []string{t.Graph.String() + ":"}
	for _, row := range t.Rows {
		chain := make([]string, len(row.ReceiveChain))
		for idx, key := range row.ReceiveChain {
			chain[idx] = key.String()
		}
		lines = append(lines, fmt.Sprintf("  %d %s (%s, partition %d) [%s]", row.Stride, row.Event, row.Type, row.Partition, strings.Join(chain, " ")))
	}
	return strings.Join(lines, "\n")
}

// LeapStrides holds both stride tables of a single leap.
type LeapStrides struct {
	Rank int
	Full *Table
	Send *Table
}

// A directed graph over a leap's events.
type eventGraph struct {
	nodes  []events.Ref
	succs  map[events.Ref][]events.Ref
	preds  map[events.Ref][]events.Ref
	chains map[events.Ref][]events.Ref
}

func newEventGraph(nodes []events.Ref) *eventGraph {
	return &eventGraph{
		nodes:  nodes,
		succs:  make(map[events.Ref][]events.Ref, len(nodes)),
		preds:  make(map[events.Ref][]events.Ref, len(nodes)),
		chains: map[events.Ref][]events.Ref{},
	}
}

func (eg *eventGraph) addEdge(from, to events.Ref) {
	eg.succs[from] = append(eg.succs[from], to)
	eg.preds[to] = append(eg.preds[to], from)
}

// Computes each node's longest distance from any source, where an edge out of
// node n costs weight(n).  Nodes are resolved in topological order.  If the
// graph is cyclic, returns nil distances and one cycle.
func (eg *eventGraph) longest(weight func(events.Ref) int) (map[events.Ref]int, []events.Ref) {
	type nodeState struct {
		distance              int
		remainingIncomingDeps int
	}
	states := make(map[events.Ref]*nodeState, len(eg.nodes))
	queue := make([]events.Ref, 0, len(eg.nodes))
	for _, node := range eg.nodes {
		ns := &nodeState{remainingIncomingDeps: len(eg.preds[node])}
		states[node] = ns
		if ns.remainingIncomingDeps == 0 {
			queue = append(queue, node)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		resolved++
		ns := states[node]
		for _, succ := range eg.succs[node] {
			ss := states[succ]
			ss.distance = max(ss.distance, ns.distance+weight(node))
			ss.remainingIncomingDeps--
			if ss.remainingIncomingDeps == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if resolved == len(eg.nodes) {
		ret := make(map[events.Ref]int, len(states))
		for node, ns := range states {
			ret[node] = ns.distance
		}
		return ret, nil
	}
	// Every unresolved node has an unresolved predecessor, so walking
	// unresolved predecessors must revisit a node.
	var start events.Ref = events.NoRef
	for _, node := range eg.nodes {
		if states[node].remainingIncomingDeps > 0 {
			start = node
			break
		}
	}
	positions := map[events.Ref]int{}
	var walk []events.Ref
	for cursor := start; ; {
		if pos, ok := positions[cursor]; ok {
			cycle := walk[pos:]
			slices.Reverse(cycle)
			return nil, cycle
		}
		positions[cursor] = len(walk)
		walk = append(walk, cursor)
		for _, pred := range eg.preds[cursor] {
			if states[pred].remainingIncomingDeps > 0 {
				cursor = pred
				break
			}
		}
	}
}

type assigner struct {
	graph *events.Graph
	store *partition.Store
	rank  int
	refs  []events.Ref
	in    map[events.Ref]bool
}

func (a *assigner) inLeap(ref events.Ref) bool {
	return ref.Valid() && a.in[ref]
}

func (a *assigner) isReceive(ref events.Ref) bool {
	return a.graph.Event(ref).Type == events.Receive
}

func (a *assigner) fullGraph() *eventGraph {
	eg := newEventGraph(a.refs)
	for _, ref := range a.refs {
		if next := a.graph.Next(ref); a.inLeap(next) {
			eg.addEdge(ref, next)
		}
		if m := a.graph.Matching(ref); !a.isReceive(ref) && a.inLeap(m) {
			eg.addEdge(ref, m)
		}
	}
	return eg
}

// Follows next links from start through consecutive in-leap receives,
// returning the receives passed and the in-leap non-receive event reached,
// or NoRef.
func (a *assigner) skipReceives(start events.Ref) (chain []events.Ref, end events.Ref) {
	cursor := start
	for a.inLeap(cursor) && a.isReceive(cursor) {
		chain = append(chain, cursor)
		cursor = a.graph.Next(cursor)
	}
	if !a.inLeap(cursor) {
		return chain, events.NoRef
	}
	return chain, cursor
}

func (a *assigner) sendGraph() *eventGraph {
	var nodes []events.Ref
	for _, ref := range a.refs {
		if !a.isReceive(ref) {
			nodes = append(nodes, ref)
		}
	}
	eg := newEventGraph(nodes)
	for _, ref := range nodes {
		for _, start := range []events.Ref{a.graph.Next(ref), a.graph.Matching(ref)} {
			chain, end := a.skipReceives(start)
			eg.chains[ref] = append(eg.chains[ref], chain...)
			if end.Valid() {
				eg.addEdge(ref, end)
			}
		}
	}
	return eg
}

func (a *assigner) keys(refs []events.Ref) []events.Key {
	if len(refs) == 0 {
		return nil
	}
	ret := make([]events.Key, len(refs))
	for idx, ref := range refs {
		ret[idx] = a.graph.Event(ref).Key
	}
	return ret
}

func (a *assigner) table(kind GraphKind, eg *eventGraph, weight func(events.Ref) int) (*Table, *Diagnostic) {
	distances, cycle := eg.longest(weight)
	if cycle != nil {
		return &Table{Graph: kind}, &Diagnostic{Rank: a.rank, Graph: kind, Cycle: a.keys(cycle)}
	}
	t := &Table{Graph: kind, Valid: true, Rows: make([]Row, 0, len(eg.nodes))}
	for _, ref := range eg.nodes {
		ev := a.graph.Event(ref)
		t.Rows = append(t.Rows, Row{
			Partition:    a.store.Owner(ref),
			Event:        ev.Key,
			Type:         ev.Type,
			ReceiveChain: a.keys(eg.chains[ref]),
			Stride:       distances[ref],
		})
	}
	slices.SortFunc(t.Rows, func(x, y Row) int {
		if x.Stride != y.Stride {
			return x.Stride - y.Stride
		}
		return x.Event.Compare(y.Event)
	})
	return t, nil
}

// Assign computes both stride tables for the provided leap, at the provided
// rank.  A cycle in either event graph invalidates that graph's table and is
// reported as a Diagnostic.  Assign does not modify the store or the leap.
func Assign(graph *events.Graph, store *partition.Store, leap *leaps.Leap, rank int) (*LeapStrides, []Diagnostic, error) {
	a := &assigner{
		graph: graph,
		store: store,
		rank:  rank,
		in:    map[events.Ref]bool{},
	}
	for _, id := range leap.Partitions() {
		p, err := store.Get(id)
		if err != nil {
			return nil, nil, fmt.Errorf("leap %d: %w", rank, err)
		}
		for _, ref := range p.Events() {
			a.refs = append(a.refs, ref)
			a.in[ref] = true
		}
	}
	slices.Sort(a.refs)
	ret := &LeapStrides{Rank: rank}
	var diags []Diagnostic
	var diag *Diagnostic
	ret.Full, diag = a.table(Full, a.fullGraph(), func(ref events.Ref) int {
		if a.isReceive(ref) {
			return 0
		}
		return 1
	})
	if diag != nil {
		diags = append(diags, *diag)
	}
	ret.Send, diag = a.table(SendGraph, a.sendGraph(), func(events.Ref) int {
		return 1
	})
	if diag != nil {
		diags = append(diags, *diag)
	}
	return ret, diags, nil
}
