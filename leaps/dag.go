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

// Package leaps levels an acyclic partition graph into leaps (ordered sets of
// partitions at equal distance from the graph's roots) and then grows each
// leap until it spans every process, by moving partitions to earlier leaps
// and merging neighboring partitions into it.
package leaps

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/partition"
)

var (
	// ErrPartitionCycle is returned when distances are requested over a
	// partition graph that still contains a cycle.
	ErrPartitionCycle = errors.New("partition graph contains a cycle")

	// ErrNotAMember is returned when a partition is removed from a leap that
	// does not contain it.
	ErrNotAMember = errors.New("partition is not a leap member")

	// ErrNotBuilt is returned when a DAG is queried before Build and
	// ComputeDistances have succeeded.
	ErrNotBuilt = errors.New("partition DAG not built")
)

// DAG is the acyclic graph of partitions reachable from a set of roots.
type DAG struct {
	store      *partition.Store
	roots      []partition.ID
	processes  []events.ProcessID
	registered map[partition.ID]struct{}
	distances  map[partition.ID]int
}

// NewDAG returns a new, unbuilt DAG over the provided store, reaching from
// the provided roots and covering the provided process universe.
func NewDAG(store *partition.Store, roots []partition.ID, processes []events.ProcessID) *DAG {
	return &DAG{
		store:      store,
		roots:      slices.Clone(roots),
		processes:  processes,
		registered: map[partition.ID]struct{}{},
	}
}

// Sources returns the IDs of every live partition with no parents, in
// ascending order.
func Sources(store *partition.Store) ([]partition.ID, error) {
	var ret []partition.ID
	for _, id := range store.IDs() {
		parents, err := store.Parents(id)
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			ret = append(ret, id)
		}
	}
	return ret, nil
}

// Build registers every partition reachable from the receiver's roots.  Each
// partition is registered once however many paths reach it, and rebuilding
// registers nothing new.
func (d *DAG) Build() error {
	stack := make([]partition.ID, 0, len(d.roots))
	for _, root := range d.roots {
		if _, err := d.store.Get(root); err != nil {
			return fmt.Errorf("bad DAG root: %w", err)
		}
		stack = append(stack, root)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := d.registered[id]; ok {
			continue
		}
		d.registered[id] = struct{}{}
		children, err := d.store.Children(id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if _, ok := d.registered[child]; !ok {
				stack = append(stack, child)
			}
		}
	}
	return nil
}

// Partitions returns the IDs of every registered partition, in ascending
// order.
func (d *DAG) Partitions() []partition.ID {
	ret := make([]partition.ID, 0, len(d.registered))
	for id := range d.registered {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// ComputeDistances assigns each registered partition its distance: 0 if it
// has no registered parents, and otherwise one more than the greatest
// distance among its parents.  Partitions are visited once each in
// topological order.  If the registered partitions contain a cycle,
// ErrPartitionCycle is returned.
func (d *DAG) ComputeDistances() error {
	ids := d.Partitions()
	inDegrees := make(map[partition.ID]int, len(ids))
	var queue []partition.ID
	for _, id := range ids {
		parents, err := d.store.Parents(id)
		if err != nil {
			return err
		}
		for _, parent := range parents {
			if _, ok := d.registered[parent]; ok {
				inDegrees[id]++
			}
		}
		if inDegrees[id] == 0 {
			queue = append(queue, id)
		}
	}
	distances := make(map[partition.ID]int, len(ids))
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		children, err := d.store.Children(id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if _, ok := d.registered[child]; !ok {
				continue
			}
			distances[child] = max(distances[child], distances[id]+1)
			inDegrees[child]--
			if inDegrees[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if visited != len(ids) {
		return fmt.Errorf("%w: %d of %d partitions could not be ordered", ErrPartitionCycle, len(ids)-visited, len(ids))
	}
	d.distances = distances
	return nil
}

// Distance returns the distance of the specified partition.
func (d *DAG) Distance(id partition.ID) (int, error) {
	if d.distances == nil {
		return 0, ErrNotBuilt
	}
	if _, ok := d.registered[id]; !ok {
		return 0, fmt.Errorf("%w: partition %d is not in the DAG", partition.ErrUnknownPartition, id)
	}
	return d.distances[id], nil
}

// Leaps levels the registered partitions by distance, returning one Leap per
// distance from 0 to the greatest distance.
func (d *DAG) Leaps() ([]*Leap, error) {
	if d.distances == nil {
		return nil, ErrNotBuilt
	}
	ids := d.Partitions()
	if len(ids) == 0 {
		return nil, nil
	}
	maxDistance := 0
	for _, id := range ids {
		maxDistance = max(maxDistance, d.distances[id])
	}
	ret := make([]*Leap, maxDistance+1)
	for idx := range ret {
		ret[idx] = NewLeap(d.store, d.processes)
	}
	for _, id := range ids {
		if err := ret[d.distances[id]].Add(id); err != nil {
			return nil, err
		}
	}
	return ret, nil
}
