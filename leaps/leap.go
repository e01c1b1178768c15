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

package leaps

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/partition"
)

// Leap is a set of partitions, with the union of their processes and their
// overall time bounds.  A Leap is complete when its processes are its whole
// process universe.  An empty Leap's MinStart is +Inf and its MaxEnd is
// -Inf.
//
// Coverage is maintained incrementally from per-process member counts, so
// Add, Remove, and Update cost time proportional to the processes of the
// partition involved.  Bounds are recomputed lazily after an extremal member
// leaves; MinStart and MaxEnd may therefore update internal state, and a Leap
// is not safe for concurrent use.
type Leap struct {
	store    *partition.Store
	universe map[events.ProcessID]struct{}
	members  map[partition.ID]member
	// Number of members on each process.
	counts    map[events.ProcessID]int
	processes []events.ProcessID
	// Number of universe processes with a nonzero count.
	covered          int
	minStart, maxEnd float64
	boundsStale      bool
}

// A member partition's contribution, as of its last Add or Update.
type member struct {
	processes        []events.ProcessID
	minStart, maxEnd float64
}

// NewLeap returns a new, empty Leap over the provided store and process
// universe.
func NewLeap(store *partition.Store, universe []events.ProcessID) *Leap {
	l := &Leap{
		store:    store,
		universe: make(map[events.ProcessID]struct{}, len(universe)),
		members:  map[partition.ID]member{},
	}
	for _, process := range universe {
		l.universe[process] = struct{}{}
	}
	l.reset()
	return l
}

func (l *Leap) reset() {
	clear(l.members)
	l.counts = map[events.ProcessID]int{}
	l.processes = nil
	l.covered = 0
	l.minStart, l.maxEnd = math.Inf(1), math.Inf(-1)
	l.boundsStale = false
}

// Adjusts the member count of process by delta.
func (l *Leap) count(process events.ProcessID, delta int) {
	was := l.counts[process]
	now := was + delta
	if now == 0 {
		delete(l.counts, process)
	} else {
		l.counts[process] = now
	}
	_, inUniverse := l.universe[process]
	switch {
	case was == 0 && now > 0:
		idx, _ := slices.BinarySearch(l.processes, process)
		l.processes = slices.Insert(l.processes, idx, process)
		if inUniverse {
			l.covered++
		}
	case was > 0 && now == 0:
		if idx, found := slices.BinarySearch(l.processes, process); found {
			l.processes = slices.Delete(l.processes, idx, idx+1)
		}
		if inUniverse {
			l.covered--
		}
	}
}

// Records p as a member and folds its processes and bounds into the
// receiver's.
func (l *Leap) include(p *partition.Partition) {
	m := member{
		processes: slices.Clone(p.Processes()),
		minStart:  p.MinStart(),
		maxEnd:    p.MaxEnd(),
	}
	l.members[p.ID()] = m
	for _, process := range m.processes {
		l.count(process, 1)
	}
	l.minStart = math.Min(l.minStart, m.minStart)
	l.maxEnd = math.Max(l.maxEnd, m.maxEnd)
}

// Drops the specified member's contribution.
func (l *Leap) exclude(id partition.ID) {
	m := l.members[id]
	delete(l.members, id)
	for _, process := range m.processes {
		l.count(process, -1)
	}
	if m.minStart <= l.minStart || m.maxEnd >= l.maxEnd {
		l.boundsStale = true
	}
}

func (l *Leap) bounds() {
	if !l.boundsStale {
		return
	}
	l.minStart, l.maxEnd = math.Inf(1), math.Inf(-1)
	for _, m := range l.members {
		l.minStart = math.Min(l.minStart, m.minStart)
		l.maxEnd = math.Max(l.maxEnd, m.maxEnd)
	}
	l.boundsStale = false
}

// Returns true if every element of want is in the sorted slice have.
func covers(have, want []events.ProcessID) bool {
	for _, w := range want {
		if _, found := slices.BinarySearch(have, w); !found {
			return false
		}
	}
	return true
}

// Refresh recomputes the receiver's processes, bounds, and completeness from
// all of its members.  On error, the receiver is unchanged.
func (l *Leap) Refresh() error {
	ids := l.Partitions()
	ps := make([]*partition.Partition, len(ids))
	for idx, id := range ids {
		p, err := l.store.Get(id)
		if err != nil {
			return fmt.Errorf("leap member: %w", err)
		}
		ps[idx] = p
	}
	l.reset()
	for _, p := range ps {
		l.include(p)
	}
	return nil
}

// Update recomputes the specified member's contribution to the receiver.  It
// must be called after that member grows by a merge.
func (l *Leap) Update(id partition.ID) error {
	if !l.Contains(id) {
		return fmt.Errorf("%w: partition %d", ErrNotAMember, id)
	}
	p, err := l.store.Get(id)
	if err != nil {
		return fmt.Errorf("leap member: %w", err)
	}
	l.exclude(id)
	l.include(p)
	return nil
}

// Partitions returns the receiver's member partitions, in ascending order.
func (l *Leap) Partitions() []partition.ID {
	ret := make([]partition.ID, 0, len(l.members))
	for id := range l.members {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// Contains returns true if the specified partition is a member.
func (l *Leap) Contains(id partition.ID) bool {
	_, ok := l.members[id]
	return ok
}

// Len returns the number of member partitions.
func (l *Leap) Len() int {
	return len(l.members)
}

// Processes returns the processes covered by the receiver's members, in
// ascending order.  The returned slice must not be modified.
func (l *Leap) Processes() []events.ProcessID {
	return l.processes
}

// IsComplete returns true if the receiver's members cover every process.
func (l *Leap) IsComplete() bool {
	return l.covered == len(l.universe)
}

// MinStart returns the earliest start among the receiver's members' events.
func (l *Leap) MinStart() float64 {
	l.bounds()
	return l.minStart
}

// MaxEnd returns the latest end among the receiver's members' events.
func (l *Leap) MaxEnd() float64 {
	l.bounds()
	return l.maxEnd
}

// Add adds the specified partition to the receiver.  Adding a member is a
// no-op.
func (l *Leap) Add(id partition.ID) error {
	p, err := l.store.Get(id)
	if err != nil {
		return fmt.Errorf("can't add to leap: %w", err)
	}
	if l.Contains(id) {
		return nil
	}
	l.include(p)
	return nil
}

// Remove removes the specified partition from the receiver.
func (l *Leap) Remove(id partition.ID) error {
	if !l.Contains(id) {
		return fmt.Errorf("%w: partition %d", ErrNotAMember, id)
	}
	l.exclude(id)
	return nil
}

// Absorb adds all of other's members to the receiver.  other is unchanged;
// the caller is responsible for discarding it.
func (l *Leap) Absorb(other *Leap) error {
	for _, id := range other.Partitions() {
		if err := l.Add(id); err != nil {
			return err
		}
	}
	return nil
}

// WillExpand returns true if adding the specified partition would add to the
// receiver's processes.
func (l *Leap) WillExpand(id partition.ID) (bool, error) {
	p, err := l.store.Get(id)
	if err != nil {
		return false, err
	}
	return !covers(l.processes, p.Processes()), nil
}

func (l *Leap) String() string {
	ids := l.Partitions()
	idStrs := make([]string, len(ids))
	for idx, id := range ids {
		idStrs[idx] = fmt.Sprintf("%d", id)
	}
	procStrs := make([]string, len(l.processes))
	for idx, process := range l.processes {
		procStrs[idx] = fmt.Sprintf("%d", process)
	}
	completeStr := ""
	if !l.IsComplete() {
		completeStr = " (incomplete)"
	}
	return fmt.Sprintf("partitions [%s] processes [%s]%s", strings.Join(idStrs, " "), strings.Join(procStrs, " "), completeStr)
}

// CheckMembership verifies that every live partition in the store lies in
// exactly one of the provided leaps, and that no leap holds a retired or
// unknown partition.
func CheckMembership(store *partition.Store, leaps []*Leap) error {
	seen := map[partition.ID]int{}
	for rank, leap := range leaps {
		for id := range leap.members {
			if _, err := store.Get(id); err != nil {
				return fmt.Errorf("leap %d holds a dead partition: %w", rank, err)
			}
			if prevRank, ok := seen[id]; ok {
				return fmt.Errorf("partition %d lies in leaps %d and %d", id, prevRank, rank)
			}
			seen[id] = rank
		}
	}
	for _, id := range store.IDs() {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("partition %d lies in no leap", id)
		}
	}
	return nil
}

// Format prettyprints the provided leap sequence, one leap per line.
func Format(leaps []*Leap) string {
	lines := make([]string, len(leaps))
	for rank, leap := range leaps {
		lines[rank] = fmt.Sprintf("%d: %s", rank, leap)
	}
	return strings.Join(lines, "\n")
}
