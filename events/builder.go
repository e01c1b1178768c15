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

package events

import (
	"fmt"
)

// Builder assembles Records for NewGraph.  Events appended to a process are
// chained in append order; event ids are assigned per process from 0.
type Builder struct {
	processes []ProcessID
	records   []Record
	byKey     map[Key]int
	tails     map[ProcessID]int
	nextIDs   map[ProcessID]int
	err       error
}

// NewBuilder returns a new, empty Builder.  The provided processes declare
// the process universe; if none are provided, the universe is inferred from
// the appended events.
func NewBuilder(processes ...ProcessID) *Builder {
	return &Builder{
		processes: processes,
		byKey:     map[Key]int{},
		tails:     map[ProcessID]int{},
		nextIDs:   map[ProcessID]int{},
	}
}

// Append adds an event at the end of the specified process's chain and
// returns its Key.
func (b *Builder) Append(process ProcessID, typ Type, name string, start, end float64) Key {
	key := Key{Process: process, ID: b.nextIDs[process]}
	b.nextIDs[process]++
	rec := Record{
		Event: Event{
			Key:   key,
			Type:  typ,
			Name:  name,
			Start: start,
			End:   end,
		},
	}
	idx := len(b.records)
	if tail, ok := b.tails[process]; ok {
		prevKey := b.records[tail].Key
		rec.Prev = &prevKey
		b.records[tail].Next = &key
	}
	b.tails[process] = idx
	b.byKey[key] = idx
	b.records = append(b.records, rec)
	return key
}

// Match pairs a send with its receive.  Errors are deferred until Build.
func (b *Builder) Match(send, receive Key) *Builder {
	if b.err != nil {
		return b
	}
	sIdx, ok := b.byKey[send]
	if !ok {
		b.err = fmt.Errorf("%w: cannot match unknown send %s", ErrDanglingLink, send)
		return b
	}
	rIdx, ok := b.byKey[receive]
	if !ok {
		b.err = fmt.Errorf("%w: cannot match unknown receive %s", ErrDanglingLink, receive)
		return b
	}
	if b.records[sIdx].Matching != nil || b.records[rIdx].Matching != nil {
		b.err = fmt.Errorf("%w: %s or %s is already matched", ErrInconsistentLink, send, receive)
		return b
	}
	b.records[sIdx].Matching = &receive
	b.records[rIdx].Matching = &send
	return b
}

// Records returns the assembled records.
func (b *Builder) Records() []Record {
	return b.records
}

// Build resolves the assembled records into a Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewGraph(b.records, b.processes)
}
