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

package partition

import (
	"slices"
)

// Component is a strongly connected component of the partition graph.  Its
// members are listed in discovery order, so its first element is the
// component's root: the first member reached by the search.
type Component []ID

// Components returns the strongly connected components of the receiver's
// partition graph, whose edges run from each partition to its Children.  It
// uses Tarjan's algorithm with an explicit call stack, so arbitrarily deep
// partition graphs do not exhaust the goroutine stack.  Partitions and their
// children are visited in ascending ID order, so the result is deterministic.
// Components are produced in Tarjan emission order: every component appears
// before any component that can reach it.
func Components(s *Store) ([]Component, error) {
	index := 0
	indices := make(map[ID]int, s.Len())
	lowLinks := make(map[ID]int, s.Len())
	onStack := make(map[ID]bool, s.Len())
	var stack []ID
	var components []Component
	// A frame of the simulated recursion: a partition and the position of the
	// next child to examine.
	type frame struct {
		id        ID
		children  []ID
		nextChild int
	}
	var callStack []*frame
	visit := func(id ID) error {
		children, err := s.Children(id)
		if err != nil {
			return err
		}
		indices[id] = index
		lowLinks[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true
		callStack = append(callStack, &frame{id: id, children: children})
		return nil
	}
	for _, root := range s.IDs() {
		if _, visited := indices[root]; visited {
			continue
		}
		if err := visit(root); err != nil {
			return nil, err
		}
		for len(callStack) > 0 {
			f := callStack[len(callStack)-1]
			if f.nextChild < len(f.children) {
				child := f.children[f.nextChild]
				f.nextChild++
				if _, visited := indices[child]; !visited {
					if err := visit(child); err != nil {
						return nil, err
					}
				} else if onStack[child] {
					lowLinks[f.id] = min(lowLinks[f.id], indices[child])
				}
				continue
			}
			// All children examined; return from this frame.
			callStack = callStack[:len(callStack)-1]
			if lowLinks[f.id] == indices[f.id] {
				var component Component
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					component = append(component, top)
					if top == f.id {
						break
					}
				}
				slices.Reverse(component)
				components = append(components, component)
			}
			if len(callStack) > 0 {
				parent := callStack[len(callStack)-1]
				lowLinks[parent.id] = min(lowLinks[parent.id], lowLinks[f.id])
			}
		}
	}
	return components, nil
}

// CollapseCycles finds every strongly connected component of more than one
// partition and merges all its members into the component's first member.
// The resulting partition graph is acyclic.  It returns the collapsed
// components; IDs other than each component's first are retired.
func CollapseCycles(s *Store) ([]Component, error) {
	components, err := Components(s)
	if err != nil {
		return nil, err
	}
	var collapsed []Component
	for _, component := range components {
		if len(component) < 2 {
			continue
		}
		if err := s.MergeAll(component[0], component[1:]); err != nil {
			return nil, err
		}
		collapsed = append(collapsed, component)
	}
	return collapsed, nil
}

// FindCycle returns the members of some cyclic strongly connected component
// of the partition graph, or nil if the partition graph is acyclic.
func FindCycle(s *Store) (Component, error) {
	components, err := Components(s)
	if err != nil {
		return nil, err
	}
	for _, component := range components {
		if len(component) > 1 {
			return component, nil
		}
	}
	return nil, nil
}
