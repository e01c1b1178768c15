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

// Package testevents provides tools for fluently constructing 'interesting'
// event graphs for testing.
package testevents

import (
	"fmt"
	"testing"

	"github.com/ilhamster/leapfrog/events"
)

// EventSpec specifies a single named event within a process.
type EventSpec struct {
	name       string
	typ        events.Type
	start, end float64
}

// Send specifies a send event.
func Send(name string, start, end float64) *EventSpec {
	return &EventSpec{name: name, typ: events.Send, start: start, end: end}
}

// Receive specifies a receive event.
func Receive(name string, start, end float64) *EventSpec {
	return &EventSpec{name: name, typ: events.Receive, start: start, end: end}
}

// Local specifies a local (non-message) event.
func Local(name string, start, end float64) *EventSpec {
	return &EventSpec{name: name, typ: events.Local, start: start, end: end}
}

// GraphBuilder facilitates fluently building test event graphs.  Every event
// is named, and names must be unique within a graph.
type GraphBuilder struct {
	err        func(error)
	builder    *events.Builder
	keysByName map[string]events.Key
}

// NewTestingGraphBuilder returns a new, empty GraphBuilder over the provided
// process universe.  Any errors encountered in graph construction yield a
// t.Fatal() in the provided testing.T.
func NewTestingGraphBuilder(t *testing.T, processes ...events.ProcessID) *GraphBuilder {
	return NewGraphBuilderWithErrorHandler(func(err error) {
		t.Helper()
		t.Fatal(err.Error())
	}, processes...)
}

// NewGraphBuilderWithErrorHandler returns a new, empty GraphBuilder.  Any
// errors encountered in graph construction are passed to the provided error
// handler.
func NewGraphBuilderWithErrorHandler(err func(error), processes ...events.ProcessID) *GraphBuilder {
	return &GraphBuilder{
		err:        err,
		builder:    events.NewBuilder(processes...),
		keysByName: map[string]events.Key{},
	}
}

// WithProcess appends the provided events, in order, to the specified
// process's chain.
func (gb *GraphBuilder) WithProcess(process events.ProcessID, specs ...*EventSpec) *GraphBuilder {
	for _, spec := range specs {
		if _, ok := gb.keysByName[spec.name]; ok {
			gb.err(fmt.Errorf("duplicate event name '%s'", spec.name))
			continue
		}
		gb.keysByName[spec.name] = gb.builder.Append(process, spec.typ, spec.name, spec.start, spec.end)
	}
	return gb
}

// WithMessage matches the named send and receive events.
func (gb *GraphBuilder) WithMessage(sendName, receiveName string) *GraphBuilder {
	send, ok := gb.keysByName[sendName]
	if !ok {
		gb.err(fmt.Errorf("no event named '%s'", sendName))
		return gb
	}
	receive, ok := gb.keysByName[receiveName]
	if !ok {
		gb.err(fmt.Errorf("no event named '%s'", receiveName))
		return gb
	}
	gb.builder.Match(send, receive)
	return gb
}

// Key returns the Key of the named event.
func (gb *GraphBuilder) Key(name string) events.Key {
	return gb.keysByName[name]
}

// Build returns the assembled event graph.
func (gb *GraphBuilder) Build() *events.Graph {
	g, err := gb.builder.Build()
	if err != nil {
		gb.err(err)
		return nil
	}
	return g
}

// Ref returns the Ref of the named event in g, or events.NoRef.
func Ref(g *events.Graph, name string) events.Ref {
	for _, ref := range g.Refs() {
		if g.Event(ref).Name == name {
			return ref
		}
	}
	return events.NoRef
}

// Names returns the names of the provided events.
func Names(g *events.Graph, refs []events.Ref) []string {
	ret := make([]string, len(refs))
	for idx, ref := range refs {
		ret[idx] = g.Event(ref).Name
	}
	return ret
}
