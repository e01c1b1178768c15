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

package testevents

import (
	"fmt"
	"strings"

	"github.com/ilhamster/leapfrog/events"
)

// GraphPrettyPrinter facilitates pretty-printing event graphs for testing.
type GraphPrettyPrinter struct {
	pointPrinter func(float64) string
	includeKeys  bool
}

// NewPrettyPrinter returns a new GraphPrettyPrinter rendering moments with
// %v.
func NewPrettyPrinter() *GraphPrettyPrinter {
	return &GraphPrettyPrinter{}
}

// WithPointPrinter overrides the default '%v' moment representation with
// the provided converter function.
func (gpp *GraphPrettyPrinter) WithPointPrinter(pp func(float64) string) *GraphPrettyPrinter {
	gpp.pointPrinter = pp
	return gpp
}

// WithKeysIncluded specifies that prettyprinted events should include their
// Keys.
func (gpp *GraphPrettyPrinter) WithKeysIncluded() *GraphPrettyPrinter {
	gpp.includeKeys = true
	return gpp
}

func (gpp *GraphPrettyPrinter) printPoint(point float64) string {
	if gpp.pointPrinter == nil {
		return fmt.Sprintf("%v", point)
	}
	return gpp.pointPrinter(point)
}

func (gpp *GraphPrettyPrinter) prettyPrintEvent(g *events.Graph, ref events.Ref, indent string) string {
	ev := g.Event(ref)
	keyStr := ""
	if gpp.includeKeys {
		keyStr = fmt.Sprintf(" (%s)", ev.Key)
	}
	ret := fmt.Sprintf("%s%s%s [%s] %s-%s",
		indent, ev.Name, keyStr, ev.Type,
		gpp.printPoint(ev.Start), gpp.printPoint(ev.End),
	)
	if match := g.Matching(ref); match.Valid() {
		arrow := "->"
		if ev.Type == events.Receive {
			arrow = "<-"
		}
		ret = fmt.Sprintf("%s %s %s", ret, arrow, g.Event(match).Name)
	}
	return ret
}

// PrettyPrintGraph prettyprints the provided graph, one process chain at a
// time.
func (gpp *GraphPrettyPrinter) PrettyPrintGraph(g *events.Graph) string {
	var ret []string
	for _, process := range g.Processes() {
		ret = append(ret, fmt.Sprintf("Process %d", process))
		for _, ref := range g.Chain(process) {
			ret = append(ret, gpp.prettyPrintEvent(g, ref, "  "))
		}
	}
	return strings.Join(ret, "\n")
}

// PrettyPrintEvents prettyprints the provided events, one per line.
func (gpp *GraphPrettyPrinter) PrettyPrintEvents(g *events.Graph, refs []events.Ref) string {
	ret := make([]string, len(refs))
	for idx, ref := range refs {
		ret[idx] = gpp.prettyPrintEvent(g, ref, "")
	}
	return strings.Join(ret, "\n")
}
