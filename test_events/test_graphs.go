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
	"github.com/ilhamster/leapfrog/events"
)

func builder(err *error, processes ...events.ProcessID) *GraphBuilder {
	return NewGraphBuilderWithErrorHandler(func(gotErr error) {
		if *err == nil {
			*err = gotErr
		}
	}, processes...)
}

// SendReceive is the smallest communicating graph: process 0 sends a single
// message, 's', which process 1 receives as 'r'.
func SendReceive() (g *events.Graph, err error) {
	g = builder(&err, 0, 1).
		WithProcess(0, Send("s", 0, 10)).
		WithProcess(1, Receive("r", 20, 30)).
		WithMessage("s", "r").
		Build()
	return g, err
}

// Silent is a graph over processes 0-2 in which process 2 never
// communicates, and has only a single early event, 'x'.  Processes 0 and 1
// exchange one message at the start, then each perform two more local events
// long afterwards.  No leap after the first can ever include process 2.
func Silent() (g *events.Graph, err error) {
	g = builder(&err, 0, 1, 2).
		WithProcess(0, Send("a", 0, 1), Local("b", 50, 51), Local("c", 52, 53)).
		WithProcess(1, Receive("d", 0, 1), Local("e", 50, 51), Local("f", 52, 53)).
		WithProcess(2, Local("x", 0, 1)).
		WithMessage("a", "d").
		Build()
	return g, err
}

// Direction is Silent with its middle events ('b' on process 0 and 'e' on
// process 1) placed at the provided time, and its final events ('c' and 'f')
// at 200.  With middle near 0, the middle events lie much closer in time to
// the first leap than to the last; with middle near 200, the reverse.
func Direction(middle float64) (g *events.Graph, err error) {
	g = builder(&err, 0, 1, 2).
		WithProcess(0, Send("a", 0, 1), Local("b", middle, middle+1), Local("c", 200, 201)).
		WithProcess(1, Receive("d", 0, 1), Local("e", middle, middle+1), Local("f", 200, 201)).
		WithProcess(2, Local("x", 0, 1)).
		WithMessage("a", "d").
		Build()
	return g, err
}

// Crossing is a two-process exchange in which both processes send before
// they receive: process 0 sends 'a' to process 1's 'b' and then receives 'c'
// from process 1's 'd', while process 1 sends 'd' before receiving 'b'.  When
// matched pairs are grouped, the two message partitions form a cycle.
func Crossing() (g *events.Graph, err error) {
	g = builder(&err, 0, 1).
		WithProcess(0, Send("a", 0, 1), Receive("c", 3, 4)).
		WithProcess(1, Send("d", 0, 1), Receive("b", 3, 4)).
		WithMessage("a", "b").
		WithMessage("d", "c").
		Build()
	return g, err
}

// Ring is a three-process graph executing two rounds of ring communication.
// In round one, each process i sends 's<i>' to process i+1 (mod 3), which
// receives it as 'r<i+1>'; round two does the same with 't<i>' and 'u<i+1>'.
// When matched pairs are grouped, each round forms a three-partition cycle.
func Ring() (g *events.Graph, err error) {
	g = builder(&err, 0, 1, 2).
		WithProcess(0, Send("s0", 0, 1), Receive("r0", 2, 3), Send("t0", 10, 11), Receive("u0", 12, 13)).
		WithProcess(1, Send("s1", 0, 1), Receive("r1", 2, 3), Send("t1", 10, 11), Receive("u1", 12, 13)).
		WithProcess(2, Send("s2", 0, 1), Receive("r2", 2, 3), Send("t2", 10, 11), Receive("u2", 12, 13)).
		WithMessage("s0", "r1").
		WithMessage("s1", "r2").
		WithMessage("s2", "r0").
		WithMessage("t0", "u1").
		WithMessage("t1", "u2").
		WithMessage("t2", "u0").
		Build()
	return g, err
}

// ReceiveChain is a single process executing a send 's', two receives 'r1'
// and 'r2', and a computation 'c', with 's' matched to a receive 'q' on
// process 1.  The receives 'r1' and 'r2' are unmatched.
func ReceiveChain() (g *events.Graph, err error) {
	g = builder(&err, 0, 1).
		WithProcess(0, Send("s", 0, 1), Receive("r1", 2, 3), Receive("r2", 4, 5), Local("c", 6, 7)).
		WithProcess(1, Receive("q", 1, 2)).
		WithMessage("s", "q").
		Build()
	return g, err
}

// Exchange is a two-process graph in which process 0 computes, sends 's0' to
// process 1, and computes again; process 1 receives 's0' as 'r1', then
// replies with 's1', which process 0 receives as 'r0' before its final
// computation.
func Exchange() (g *events.Graph, err error) {
	g = builder(&err, 0, 1).
		WithProcess(0, Local("c0", 0, 1), Send("s0", 1, 2), Receive("r0", 6, 7), Local("d0", 7, 8)).
		WithProcess(1, Receive("r1", 3, 4), Send("s1", 4, 5), Local("d1", 5, 6)).
		WithMessage("s0", "r1").
		WithMessage("s1", "r0").
		Build()
	return g, err
}

// Fanout is a three-process graph in which process 0 sends 's1' to process
// 1's 'r1', then later sends 's2' to process 2's 'r2'; process 1 then
// computes 'l1'.  Process 2 has no other events.  When matched pairs are
// grouped, the first message's partition covers only processes 0 and 1, and
// its child holding the second message is the only partition covering process
// 2.
func Fanout() (g *events.Graph, err error) {
	g = builder(&err, 0, 1, 2).
		WithProcess(0, Send("s1", 0, 1), Send("s2", 10, 11)).
		WithProcess(1, Receive("r1", 1, 2), Local("l1", 11, 12)).
		WithProcess(2, Receive("r2", 12, 13)).
		WithMessage("s1", "r1").
		WithMessage("s2", "r2").
		Build()
	return g, err
}

// Deadlock is an impossible two-process graph in which each process receives
// the message the other sends only afterwards: process 0 receives 'r0' and
// then sends 's0' to process 1's 'r1', while process 1 receives 'r1' and then
// sends 's1' to 'r0'.  Its events form a causal cycle.
func Deadlock() (g *events.Graph, err error) {
	g = builder(&err, 0, 1).
		WithProcess(0, Receive("r0", 0, 1), Send("s0", 1, 2)).
		WithProcess(1, Receive("r1", 0, 1), Send("s1", 1, 2)).
		WithMessage("s0", "r1").
		WithMessage("s1", "r0").
		Build()
	return g, err
}
