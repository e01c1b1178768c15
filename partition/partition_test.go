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
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/leapfrog/events"
	testevents "github.com/ilhamster/leapfrog/test_events"
)

type scenario struct {
	description string
	build       func() (*events.Graph, error)
}

var scenarios = []scenario{
	{"send and receive", testevents.SendReceive},
	{"silent process", testevents.Silent},
	{"crossing exchange", testevents.Crossing},
	{"ring", testevents.Ring},
	{"receive chain", testevents.ReceiveChain},
	{"exchange", testevents.Exchange},
}

func mustBuild(t *testing.T, build func() (*events.Graph, error)) *events.Graph {
	t.Helper()
	g, err := build()
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

// Returns the sorted event names in the specified partition.
func eventNames(t *testing.T, s *Store, id ID) []string {
	t.Helper()
	p, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%d) yielded unexpected error %v", id, err)
	}
	names := testevents.Names(s.Graph(), p.Events())
	slices.Sort(names)
	return names
}

func ownerOf(t *testing.T, s *Store, name string) ID {
	t.Helper()
	ref := testevents.Ref(s.Graph(), name)
	if !ref.Valid() {
		t.Fatalf("no event named '%s'", name)
	}
	return s.Owner(ref)
}

func TestCoverage(t *testing.T) {
	for _, sc := range scenarios {
		for _, grouping := range []Grouping{SingleEvent, MatchedPairs} {
			t.Run(sc.description+"/"+grouping.String(), func(t *testing.T) {
				g := mustBuild(t, sc.build)
				s := NewStore(g, grouping)
				if err := s.CheckCoverage(); err != nil {
					t.Fatalf("CheckCoverage() yielded unexpected error %v", err)
				}
				if grouping == SingleEvent && s.Len() != g.Len() {
					t.Errorf("got %d partitions, wanted one per event (%d)", s.Len(), g.Len())
				}
			})
		}
	}
}

func TestMatchedPairs(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.Crossing), MatchedPairs)
	if diff := cmp.Diff([]ID{0, 1}, s.IDs()); diff != "" {
		t.Fatalf("IDs() diff (-want +got) %s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, eventNames(t, s, ownerOf(t, s, "a"))); diff != "" {
		t.Errorf("partition of 'a' diff (-want +got) %s", diff)
	}
	if diff := cmp.Diff([]string{"c", "d"}, eventNames(t, s, ownerOf(t, s, "d"))); diff != "" {
		t.Errorf("partition of 'd' diff (-want +got) %s", diff)
	}
	p, _ := s.Get(ownerOf(t, s, "a"))
	if diff := cmp.Diff([]events.ProcessID{0, 1}, p.Processes()); diff != "" {
		t.Errorf("Processes() diff (-want +got) %s", diff)
	}
	if p.MinStart() != 0 || p.MaxEnd() != 4 {
		t.Errorf("got bounds [%v, %v], wanted [0, 4]", p.MinStart(), p.MaxEnd())
	}
}

func TestNeighbors(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.Exchange), SingleEvent)
	for _, test := range []struct {
		name                      string
		wantParents, wantChildren []string
	}{
		{"c0", nil, []string{"s0"}},
		{"s0", []string{"c0"}, []string{"r0"}},
		// Matching links don't contribute partition edges.
		{"r1", nil, []string{"s1"}},
		{"r0", []string{"s0"}, []string{"d0"}},
		{"d1", []string{"s1"}, nil},
	} {
		t.Run(test.name, func(t *testing.T) {
			id := ownerOf(t, s, test.name)
			parents, err := s.Parents(id)
			if err != nil {
				t.Fatalf("Parents() yielded unexpected error %v", err)
			}
			children, err := s.Children(id)
			if err != nil {
				t.Fatalf("Children() yielded unexpected error %v", err)
			}
			var gotParents, gotChildren []string
			for _, p := range parents {
				gotParents = append(gotParents, eventNames(t, s, p)...)
			}
			for _, c := range children {
				gotChildren = append(gotChildren, eventNames(t, s, c)...)
			}
			if diff := cmp.Diff(test.wantParents, gotParents); diff != "" {
				t.Errorf("parents diff (-want +got) %s", diff)
			}
			if diff := cmp.Diff(test.wantChildren, gotChildren); diff != "" {
				t.Errorf("children diff (-want +got) %s", diff)
			}
		})
	}
}

func TestMergeAndResolve(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.Exchange), SingleEvent)
	c0, s0, r0, r1, s1 := ownerOf(t, s, "c0"), ownerOf(t, s, "s0"), ownerOf(t, s, "r0"), ownerOf(t, s, "r1"), ownerOf(t, s, "s1")
	// Cache neighbor sets, so that the merge must invalidate them.
	if _, err := s.Parents(s1); err != nil {
		t.Fatalf("Parents() yielded unexpected error %v", err)
	}
	if err := s.Merge(s0, r1); err != nil {
		t.Fatalf("Merge() yielded unexpected error %v", err)
	}
	if diff := cmp.Diff([]string{"r1", "s0"}, eventNames(t, s, s0)); diff != "" {
		t.Errorf("merged partition diff (-want +got) %s", diff)
	}
	children, _ := s.Children(s0)
	if diff := cmp.Diff([]ID{r0, s1}, children); diff != "" {
		t.Errorf("Children() after merge diff (-want +got) %s", diff)
	}
	parents, _ := s.Parents(s1)
	if diff := cmp.Diff([]ID{s0}, parents); diff != "" {
		t.Errorf("Parents() of former neighbor diff (-want +got) %s", diff)
	}
	if !s.Retired(r1) {
		t.Errorf("expected %d to be retired", r1)
	}
	if _, err := s.Get(r1); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("Get() of retired id yielded error %v, wanted %v", err, ErrUnknownPartition)
	}
	if _, err := s.Children(r1); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("Children() of retired id yielded error %v, wanted %v", err, ErrUnknownPartition)
	}
	if err := s.Merge(c0, s0); err != nil {
		t.Fatalf("Merge() yielded unexpected error %v", err)
	}
	// r1 was absorbed by s0, which was absorbed by c0.
	got, err := s.Resolve(r1)
	if err != nil {
		t.Fatalf("Resolve() yielded unexpected error %v", err)
	}
	if got != c0 {
		t.Errorf("Resolve(%d) = %d, wanted %d", r1, got, c0)
	}
	if got, _ := s.Resolve(c0); got != c0 {
		t.Errorf("Resolve() of live id %d = %d", c0, got)
	}
	if _, err := s.Resolve(ID(1000)); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("Resolve() of unknown id yielded error %v, wanted %v", err, ErrUnknownPartition)
	}
	if err := s.CheckCoverage(); err != nil {
		t.Errorf("CheckCoverage() yielded unexpected error %v", err)
	}
	if s.Len() != s.Graph().Len()-2 {
		t.Errorf("got %d partitions after two merges, wanted %d", s.Len(), s.Graph().Len()-2)
	}
}

func TestMergeErrors(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.SendReceive), SingleEvent)
	if err := s.Merge(0, 0); err == nil {
		t.Errorf("self-merge yielded no error")
	}
	if err := s.Merge(0, 7); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("Merge() from unknown yielded error %v, wanted %v", err, ErrUnknownPartition)
	}
	if err := s.Merge(0, 1); err != nil {
		t.Fatalf("Merge() yielded unexpected error %v", err)
	}
	if err := s.Merge(1, 0); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("Merge() into retired yielded error %v, wanted %v", err, ErrUnknownPartition)
	}
}

func TestMergeAll(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.Exchange), SingleEvent)
	c0, s0, r0, d0, r1, s1 := ownerOf(t, s, "c0"), ownerOf(t, s, "s0"), ownerOf(t, s, "r0"), ownerOf(t, s, "d0"), ownerOf(t, s, "r1"), ownerOf(t, s, "s1")
	// Cache neighbor sets on both sides of the merge.
	for _, id := range []ID{c0, s0, d0, s1} {
		if _, err := s.Children(id); err != nil {
			t.Fatalf("Children() yielded unexpected error %v", err)
		}
		if _, err := s.Parents(id); err != nil {
			t.Fatalf("Parents() yielded unexpected error %v", err)
		}
	}
	for _, bad := range []struct {
		description string
		from        []ID
		wantErr     error
	}{
		{"repeated member", []ID{r1, r1}, nil},
		{"merge into itself", []ID{r1, s0}, nil},
		{"unknown member", []ID{r1, ID(99)}, ErrUnknownPartition},
	} {
		err := s.MergeAll(s0, bad.from)
		if err == nil || (bad.wantErr != nil && !errors.Is(err, bad.wantErr)) {
			t.Errorf("MergeAll() with %s yielded error %v, wanted %v", bad.description, err, bad.wantErr)
		}
		if s.Retired(r1) || s.Len() != s.Graph().Len() {
			t.Fatalf("failed MergeAll() with %s modified the store", bad.description)
		}
	}
	if err := s.MergeAll(s0, []ID{r1, r0}); err != nil {
		t.Fatalf("MergeAll() yielded unexpected error %v", err)
	}
	if diff := cmp.Diff([]string{"r0", "r1", "s0"}, eventNames(t, s, s0)); diff != "" {
		t.Errorf("merged partition diff (-want +got) %s", diff)
	}
	p, _ := s.Get(s0)
	if diff := cmp.Diff([]events.ProcessID{0, 1}, p.Processes()); diff != "" {
		t.Errorf("Processes() diff (-want +got) %s", diff)
	}
	if p.MinStart() != 1 || p.MaxEnd() != 7 {
		t.Errorf("merged partition spans %v-%v, wanted 1-7", p.MinStart(), p.MaxEnd())
	}
	for _, test := range []struct {
		id                    ID
		wantParents, wantKids []ID
	}{
		{c0, nil, []ID{s0}},
		{s0, []ID{c0}, []ID{d0, s1}},
		{d0, []ID{s0}, nil},
		{s1, []ID{s0}, []ID{ownerOf(t, s, "d1")}},
	} {
		parents, _ := s.Parents(test.id)
		children, _ := s.Children(test.id)
		if diff := cmp.Diff(test.wantParents, parents); diff != "" {
			t.Errorf("Parents(%d) diff (-want +got) %s", test.id, diff)
		}
		if diff := cmp.Diff(test.wantKids, children); diff != "" {
			t.Errorf("Children(%d) diff (-want +got) %s", test.id, diff)
		}
	}
	for _, id := range []ID{r0, r1} {
		if got, _ := s.Resolve(id); got != s0 {
			t.Errorf("Resolve(%d) = %d, wanted %d", id, got, s0)
		}
	}
	if err := s.CheckCoverage(); err != nil {
		t.Errorf("CheckCoverage() yielded unexpected error %v", err)
	}
}

func TestEqual(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.SendReceive), SingleEvent)
	a, _ := s.Get(0)
	b, _ := s.Get(1)
	aCopy := *a
	if !a.Equal(&aCopy) {
		t.Errorf("expected partitions with equal ids to be equal")
	}
	if a.Equal(b) {
		t.Errorf("expected partitions with differing ids to differ")
	}
}

func TestParseGrouping(t *testing.T) {
	for _, g := range []Grouping{SingleEvent, MatchedPairs} {
		got, err := ParseGrouping(g.String())
		if err != nil || got != g {
			t.Errorf("ParseGrouping(%q) = %v, %v", g.String(), got, err)
		}
	}
	if _, err := ParseGrouping("bogus"); err == nil {
		t.Errorf("ParseGrouping() of unknown name yielded no error")
	}
}

func TestString(t *testing.T) {
	s := NewStore(mustBuild(t, testevents.Exchange), MatchedPairs)
	// Partition 1 is {s0, r1}; 2 is {r0, s1}.
	want := `0: [p0#0] -> [1]
1: [p0#1 p1#0] -> [2]
2: [p0#2 p1#1] -> [3 4]
3: [p0#3] -> []
4: [p1#2] -> []`
	if diff := cmp.Diff(want, s.String()); diff != "" {
		t.Errorf("String() diff (-want +got) %s", diff)
	}
}
