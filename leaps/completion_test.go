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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/partition"
	testevents "github.com/ilhamster/leapfrog/test_events"
)

func incompleteRanks(leaps []*Leap) []int {
	var ret []int
	for rank, leap := range leaps {
		if !leap.IsComplete() {
			ret = append(ret, rank)
		}
	}
	return ret
}

func TestComplete(t *testing.T) {
	for _, test := range []struct {
		description    string
		build          func() (*events.Graph, error)
		grouping       partition.Grouping
		opts           []Option
		wantLeaps      [][]string
		wantIncomplete []int
		wantStats      Stats
	}{{
		description: "send and receive need no completion",
		build:       testevents.SendReceive,
		wantLeaps:   [][]string{{"r", "s"}},
	}, {
		description: "silent process leaves a leap incomplete",
		build:       testevents.Silent,
		wantLeaps: [][]string{
			{"a", "d", "x"},
			{"b", "c", "e", "f"},
		},
		wantIncomplete: []int{1},
		wantStats:      Stats{Moves: 2, Dropped: 1, Passes: 3, Incomplete: 1},
	}, {
		description: "silent process with force merge",
		build:       testevents.Silent,
		opts:        []Option{WithForceMerge(true)},
		wantLeaps: [][]string{
			{"a", "b", "c", "d", "e", "f", "x"},
		},
		wantStats: Stats{Moves: 4, Absorbs: 1, Dropped: 1, Passes: 3},
	}, {
		description: "middle events near the previous leap move backward",
		build:       direction(2),
		wantLeaps: [][]string{
			{"a", "b", "c", "d", "e", "f", "x"},
		},
		wantStats: Stats{Moves: 4, Dropped: 2, Passes: 4},
	}, {
		description: "kept empty leaps hold their ranks",
		build:       testevents.Silent,
		opts:        []Option{WithKeepEmpty(true)},
		wantLeaps: [][]string{
			{"a", "d", "x"},
			{"b", "c", "e", "f"},
			{},
		},
		wantIncomplete: []int{1, 2},
		wantStats:      Stats{Moves: 2, Passes: 3, Incomplete: 2},
	}, {
		// Once b and e leave rank 1, the empty leap separates c and f from
		// rank 0, so they stay.
		description: "kept empty leaps block later moves",
		build:       direction(2),
		opts:        []Option{WithKeepEmpty(true)},
		wantLeaps: [][]string{
			{"a", "b", "d", "e", "x"},
			{},
			{"c", "f"},
		},
		wantIncomplete: []int{1, 2},
		wantStats:      Stats{Moves: 2, Passes: 3, Incomplete: 2},
	}, {
		description: "middle events near the next leap stay",
		build:       direction(198),
		wantLeaps: [][]string{
			{"a", "d", "x"},
			{"b", "c", "e", "f"},
		},
		wantIncomplete: []int{1},
		wantStats:      Stats{Moves: 2, Dropped: 1, Passes: 3, Incomplete: 1},
	}, {
		description: "a large incoming ratio keeps middle events in place",
		build:       direction(2),
		opts:        []Option{WithIncomingRatio(1e9)},
		wantLeaps: [][]string{
			{"a", "d", "x"},
			{"b", "c", "e", "f"},
		},
		wantIncomplete: []int{1},
		wantStats:      Stats{Moves: 2, Dropped: 1, Passes: 3, Incomplete: 1},
	}, {
		description: "fanout merges the child covering the missing process",
		build:       testevents.Fanout,
		grouping:    partition.MatchedPairs,
		wantLeaps: [][]string{
			{"l1", "r1", "r2", "s1", "s2"},
		},
		wantStats: Stats{Moves: 1, Merges: 1, Dropped: 1, Passes: 3},
	}, {
		description: "ring rounds are already complete",
		build:       testevents.Ring,
		grouping:    partition.MatchedPairs,
		wantLeaps: [][]string{
			{"r0", "r1", "r2", "s0", "s1", "s2"},
			{"t0", "t1", "t2", "u0", "u1", "u2"},
		},
	}, {
		description: "exchange folds its trailing event backward",
		build:       testevents.Exchange,
		wantLeaps: [][]string{
			{"c0", "r1"},
			{"s0", "s1"},
			{"d0", "d1", "r0"},
		},
		wantStats: Stats{Moves: 1, Dropped: 1, Passes: 2},
	}} {
		t.Run(test.description, func(t *testing.T) {
			s, leaps := buildLeaps(t, test.build, test.grouping)
			got, stats, err := Complete(context.Background(), s, leaps, test.opts...)
			if err != nil {
				t.Fatalf("Complete() yielded unexpected error %v", err)
			}
			if diff := cmp.Diff(test.wantLeaps, leapNames(s, got)); diff != "" {
				t.Errorf("leaps diff (-want +got) %s", diff)
			}
			if diff := cmp.Diff(test.wantIncomplete, incompleteRanks(got)); diff != "" {
				t.Errorf("incomplete ranks diff (-want +got) %s", diff)
			}
			if diff := cmp.Diff(test.wantStats, stats); diff != "" {
				t.Errorf("Stats diff (-want +got) %s", diff)
			}
			if err := CheckMembership(s, got); err != nil {
				t.Errorf("CheckMembership() yielded unexpected error %v", err)
			}
			if err := s.CheckCoverage(); err != nil {
				t.Errorf("CheckCoverage() yielded unexpected error %v", err)
			}
		})
	}
}

func TestCompleteInvariants(t *testing.T) {
	for _, sc := range scenarios {
		for _, grouping := range groupings {
			for _, forceMerge := range []bool{false, true} {
				t.Run(fmt.Sprintf("%s/%s/force=%v", sc.description, grouping, forceMerge), func(t *testing.T) {
					s, leaps := buildLeaps(t, sc.build, grouping)
					retired := map[partition.ID]bool{}
					lastLen := len(leaps)
					observer := func(step Step) error {
						if err := CheckMembership(s, step.Leaps); err != nil {
							return fmt.Errorf("after %s at rank %d: %w", step.Kind, step.Rank, err)
						}
						for rank, leap := range step.Leaps {
							if err := checkLeap(s, leap); err != nil {
								return fmt.Errorf("after %s, leap %d: %w", step.Kind, rank, err)
							}
							for _, id := range leap.Partitions() {
								if retired[id] {
									return fmt.Errorf("retired partition %d reappeared in leap %d", id, rank)
								}
							}
						}
						if step.Kind == Merge {
							retired[step.Absorbed] = true
						}
						if len(step.Leaps) > lastLen {
							return fmt.Errorf("leap count grew from %d to %d", lastLen, len(step.Leaps))
						}
						lastLen = len(step.Leaps)
						return nil
					}
					got, stats, err := Complete(context.Background(), s, leaps, WithForceMerge(forceMerge), WithObserver(observer))
					if err != nil {
						t.Fatalf("Complete() yielded unexpected error %v", err)
					}
					if stats.Incomplete != len(incompleteRanks(got)) {
						t.Errorf("Stats.Incomplete is %d, but %d leaps are incomplete", stats.Incomplete, len(incompleteRanks(got)))
					}
					if forceMerge {
						for _, rank := range incompleteRanks(got) {
							if rank != len(got)-1 {
								t.Errorf("with force merging, leap %d of %d is incomplete", rank, len(got))
							}
						}
					}
					for rank, leap := range got {
						if leap.Len() == 0 {
							t.Errorf("leap %d is empty after completion", rank)
						}
					}
				})
			}
		}
	}
}

func TestCompleteObserverError(t *testing.T) {
	s, leaps := buildLeaps(t, testevents.Silent, partition.SingleEvent)
	wantErr := errors.New("stop")
	steps := 0
	_, _, err := Complete(context.Background(), s, leaps, WithObserver(func(step Step) error {
		steps++
		return wantErr
	}))
	if !errors.Is(err, wantErr) {
		t.Errorf("Complete() yielded error %v, wanted %v", err, wantErr)
	}
	if steps != 1 {
		t.Errorf("observer was invoked %d times, wanted 1", steps)
	}
}

func TestCompleteCancelled(t *testing.T) {
	s, leaps := buildLeaps(t, testevents.Silent, partition.SingleEvent)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, _, err := Complete(ctx, s, leaps)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Complete() yielded error %v, wanted %v", err, context.Canceled)
	}
	if len(got) != len(leaps) {
		t.Errorf("cancelled Complete() returned %d leaps, wanted the input %d", len(got), len(leaps))
	}
}

func TestCompleteRejectsBadInput(t *testing.T) {
	s, leaps := buildLeaps(t, testevents.Silent, partition.SingleEvent)
	if _, _, err := Complete(context.Background(), s, leaps, WithIncomingRatio(0)); err == nil {
		t.Errorf("Complete() with a zero incoming ratio yielded no error")
	}
	dup := NewLeap(s, s.Graph().Processes())
	if err := dup.Absorb(leaps[0]); err != nil {
		t.Fatalf("Absorb() yielded unexpected error %v", err)
	}
	if _, _, err := Complete(context.Background(), s, append(leaps, dup)); err == nil {
		t.Errorf("Complete() with a partition in two leaps yielded no error")
	}
}
