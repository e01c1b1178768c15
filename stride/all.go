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

package stride

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/leaps"
	"github.com/ilhamster/leapfrog/partition"
)

// AssignAll assigns strides to every leap in the provided sequence, running
// at most workers leaps at once (or any number, if workers is not positive).
// Results and diagnostics are in rank order regardless of scheduling.  The
// store and leaps must not be mutated until AssignAll returns.
func AssignAll(ctx context.Context, graph *events.Graph, store *partition.Store, seq []*leaps.Leap, workers int) ([]*LeapStrides, []Diagnostic, error) {
	strides := make([]*LeapStrides, len(seq))
	diagsByRank := make([][]Diagnostic, len(seq))
	eg, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for rank, leap := range seq {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ls, diags, err := Assign(graph, store, leap, rank)
			if err != nil {
				return err
			}
			strides[rank], diagsByRank[rank] = ls, diags
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	var diags []Diagnostic
	for _, d := range diagsByRank {
		diags = append(diags, d...)
	}
	return strides, diags, nil
}
