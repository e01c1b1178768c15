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
	"fmt"
	"math"
	"slices"

	"github.com/ilhamster/leapfrog/partition"
)

// DefaultIncomingRatio is the default factor by which a partition's outgoing
// gap must exceed its incoming gap for it to move to the previous leap.
const DefaultIncomingRatio = 10.0

// StepKind is the kind of a single leap completion step.
type StepKind int

const (
	// Move moves a partition from its leap to the previous one.
	Move StepKind = iota
	// Merge merges a child partition from a later leap into a leap member.
	Merge
	// AbsorbNext absorbs the following leap wholesale into an incomplete leap.
	AbsorbNext
	// DropEmpty removes a leap emptied by moves or merges from the sequence.
	DropEmpty
)

func (sk StepKind) String() string {
	switch sk {
	case Move:
		return "move"
	case Merge:
		return "merge"
	case AbsorbNext:
		return "absorb"
	case DropEmpty:
		return "drop_empty"
	default:
		return fmt.Sprintf("step(%d)", int(sk))
	}
}

// Step describes one completed mutation of the leap sequence.
type Step struct {
	Kind StepKind
	// The rank of the leap being completed when the step occurred.
	Rank int
	// For Move, the moved partition; for Merge, the surviving partition.
	Partition partition.ID
	// For Merge, the absorbed partition.
	Absorbed partition.ID
	// The leap sequence after the step.  It must not be modified.
	Leaps []*Leap
}

// Stats summarizes a completion run.
type Stats struct {
	Moves, Merges, Absorbs, Dropped int
	// The number of inner passes over leap members.
	Passes int
	// The number of incomplete leaps remaining.
	Incomplete int
}

type options struct {
	forceMerge    bool
	keepEmpty     bool
	incomingRatio float64
	observer      func(Step) error
}

// Option instances are options to leap completion.
type Option func(opts *options)

// WithForceMerge specifies whether a leap that cannot otherwise be completed
// should absorb its successor.  With force merging, every leap but possibly
// the last is complete on return.
func WithForceMerge(forceMerge bool) Option {
	return func(opts *options) {
		opts.forceMerge = forceMerge
	}
}

// WithKeepEmpty specifies whether leaps emptied during completion stay in the
// sequence.  When kept, ranks shift only when a leap is absorbed, and an empty
// leap is skipped rather than grown.
func WithKeepEmpty(keepEmpty bool) Option {
	return func(opts *options) {
		opts.keepEmpty = keepEmpty
	}
}

// WithIncomingRatio specifies the factor by which a partition's outgoing gap
// must exceed its incoming gap for the partition to move back a leap.
func WithIncomingRatio(ratio float64) Option {
	return func(opts *options) {
		opts.incomingRatio = ratio
	}
}

// WithObserver specifies a function invoked after every completion step.  If
// it returns an error, completion stops and returns that error.
func WithObserver(observer func(Step) error) Option {
	return func(opts *options) {
		opts.observer = observer
	}
}

func buildOptions(opts ...Option) *options {
	ret := &options{
		incomingRatio: DefaultIncomingRatio,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

type completer struct {
	opts   *options
	store  *partition.Store
	leaps  []*Leap
	owners map[partition.ID]*Leap
	// Each leap's initial rank.  Dropping and absorbing leaps preserves their
	// relative order, so these compare like current ranks.
	order map[*Leap]int
	stats Stats
}

// Returns true if leap lies after the leap at rank.
func (c *completer) after(leap *Leap, rank int) bool {
	return c.order[leap] > c.order[c.leaps[rank]]
}

func (c *completer) observe(step Step) error {
	if c.opts.observer == nil {
		return nil
	}
	step.Leaps = c.leaps
	return c.opts.observer(step)
}

// Returns the gap between p and the preceding leap, and between p and the
// following leap.  A gap to a missing or empty leap is +Inf.
func (c *completer) gaps(rank int, p *partition.Partition) (incoming, outgoing float64) {
	incoming, outgoing = math.Inf(1), math.Inf(1)
	if rank > 0 && c.leaps[rank-1].Len() > 0 {
		incoming = p.MinStart() - c.leaps[rank-1].MaxEnd()
	}
	if rank+1 < len(c.leaps) && c.leaps[rank+1].Len() > 0 {
		outgoing = c.leaps[rank+1].MinStart() - p.MaxEnd()
	}
	return incoming, outgoing
}

func (c *completer) move(rank int, id partition.ID) error {
	if err := c.leaps[rank].Remove(id); err != nil {
		return err
	}
	if err := c.leaps[rank-1].Add(id); err != nil {
		return err
	}
	c.owners[id] = c.leaps[rank-1]
	c.stats.Moves++
	return c.observe(Step{Kind: Move, Rank: rank, Partition: id})
}

// Merges child into p, a member of the leap at rank.
func (c *completer) merge(rank int, p, child partition.ID) error {
	childLeap, ok := c.owners[child]
	if !ok {
		return fmt.Errorf("%w: partition %d lies in no leap", ErrNotAMember, child)
	}
	if err := childLeap.Remove(child); err != nil {
		return err
	}
	if err := c.store.Merge(p, child); err != nil {
		return err
	}
	delete(c.owners, child)
	if err := c.leaps[rank].Update(p); err != nil {
		return err
	}
	c.stats.Merges++
	return c.observe(Step{Kind: Merge, Rank: rank, Partition: p, Absorbed: child})
}

// Pulls children of p that would widen the leap at rank into p.  Only
// children lying in later leaps are candidates.
func (c *completer) mergeChildren(rank int, p partition.ID) (changed bool, err error) {
	children, err := c.store.Children(p)
	if err != nil {
		return false, err
	}
	for _, child := range slices.Clone(children) {
		if c.store.Retired(child) {
			continue
		}
		childLeap, ok := c.owners[child]
		if !ok || !c.after(childLeap, rank) {
			continue
		}
		expands, err := c.leaps[rank].WillExpand(child)
		if err != nil {
			return false, err
		}
		if !expands {
			continue
		}
		if err := c.merge(rank, p, child); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// Moves and merges partitions around the leap at rank until it is complete or
// no longer changes.
func (c *completer) settle(rank int) error {
	leap := c.leaps[rank]
	for changed := true; changed && !leap.IsComplete(); {
		changed = false
		c.stats.Passes++
		for _, id := range leap.Partitions() {
			if c.owners[id] != leap {
				continue
			}
			p, err := c.store.Get(id)
			if err != nil {
				return err
			}
			incoming, outgoing := c.gaps(rank, p)
			if incoming < outgoing/c.opts.incomingRatio {
				if err := c.move(rank, id); err != nil {
					return err
				}
				changed = true
				continue
			}
			merged, err := c.mergeChildren(rank, id)
			if err != nil {
				return err
			}
			changed = changed || merged
		}
	}
	return nil
}

func (c *completer) drop(rank int) error {
	c.leaps = slices.Delete(c.leaps, rank, rank+1)
	c.stats.Dropped++
	return c.observe(Step{Kind: DropEmpty, Rank: rank})
}

func (c *completer) absorbNext(rank int) error {
	next := c.leaps[rank+1]
	if err := c.leaps[rank].Absorb(next); err != nil {
		return err
	}
	for _, id := range next.Partitions() {
		c.owners[id] = c.leaps[rank]
	}
	c.leaps = slices.Delete(c.leaps, rank+1, rank+2)
	c.stats.Absorbs++
	return c.observe(Step{Kind: AbsorbNext, Rank: rank})
}

// Complete grows each incomplete leap in the provided sequence, in rank
// order, and returns the resulting sequence.
//
// While the leap at rank k is incomplete and still changing, each member
// partition p is examined.  Its incoming gap is p's earliest start less the
// previous leap's latest end, and its outgoing gap is the next leap's
// earliest start less p's latest end.  If the incoming gap is less than the
// outgoing gap divided by the incoming ratio, p moves to the previous leap.
// Otherwise, each child of p lying in a later leap that would add a process
// to leap k is merged into p.
//
// If leap k is still incomplete and force merging is enabled, it absorbs leap
// k+1 and is examined again.  Leaps left empty are removed from the sequence
// unless WithKeepEmpty is set.
// The provided context is checked only between ranks.  On error, the
// sequence as of the error is returned.
func Complete(ctx context.Context, store *partition.Store, leaps []*Leap, opts ...Option) ([]*Leap, Stats, error) {
	c := &completer{
		opts:   buildOptions(opts...),
		store:  store,
		leaps:  slices.Clone(leaps),
		owners: map[partition.ID]*Leap{},
		order:  make(map[*Leap]int, len(leaps)),
	}
	if c.opts.incomingRatio <= 0 {
		return leaps, Stats{}, fmt.Errorf("incoming ratio must be positive (got %v)", c.opts.incomingRatio)
	}
	for rank, leap := range c.leaps {
		c.order[leap] = rank
		for _, id := range leap.Partitions() {
			if _, ok := c.owners[id]; ok {
				return leaps, Stats{}, fmt.Errorf("partition %d lies in more than one leap", id)
			}
			c.owners[id] = leap
		}
	}
	for rank := 0; rank < len(c.leaps); {
		if err := ctx.Err(); err != nil {
			return c.leaps, c.stats, err
		}
		if c.leaps[rank].Len() == 0 {
			if c.opts.keepEmpty {
				rank++
				continue
			}
			if err := c.drop(rank); err != nil {
				return c.leaps, c.stats, err
			}
			continue
		}
		if err := c.settle(rank); err != nil {
			return c.leaps, c.stats, err
		}
		if c.leaps[rank].Len() == 0 {
			if c.opts.keepEmpty {
				rank++
				continue
			}
			if err := c.drop(rank); err != nil {
				return c.leaps, c.stats, err
			}
			continue
		}
		if !c.leaps[rank].IsComplete() && c.opts.forceMerge && rank+1 < len(c.leaps) {
			if err := c.absorbNext(rank); err != nil {
				return c.leaps, c.stats, err
			}
			continue
		}
		rank++
	}
	for _, leap := range c.leaps {
		if !leap.IsComplete() {
			c.stats.Incomplete++
		}
	}
	return c.leaps, c.stats, nil
}
