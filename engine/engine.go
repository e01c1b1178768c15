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

// Package engine runs the full leap pipeline over an event graph: it groups
// events into partitions, collapses partition cycles, levels the partition
// DAG into leaps, completes those leaps, and assigns every event its strides.
//
// Phases run one after another on a single goroutine, except for stride
// assignment, which reads the final partitions and leaps and may run leaps in
// parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilhamster/leapfrog/events"
	"github.com/ilhamster/leapfrog/leaps"
	"github.com/ilhamster/leapfrog/partition"
	"github.com/ilhamster/leapfrog/stride"
)

const instrumentationName = "github.com/ilhamster/leapfrog/engine"

var (
	// ErrNilGraph is returned by Run when no event graph is provided.
	ErrNilGraph = errors.New("nil event graph")

	// ErrInvariantViolated is returned when invariant checking is enabled and
	// a phase leaves partitions or leaps in an inconsistent state.
	ErrInvariantViolated = errors.New("invariant violated")
)

type options struct {
	forceMerge      bool
	keepEmpty       bool
	incomingRatio   float64
	grouping        partition.Grouping
	strideWorkers   int
	checkInvariants bool
	logger          *slog.Logger
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
}

// Option instances are options to an Engine.
type Option func(opts *options)

// WithForceMerge specifies whether incomplete leaps should absorb their
// successors until complete.
func WithForceMerge(forceMerge bool) Option {
	return func(opts *options) {
		opts.forceMerge = forceMerge
	}
}

// WithKeepEmpty specifies whether leaps emptied during completion keep their
// ranks in the result.
func WithKeepEmpty(keepEmpty bool) Option {
	return func(opts *options) {
		opts.keepEmpty = keepEmpty
	}
}

// WithIncomingRatio specifies the ratio governing when leap completion moves
// a partition to the previous leap.
func WithIncomingRatio(ratio float64) Option {
	return func(opts *options) {
		opts.incomingRatio = ratio
	}
}

// WithGrouping specifies how events are grouped into initial partitions.
func WithGrouping(grouping partition.Grouping) Option {
	return func(opts *options) {
		opts.grouping = grouping
	}
}

// WithStrideWorkers bounds the number of leaps assigned strides at once.  A
// non-positive bound is unlimited.
func WithStrideWorkers(workers int) Option {
	return func(opts *options) {
		opts.strideWorkers = workers
	}
}

// WithInvariantChecks specifies whether partition coverage, partition
// acyclicity, and leap membership are verified after every phase and every
// leap completion step.
func WithInvariantChecks(check bool) Option {
	return func(opts *options) {
		opts.checkInvariants = check
	}
}

// WithLogger specifies the logger for run progress.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithTracerProvider specifies the provider of the Engine's tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opts *options) {
		opts.tracerProvider = tp
	}
}

// WithMeterProvider specifies the provider of the Engine's meter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(opts *options) {
		opts.meterProvider = mp
	}
}

func buildOptions(opts ...Option) *options {
	ret := &options{
		incomingRatio: leaps.DefaultIncomingRatio,
		grouping:      partition.SingleEvent,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	if ret.tracerProvider == nil {
		ret.tracerProvider = otel.GetTracerProvider()
	}
	if ret.meterProvider == nil {
		ret.meterProvider = otel.GetMeterProvider()
	}
	return ret
}

// Engine runs the leap pipeline.  An Engine is safe for concurrent use; each
// Run owns its own partitions and leaps.
type Engine struct {
	opts   *options
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	metricsOnce sync.Once
	metrics     *runMetrics
}

// New returns a new Engine configured with the provided options.
func New(opts ...Option) (*Engine, error) {
	o := buildOptions(opts...)
	if o.incomingRatio <= 0 {
		return nil, fmt.Errorf("incoming ratio must be positive (got %v)", o.incomingRatio)
	}
	return &Engine{
		opts:   o,
		logger: o.logger,
		tracer: o.tracerProvider.Tracer(instrumentationName),
		meter:  o.meterProvider.Meter(instrumentationName),
	}, nil
}

// Result is the outcome of a Run.
type Result struct {
	// RunID uniquely identifies the run in logs and traces.
	RunID string
	// The final partitions.
	Store *partition.Store
	// The final leap sequence.
	Leaps []*leaps.Leap
	// Stride tables, indexed by leap rank.
	Strides []*stride.LeapStrides
	// The partition cycles collapsed before leveling.
	Components []partition.Component
	// Event cycles found during stride assignment.
	Diagnostics []stride.Diagnostic
	Stats       leaps.Stats
}

// Incomplete returns the ranks of incomplete leaps.
func (r *Result) Incomplete() []int {
	var ret []int
	for rank, leap := range r.Leaps {
		if !leap.IsComplete() {
			ret = append(ret, rank)
		}
	}
	return ret
}

// Runs fn within a span named for the provided phase.
func (e *Engine) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	e.recordPhase(ctx, name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s phase: %w", name, err)
	}
	return nil
}

// Run executes every phase over the provided graph.  On error, the returned
// Result holds whatever the completed phases produced.
func (e *Engine) Run(ctx context.Context, graph *events.Graph) (*Result, error) {
	if graph == nil {
		return nil, ErrNilGraph
	}
	e.initMetrics()
	res := &Result{RunID: uuid.NewString()}
	ctx, span := e.tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("leapfrog.run_id", res.RunID),
			attribute.Int("leapfrog.event_count", graph.Len()),
			attribute.Int("leapfrog.process_count", len(graph.Processes())),
			attribute.Bool("leapfrog.force_merge", e.opts.forceMerge),
			attribute.String("leapfrog.grouping", e.opts.grouping.String()),
		),
	)
	defer span.End()
	logger := e.logger.With(slog.String("run_id", res.RunID))
	logger.Info("run started",
		slog.Int("events", graph.Len()),
		slog.Int("processes", len(graph.Processes())),
		slog.String("grouping", e.opts.grouping.String()),
		slog.Bool("force_merge", e.opts.forceMerge),
	)
	start := time.Now()
	err := e.run(ctx, graph, res, logger)
	duration := time.Since(start)
	e.recordRun(ctx, duration, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", slog.String("error", err.Error()))
		return res, err
	}
	setRunSpanResult(span, res)
	span.SetStatus(codes.Ok, "")
	logger.Info("run completed",
		slog.Duration("duration", duration),
		slog.Int("leaps", len(res.Leaps)),
		slog.Int("partitions", res.Store.Len()),
		slog.Int("incomplete_leaps", len(res.Incomplete())),
		slog.Int("diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}

func (e *Engine) checkStore(s *partition.Store) error {
	if !e.opts.checkInvariants {
		return nil
	}
	if err := s.CheckCoverage(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolated, err)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, graph *events.Graph, res *Result, logger *slog.Logger) error {
	if err := e.phase(ctx, "partition", func(ctx context.Context) error {
		res.Store = partition.NewStore(graph, e.opts.grouping)
		logger.Info("partitioned events", slog.Int("partitions", res.Store.Len()))
		return e.checkStore(res.Store)
	}); err != nil {
		return err
	}
	if err := e.phase(ctx, "collapse", func(ctx context.Context) error {
		var err error
		if res.Components, err = partition.CollapseCycles(res.Store); err != nil {
			return err
		}
		logger.Info("collapsed partition cycles",
			slog.Int("cycles", len(res.Components)),
			slog.Int("partitions", res.Store.Len()),
		)
		if !e.opts.checkInvariants {
			return nil
		}
		if cycle, err := partition.FindCycle(res.Store); err != nil {
			return err
		} else if cycle != nil {
			return fmt.Errorf("%w: partitions %v still form a cycle", ErrInvariantViolated, cycle)
		}
		return e.checkStore(res.Store)
	}); err != nil {
		return err
	}
	if err := e.phase(ctx, "level", func(ctx context.Context) error {
		sources, err := leaps.Sources(res.Store)
		if err != nil {
			return err
		}
		dag := leaps.NewDAG(res.Store, sources, graph.Processes())
		if err := dag.Build(); err != nil {
			return err
		}
		if err := dag.ComputeDistances(); err != nil {
			return err
		}
		if res.Leaps, err = dag.Leaps(); err != nil {
			return err
		}
		logger.Info("leveled partitions", slog.Int("leaps", len(res.Leaps)))
		if e.opts.checkInvariants {
			if err := leaps.CheckMembership(res.Store, res.Leaps); err != nil {
				return fmt.Errorf("%w: %w", ErrInvariantViolated, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if err := e.phase(ctx, "complete", func(ctx context.Context) error {
		var err error
		res.Leaps, res.Stats, err = leaps.Complete(ctx, res.Store, res.Leaps,
			leaps.WithForceMerge(e.opts.forceMerge),
			leaps.WithKeepEmpty(e.opts.keepEmpty),
			leaps.WithIncomingRatio(e.opts.incomingRatio),
			leaps.WithObserver(func(step leaps.Step) error {
				logger.Debug("completion step",
					slog.String("kind", step.Kind.String()),
					slog.Int("rank", step.Rank),
					slog.Int("partition", int(step.Partition)),
					slog.Int("leaps", len(step.Leaps)),
				)
				if !e.opts.checkInvariants {
					return nil
				}
				if err := leaps.CheckMembership(res.Store, step.Leaps); err != nil {
					return fmt.Errorf("%w after %s at rank %d: %w", ErrInvariantViolated, step.Kind, step.Rank, err)
				}
				return nil
			}),
		)
		if err != nil {
			return err
		}
		logger.Info("completed leaps",
			slog.Int("leaps", len(res.Leaps)),
			slog.Int("moves", res.Stats.Moves),
			slog.Int("merges", res.Stats.Merges),
			slog.Int("absorbs", res.Stats.Absorbs),
		)
		for _, rank := range res.Incomplete() {
			logger.Warn("leap is incomplete",
				slog.Int("rank", rank),
				slog.Any("processes", res.Leaps[rank].Processes()),
			)
		}
		return e.checkStore(res.Store)
	}); err != nil {
		return err
	}
	return e.phase(ctx, "stride", func(ctx context.Context) error {
		var err error
		res.Strides, res.Diagnostics, err = stride.AssignAll(ctx, graph, res.Store, res.Leaps, e.opts.strideWorkers)
		if err != nil {
			return err
		}
		for _, diag := range res.Diagnostics {
			logger.Warn("event cycle within leap",
				slog.Int("rank", diag.Rank),
				slog.String("graph", diag.Graph.String()),
				slog.String("cycle", diag.Error()),
			)
		}
		return nil
	})
}
