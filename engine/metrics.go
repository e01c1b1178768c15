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

package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments recording run outcomes.  Any instrument that failed to
// initialize is nil and skipped.
type runMetrics struct {
	runsTotal       metric.Int64Counter
	runDuration     metric.Float64Histogram
	phaseDuration   metric.Float64Histogram
	movesTotal      metric.Int64Counter
	mergesTotal     metric.Int64Counter
	absorbsTotal    metric.Int64Counter
	cyclesCollapsed metric.Int64Counter
	incompleteLeaps metric.Int64Histogram
	diagnostics     metric.Int64Counter
}

// Lazily creates the Engine's instruments.  Failures degrade observability
// but do not fail runs.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		m := &runMetrics{}
		var initErrors []string
		note := func(name string, err error) {
			if err != nil {
				initErrors = append(initErrors, name+": "+err.Error())
			}
		}
		var err error
		m.runsTotal, err = e.meter.Int64Counter("leapfrog_runs_total",
			metric.WithDescription("Total number of engine runs"),
		)
		note("runs_total", err)
		m.runDuration, err = e.meter.Float64Histogram("leapfrog_run_duration_seconds",
			metric.WithDescription("Duration of engine runs"),
			metric.WithUnit("s"),
		)
		note("run_duration", err)
		m.phaseDuration, err = e.meter.Float64Histogram("leapfrog_phase_duration_seconds",
			metric.WithDescription("Duration of each engine phase"),
			metric.WithUnit("s"),
		)
		note("phase_duration", err)
		m.movesTotal, err = e.meter.Int64Counter("leapfrog_completion_moves_total",
			metric.WithDescription("Partitions moved to an earlier leap during completion"),
		)
		note("moves_total", err)
		m.mergesTotal, err = e.meter.Int64Counter("leapfrog_completion_merges_total",
			metric.WithDescription("Partitions merged into a leap member during completion"),
		)
		note("merges_total", err)
		m.absorbsTotal, err = e.meter.Int64Counter("leapfrog_completion_absorbs_total",
			metric.WithDescription("Leaps absorbed by force merging"),
		)
		note("absorbs_total", err)
		m.cyclesCollapsed, err = e.meter.Int64Counter("leapfrog_cycles_collapsed_total",
			metric.WithDescription("Partition cycles collapsed before leveling"),
		)
		note("cycles_collapsed", err)
		m.incompleteLeaps, err = e.meter.Int64Histogram("leapfrog_incomplete_leaps",
			metric.WithDescription("Incomplete leaps remaining per run"),
		)
		note("incomplete_leaps", err)
		m.diagnostics, err = e.meter.Int64Counter("leapfrog_stride_cycles_total",
			metric.WithDescription("Event cycles found during stride assignment"),
		)
		note("diagnostics", err)
		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some engine metrics",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
		e.metrics = m
	})
}

func (e *Engine) recordPhase(ctx context.Context, phase string, duration time.Duration) {
	if e.metrics == nil || e.metrics.phaseDuration == nil {
		return
	}
	e.metrics.phaseDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

func (e *Engine) recordRun(ctx context.Context, duration time.Duration, res *Result, runErr error) {
	m := e.metrics
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", runErr == nil))
	if m.runsTotal != nil {
		m.runsTotal.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.cyclesCollapsed != nil {
		m.cyclesCollapsed.Add(ctx, int64(len(res.Components)))
	}
	if runErr != nil {
		return
	}
	if m.movesTotal != nil {
		m.movesTotal.Add(ctx, int64(res.Stats.Moves))
	}
	if m.mergesTotal != nil {
		m.mergesTotal.Add(ctx, int64(res.Stats.Merges))
	}
	if m.absorbsTotal != nil {
		m.absorbsTotal.Add(ctx, int64(res.Stats.Absorbs))
	}
	if m.incompleteLeaps != nil {
		m.incompleteLeaps.Record(ctx, int64(res.Stats.Incomplete))
	}
	if m.diagnostics != nil {
		m.diagnostics.Add(ctx, int64(len(res.Diagnostics)))
	}
}

// Sets the result attributes on a run span.
func setRunSpanResult(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int("leapfrog.partition_count", res.Store.Len()),
		attribute.Int("leapfrog.leap_count", len(res.Leaps)),
		attribute.Int("leapfrog.incomplete_leaps", len(res.Incomplete())),
		attribute.Int("leapfrog.cycles_collapsed", len(res.Components)),
		attribute.Int("leapfrog.diagnostics", len(res.Diagnostics)),
	)
}
