// ABOUTME: Run loop over a trace decoder, final summary and flushing of outputs
// ABOUTME: Any failure after startup marks the run failed but still flushes

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/query"
	"github.com/prateek/heapsnap/trace"
)

// Summary is the aggregate result of a run, written to output.yaml.
type Summary struct {
	RunID         string        `yaml:"runId"`
	Status        Status        `yaml:"status"`
	Abstraction   string        `yaml:"abstraction"`
	Property      string        `yaml:"property"`
	Events        int64         `yaml:"numEvents"`
	Queries       query.Summary `yaml:"queries"`
	Precision     query.Stat    `yaml:"snapshotPrecision"`
	NumSnapshots  int           `yaml:"numSnapshots"`
	FinalObjects  int           `yaml:"finalNumObjects"`
	FieldAccesses int64         `yaml:"numFieldAccesses"`
	Complexity    int           `yaml:"complexity"`
	TraceErrors   int           `yaml:"numTraceErrors"`
	Started       time.Time     `yaml:"started"`
	Duration      time.Duration `yaml:"duration"`
}

// Summary reports the figures gathered so far. Complexity is as of the last
// computation; Finish recomputes it.
func (e *Engine) Summary() Summary {
	d := time.Duration(0)
	switch {
	case !e.finished.IsZero():
		d = e.finished.Sub(e.started)
	case !e.started.IsZero():
		d = time.Since(e.started)
	}
	return Summary{
		RunID:         e.runID,
		Status:        e.status,
		Abstraction:   e.strategy.String(),
		Property:      e.property.Name(),
		Events:        e.events,
		Queries:       e.queries.Summary(),
		Precision:     e.precision,
		NumSnapshots:  e.numSnapshots,
		FinalObjects:  e.heap.NumNodes(),
		FieldAccesses: e.fieldAccesses,
		Complexity:    e.complexity,
		TraceErrors:   e.traceErrors,
		Started:       e.started,
		Duration:      d,
	}
}

// Registry is the engine's own metrics registry.
func (e *Engine) Registry() prometheus.Gatherer { return e.metrics.registry }

// DecoderOptions returns decoder options that count recoverable decode
// errors against this run and log progress at most every few seconds.
func (e *Engine) DecoderOptions() trace.Options {
	return trace.Options{
		MaxErrors:     e.cfg.MaxTraceErrors,
		ProgressEvery: 10000,
		OnError:       e.traceError,
		OnProgress: func(bytesRead, events int64) {
			e.progress.Do(func() {
				e.log.WithFields(log.Fields{
					"bytes":   bytesRead,
					"events":  events,
					"objects": e.heap.NumNodes(),
				}).Info("progress")
			})
		},
	}
}

// Run consumes dec until io.EOF, then finishes the run. The context is
// checked between events.
func (e *Engine) Run(ctx context.Context, dec trace.Decoder) (err error) {
	ctx, span := e.tracer.Start(ctx, "run")
	e.ctx = ctx
	span.SetAttributes(
		attribute.String("run.id", e.runID),
		attribute.String("abstraction", e.strategy.String()),
	)
	defer span.End()

	e.status = StatusRunning
	e.started = time.Now()
	e.log.Info("run started")

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("panic: %v", r)
		}
		if err != nil {
			e.status = StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.log.Errorf("run failed: %+v", err)
		}
		if ferr := e.Finish(); ferr != nil {
			e.log.WithError(ferr).Error("flushing outputs")
			if err == nil {
				e.status = StatusFailed
				err = ferr
			}
		}
	}()

	for {
		if cerr := ctx.Err(); cerr != nil {
			return pkgerrors.WithStack(cerr)
		}
		ev, derr := dec.Next()
		if errors.Is(derr, io.EOF) {
			break
		}
		if derr != nil {
			return pkgerrors.Wrap(derr, "decoding trace")
		}
		if herr := e.Handle(ev); herr != nil {
			if recoverable(herr) {
				continue
			}
			return pkgerrors.Wrapf(herr, "event %d (%s)", e.events, ev.Kind)
		}
	}
	e.status = StatusDone
	return nil
}

// Finish computes the final complexity and flushes every output. It is
// called by Run; callers driving Handle directly call it themselves.
func (e *Engine) Finish() error {
	if e.status == StatusRunning || e.status == StatusNew {
		e.status = StatusDone
	}
	if e.finished.IsZero() {
		e.finished = time.Now()
	}
	e.strategy.EnsureComputed()
	e.recordComplexity()

	s := e.Summary()
	e.log.WithFields(log.Fields{
		"status":      s.Status,
		"events":      s.Events,
		"objects":     s.FinalObjects,
		"threads":     e.tracker.NumThreads(),
		"complexity":  s.Complexity,
		"queries":     s.Queries.Selected,
		"fracTrue":    s.Queries.FracTrue,
		"precision":   s.Precision.String(),
		"traceErrors": s.TraceErrors,
	}).Info("run finished")

	if e.out == nil {
		return nil
	}
	var errs []error
	errs = append(errs,
		e.out.WriteYAML("output.yaml", s),
		e.out.WriteQueries(e.queries),
		e.out.WriteValues(e.strategy.Values()),
		e.out.WriteMetrics(e.metrics.registry),
	)
	errs = append(errs, e.closeOutputs()...)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("writing run directory %s: %w", e.out.Root(), err)
	}
	return nil
}

func (e *Engine) closeOutputs() []error {
	var errs []error
	if e.fieldLog != nil {
		errs = append(errs, e.fieldLog.Close())
		e.fieldLog = nil
	}
	if e.graphOut != nil {
		errs = append(errs, e.graphOut.Close(e.heap, e.fieldName))
		e.graphOut = nil
	}
	return errs
}

func (e *Engine) fieldName(f graph.FieldID) string { return e.resolver.FieldName(f) }
