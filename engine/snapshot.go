// ABOUTME: Snapshot: brings the abstraction up to date and measures its precision
// ABOUTME: Also checks that actual truth stays inside proposed truth

package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prateek/heapsnap/query"
)

func (e *Engine) snapshot() error {
	_, span := e.tracer.Start(e.ctx, "snapshot")
	defer span.End()

	e.strategy.EnsureComputed()
	e.recordComplexity()
	e.numSnapshots++
	e.metrics.snapshots.Inc()

	if e.out != nil {
		if err := e.out.WriteValues(e.strategy.Values()); err != nil {
			return err
		}
	}

	r := e.property.Snapshot(e.heap, e.strategy)
	p, ok := r.Precision()
	if ok {
		e.precision.Add(p)
		e.metrics.precision.Observe(p)
	}
	span.SetAttributes(
		attribute.Int("objects", e.heap.NumNodes()),
		attribute.Int("complexity", e.complexity),
		attribute.Int("actual", r.ActualNumTrue()),
		attribute.Int("proposed", r.ProposedNumTrue()),
	)

	colors, err := query.Annotate(r, e.heap.IDs())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if e.graphOut != nil {
		for _, o := range e.heap.IDs() {
			e.graphOut.Annotate(o, valueString(e.strategy.Value(o)), colors[o])
		}
	}

	if e.cfg.Verbose >= 1 {
		fields := log.Fields{
			"snapshot":   e.numSnapshots,
			"objects":    e.heap.NumNodes(),
			"complexity": e.complexity,
			"actual":     r.ActualNumTrue(),
			"proposed":   r.ProposedNumTrue(),
		}
		if ok {
			fields["precision"] = p
		}
		e.log.WithFields(fields).Info("snapshot")
	}

	if e.out != nil {
		return e.out.WriteYAML("output.yaml", e.Summary())
	}
	return nil
}

// recordComplexity stores the number of distinct abstract values. Callers
// must have brought the strategy up to date.
func (e *Engine) recordComplexity() {
	e.complexity = e.strategy.Complexity()
	e.metrics.complexity.Set(float64(e.complexity))
	e.metrics.objects.Set(float64(e.heap.NumNodes()))
	e.metrics.edges.Set(float64(e.heap.NumEdges()))
}
