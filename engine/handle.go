// ABOUTME: Per-event dispatch: graph mutations, call contexts, queries and snapshots
// ABOUTME: Filters run before any sampling draw for the event

package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/query"
	"github.com/prateek/heapsnap/trace"
)

// Verbosity thresholds for per-event logging.
const (
	verboseThread   = 4
	verboseField    = 5
	verboseMethod   = 6
	verboseFinalize = 7
)

// Handle processes one event. A recoverable error leaves the engine
// consistent and processing may continue; any other error fails the run.
func (e *Engine) Handle(ev trace.Event) error {
	if !ev.Kind.Valid() {
		e.traceError(fmt.Errorf("%w: %d", ErrUnknownEvent, uint8(ev.Kind)))
		return fmt.Errorf("%w: %d", ErrUnknownEvent, uint8(ev.Kind))
	}
	e.events++
	e.metrics.events.WithLabelValues(ev.Kind.String()).Inc()

	t := graph.ThreadID(ev.T)
	switch ev.Kind {
	case trace.New, trace.NewArray:
		e.logEvent(verboseField, ev)
		if ev.H < 0 {
			return nil
		}
		e.heap.Allocate(t, graph.ObjID(ev.O), graph.SiteID(ev.H))

	case trace.PutstaticRef:
		e.logEvent(verboseField, ev)
		if e.ignore(ev.O) {
			return nil
		}
		e.heap.SetEdge(t, graph.ObjID(ev.B), graph.FieldID(ev.F), graph.ObjID(ev.O))
		e.property.OnStaticWrite(graph.ObjID(ev.O))

	case trace.GetstaticRef:
		e.logEvent(verboseField, ev)

	case trace.GetfieldPrim, trace.PutfieldPrim:
		e.logEvent(verboseField, ev)
		if e.ignore(ev.B) {
			return nil
		}
		return e.fieldAccessed(ev.E, t, ev.B, graph.FieldID(ev.F), int64(graph.NoObject))

	case trace.AloadPrim, trace.AstorePrim:
		e.logEvent(verboseField, ev)
		if e.ignore(ev.B) {
			return nil
		}
		return e.fieldAccessed(ev.E, t, ev.B, graph.ArraySlot(ev.I), int64(graph.NoObject))

	case trace.GetfieldRef, trace.AloadRef:
		e.logEvent(verboseField, ev)
		if e.ignore(ev.B) || e.ignore(ev.O) {
			return nil
		}
		return e.fieldAccessed(ev.E, t, ev.B, accessField(ev), ev.O)

	case trace.PutfieldRef, trace.AstoreRef:
		e.logEvent(verboseField, ev)
		if e.ignore(ev.B) || e.ignore(ev.O) {
			return nil
		}
		f := accessField(ev)
		if err := e.fieldAccessed(ev.E, t, ev.B, f, ev.O); err != nil {
			return err
		}
		e.heap.SetEdge(t, graph.ObjID(ev.B), f, graph.ObjID(ev.O))

	case trace.MethodCallBef:
		e.logEvent(verboseField, ev)
		e.tracker.Before(t, callctx.CallSite(ev.I))
		if e.fieldLog != nil {
			if err := e.fieldLog.Call(e.fieldAccesses, ev.I, e.resolver.CallSiteName(ev.I)); err != nil {
				return err
			}
		}

	case trace.MethodCallAft:
		e.logEvent(verboseField, ev)
		if err := e.tracker.After(t, callctx.CallSite(ev.I)); err != nil {
			e.traceError(err)
		}

	case trace.ThreadStart:
		e.logEvent(verboseThread, ev)
		if e.ignore(ev.O) {
			return nil
		}
		e.property.OnThreadStart(graph.ObjID(ev.O))

	case trace.ThreadJoin, trace.AcquireLock, trace.ReleaseLock:
		e.logEvent(verboseThread, ev)

	case trace.EnterMethod, trace.LeaveMethod:
		e.logEvent(verboseMethod, ev)

	case trace.PutstaticPrim, trace.GetstaticPrim:
		e.logEvent(verboseField, ev)

	case trace.Finalize:
		e.logEvent(verboseFinalize, ev)
		if e.ignore(ev.O) {
			return nil
		}
		e.heap.RemoveFinalized(graph.ObjID(ev.O))
	}
	return nil
}

// accessField is the field of a reference access: the field itself, or the
// array slot for array accesses.
func accessField(ev trace.Event) graph.FieldID {
	if ev.Kind == trace.AloadRef || ev.Kind == trace.AstoreRef {
		return graph.ArraySlot(ev.I)
	}
	return graph.FieldID(ev.F)
}

// fieldAccessed is the sampling point of the run: it may take a snapshot
// and may answer a query for program point pt about base object b.
func (e *Engine) fieldAccessed(pt int64, t graph.ThreadID, b int64, f graph.FieldID, o int64) error {
	if e.isExcluded(pt) {
		return nil
	}
	e.fieldAccesses++
	e.metrics.fieldAccesses.Inc()

	e.heap.EnsureNode(t, graph.ObjID(b))
	e.heap.EnsureNode(t, graph.ObjID(o))

	if e.snapshots.Draw() {
		if err := e.snapshot(); err != nil {
			return err
		}
	}

	if e.fieldLog != nil {
		e.strategy.EnsureComputed()
		err := e.fieldLog.Access(e.fieldAccesses, pt, e.resolver.PointName(pt), int64(t),
			b, valueString(e.strategy.Value(graph.ObjID(b))),
			o, valueString(e.strategy.Value(graph.ObjID(o))))
		if err != nil {
			return err
		}
	}

	q := query.ProgramPoint{E: pt, Name: e.resolver.PointName(pt)}
	if e.queries.ShouldAnswerHit(q) {
		holds := e.property.Holds(e.heap, e.strategy, graph.ObjID(b))
		e.queries.Answer(q, holds)
		e.metrics.queryHits.Inc()
		if e.cfg.Verbose >= verboseField {
			fields := log.Fields{"query": q.String(), "base": graph.ObjID(b), "holds": holds}
			if paths := e.property.Witness(e.heap, graph.ObjID(b), 1); len(paths) > 0 {
				fields["witness"] = paths[0].IDs
			}
			e.log.WithFields(fields).Info("query answered")
		}
	}
	return nil
}

func valueString(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

// traceError counts and logs a recoverable inconsistency in the trace.
func (e *Engine) traceError(err error) {
	e.traceErrors++
	e.metrics.traceErrors.Inc()
	e.log.WithError(err).Error("trace inconsistency")
}

func (e *Engine) logEvent(level int, ev trace.Event) {
	if e.cfg.Verbose < level {
		return
	}
	e.log.WithFields(log.Fields{"event": ev.Kind.String(), "n": e.events}).Info(ev.String())
}
