// ABOUTME: Graph listener of the engine: drives the abstraction and property, logs mutations
// ABOUTME: Logging and the graph command log are capped by MaxCommands

package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/graph"
)

var _ graph.Listener = (*Engine)(nil)

func (e *Engine) NodeCreated(t graph.ThreadID, o graph.ObjID) {
	e.creating = o
	e.forward.NodeCreated(t, o)
	e.creating = graph.NoObject
	e.property.NodeCreated(o)
	if e.importantLog() {
		e.log.WithFields(log.Fields{"thread": t, "object": o}).Info("node created")
	}
	if e.graphOut != nil {
		e.graphOut.AddNode(o)
	}
}

func (e *Engine) SiteChanged(t graph.ThreadID, o graph.ObjID, old graph.SiteID) {
	e.forward.SiteChanged(t, o, old)
	if e.importantLog() {
		e.log.WithFields(log.Fields{
			"thread": t,
			"object": o,
			"old":    e.resolver.SiteName(old),
			"site":   e.resolver.SiteName(e.heap.Site(o)),
		}).Info("allocation site changed")
	}
}

func (e *Engine) EdgeCreated(b graph.ObjID, f graph.FieldID, o graph.ObjID) {
	e.forward.EdgeCreated(b, f, o)
	e.property.EdgeCreated(e.strategy, b, o)
	if e.importantLog() {
		e.log.WithFields(log.Fields{"base": b, "field": e.resolver.FieldName(f), "target": o}).Info("edge created")
	}
	if e.graphOut != nil {
		e.graphOut.AddEdge(b, o, e.resolver.FieldName(f))
	}
}

func (e *Engine) EdgeDeleted(b graph.ObjID, f graph.FieldID, o graph.ObjID) {
	e.forward.EdgeDeleted(b, f, o)
	e.property.EdgeDeleted(e.strategy, b, o)
	if e.importantLog() {
		e.log.WithFields(log.Fields{"base": b, "field": e.resolver.FieldName(f), "target": o}).Info("edge deleted")
	}
	if e.graphOut != nil {
		e.graphOut.DeleteEdge(b, o, e.resolver.FieldName(f))
	}
}

// valueChanged is the strategy's change hook. The first value of a node that
// is still being created cannot move any answer, since the node has no edges.
func (e *Engine) valueChanged(o graph.ObjID, _ abstraction.Value) {
	if o != e.creating {
		e.property.Invalidate()
	}
}
