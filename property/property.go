// ABOUTME: Ground-truth providers evaluated against an abstraction
// ABOUTME: Thread escape: reachability from static fields and started threads

// Package property supplies ground truth for snapshots and query answers.
// A property decides, for the current concrete graph, which objects actually
// have it, and which objects an abstraction would claim have it.
package property

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/query"
)

// ErrUnknownProperty is returned by Parse for an unrecognized name.
var ErrUnknownProperty = errors.New("unknown property")

// Property is a heap property the engine evaluates abstractions against.
type Property interface {
	Name() string

	// OnStaticWrite is called when o is stored into a static field
	OnStaticWrite(o graph.ObjID)

	// OnThreadStart is called when thread object o is started
	OnThreadStart(o graph.ObjID)

	// Snapshot computes actual and proposed truth over the whole graph.
	// The strategy must be computed.
	Snapshot(h graph.View, s abstraction.Strategy) *query.SnapshotResult

	// Holds answers a query hit on o as the abstraction sees it.
	Holds(h graph.View, s abstraction.Strategy, o graph.ObjID) bool

	// NodeCreated, EdgeCreated, EdgeDeleted and Invalidate keep the answers
	// of Holds in step with the graph. The strategy must have seen the
	// mutation first. Invalidate covers a changed abstract value.
	NodeCreated(o graph.ObjID)
	EdgeCreated(s abstraction.Strategy, b, o graph.ObjID)
	EdgeDeleted(s abstraction.Strategy, b, o graph.ObjID)
	Invalidate()

	// Witness returns up to maxPaths concrete paths showing why o actually
	// has the property; none when it does not.
	Witness(h graph.View, o graph.ObjID, maxPaths int) []graph.Path
}

// Names lists the names accepted by Parse.
var Names = []string{"thread-escape"}

// Parse builds the property named name.
func Parse(name string) (Property, error) {
	switch name {
	case "thread-escape", "escape":
		return NewEscape(), nil
	}
	return nil, fmt.Errorf("%w: %q (possibilities: %v)", ErrUnknownProperty, name, Names)
}

// Escape is the thread-escape property. An object escapes if it is reachable
// from a static field or from a started thread object.
//
// Answers to Holds come from a cache of the abstract values reachable from
// the roots in the quotient graph. New roots and edges extend the cache in
// place; anything that can shrink it (a deleted edge out of an escaping
// value, a changed value) drops it, and the next Holds rebuilds it. Objects
// with no abstract value yet never escape in the quotient.
type Escape struct {
	roots map[graph.ObjID]struct{}

	escaping map[abstraction.Value]bool // nil when stale
	pending  []graph.ObjID              // objects whose values still need spreading
	rebuilds int
}

// NewEscape creates the property with no roots.
func NewEscape() *Escape {
	return &Escape{roots: make(map[graph.ObjID]struct{})}
}

func (p *Escape) Name() string { return "thread-escape" }

func (p *Escape) OnStaticWrite(o graph.ObjID) { p.addRoot(o) }

func (p *Escape) OnThreadStart(o graph.ObjID) { p.addRoot(o) }

func (p *Escape) addRoot(o graph.ObjID) {
	if o <= graph.Null {
		return
	}
	if _, ok := p.roots[o]; ok {
		return
	}
	p.roots[o] = struct{}{}
	p.pending = append(p.pending, o)
}

// NodeCreated picks up a root that was recorded before its node existed.
func (p *Escape) NodeCreated(o graph.ObjID) {
	if _, ok := p.roots[o]; ok {
		p.pending = append(p.pending, o)
	}
}

// EdgeCreated extends the cache by b -> o. The strategy must already have
// seen the edge.
func (p *Escape) EdgeCreated(s abstraction.Strategy, b, o graph.ObjID) {
	if p.escaping == nil {
		return
	}
	if v := s.Value(b); v != nil && p.escaping[v] {
		p.pending = append(p.pending, o)
	}
}

// EdgeDeleted drops the cache when the edge left an escaping value.
func (p *Escape) EdgeDeleted(s abstraction.Strategy, b, _ graph.ObjID) {
	if p.escaping == nil {
		return
	}
	if v := s.Value(b); v != nil && p.escaping[v] {
		p.Invalidate()
	}
}

// Invalidate drops the cache.
func (p *Escape) Invalidate() {
	p.escaping = nil
	p.pending = nil
}

// Roots returns the escape roots present in h, in ascending order.
func (p *Escape) Roots(h graph.View) []graph.ObjID {
	out := make([]graph.ObjID, 0, len(p.roots))
	for o := range p.roots {
		if h.HasNode(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rebuild recomputes the escaping values from the roots.
func (p *Escape) rebuild(h graph.View, s abstraction.Strategy) {
	p.rebuilds++
	p.escaping = make(map[abstraction.Value]bool)
	p.pending = p.Roots(h)
	p.spread(h, s)
}

// spread runs reachability in the quotient of h by abstract value, starting
// from the values of the pending objects.
func (p *Escape) spread(h graph.View, s abstraction.Strategy) {
	var queue []abstraction.Value
	mark := func(o graph.ObjID) {
		if !h.HasNode(o) {
			return
		}
		if v := s.Value(o); v != nil && !p.escaping[v] {
			p.escaping[v] = true
			queue = append(queue, v)
		}
	}
	for _, o := range p.pending {
		mark(o)
	}
	p.pending = p.pending[:0]
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, m := range s.Members(v) {
			for _, e := range h.Edges(m) {
				mark(e.Target)
			}
		}
	}
}

// Snapshot marks concretely escaping objects as actually true and every
// object whose abstract value escapes in the quotient graph as proposed true.
// A concrete path maps onto an abstract one, so actual truth is contained in
// proposed truth. The cache is rebuilt from the computed strategy.
func (p *Escape) Snapshot(h graph.View, s abstraction.Strategy) *query.SnapshotResult {
	r := query.NewSnapshotResult()
	for o := range graph.Reachable(h, p.Roots(h)) {
		r.ActualTrue[o] = true
	}
	p.rebuild(h, s)
	h.ForEachNode(func(n *graph.Node) {
		if v := s.Value(n.ID); v != nil && p.escaping[v] {
			r.ProposedTrue[n.ID] = true
		}
	})
	return r
}

// Holds reports whether the abstraction considers o escaping. It reads the
// strategy as last computed and does not force a recomputation.
func (p *Escape) Holds(h graph.View, s abstraction.Strategy, o graph.ObjID) bool {
	if len(p.roots) == 0 || !h.HasNode(o) {
		return false
	}
	switch {
	case p.escaping == nil:
		p.rebuild(h, s)
	case len(p.pending) > 0:
		p.spread(h, s)
	}
	v := s.Value(o)
	return v != nil && p.escaping[v]
}

// Witness returns up to maxPaths root paths showing why o actually escapes.
func (p *Escape) Witness(h graph.View, o graph.ObjID, maxPaths int) []graph.Path {
	return graph.PathsToRoots(h, o, p.Roots(h), maxPaths)
}
