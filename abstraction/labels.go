// ABOUTME: Reachability abstractions built by propagating origin labels along edges
// ABOUTME: Worklist propagation on edge creation, re-derivation on edge deletion

package abstraction

import (
	"sort"
	"strconv"
	"strings"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

// SelfField marks a label that denotes the allocation site alone.
const SelfField graph.FieldID = -1 << 62

// Label says "reachable from an object allocated at Site", or, when Field is
// not SelfField, "reachable through field Field of an object allocated at Site".
type Label struct {
	Site  graph.SiteID
	Field graph.FieldID
}

func (l Label) String() string {
	s := "H" + strconv.FormatInt(int64(l.Site), 10)
	if l.Field == SelfField {
		return s
	}
	return s + "." + strconv.FormatInt(int64(l.Field), 10)
}

type labelSet map[Label]struct{}

func (s labelSet) key() string {
	names := make([]string, 0, len(s))
	for l := range s {
		names = append(names, l.String())
	}
	sort.Strings(names)
	return "{" + strings.Join(names, " ") + "}"
}

// LabelReach is the label-propagation reachability family. Every object
// holds the labels of all origins it is reachable from; its abstract value is
// that label set.
//
// Label sets are monotone under edge creation. When an edge goes away the
// labels it carried may still be justified by other paths, so they are
// removed from everything downstream of the edge and then re-derived from
// every origin still registered for them.
type LabelReach struct {
	index
	name       string
	fieldLabel bool

	heap    graph.View
	adj     map[graph.ObjID][]graph.Edge
	labels  map[graph.ObjID]labelSet
	bySite  map[graph.SiteID]map[graph.ObjID]struct{}
	objSite map[graph.ObjID]graph.SiteID
}

// NewReachableFromAlloc labels objects with the allocation sites they are
// reachable from.
func NewReachableFromAlloc() *LabelReach {
	return newLabelReach("alloc-reachability", false)
}

// NewReachableFromAllocPlusField additionally labels objects with the
// (allocation site, field) pairs through which they are reachable.
func NewReachableFromAllocPlusField() *LabelReach {
	return newLabelReach("alloc-x-field-reachability", true)
}

func newLabelReach(name string, fieldLabel bool) *LabelReach {
	return &LabelReach{
		index:      newIndex(),
		name:       name,
		fieldLabel: fieldLabel,
		adj:        make(map[graph.ObjID][]graph.Edge),
		labels:     make(map[graph.ObjID]labelSet),
		bySite:     make(map[graph.SiteID]map[graph.ObjID]struct{}),
		objSite:    make(map[graph.ObjID]graph.SiteID),
	}
}

func (a *LabelReach) String() string { return a.name }

func (a *LabelReach) Init(env Env) {
	a.heap = env.Heap
	a.onChange = env.OnChange
}

// Labels returns the labels of o in canonical order.
func (a *LabelReach) Labels(o graph.ObjID) []Label {
	out := make([]Label, 0, len(a.labels[o]))
	for l := range a.labels[o] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// HasLabel reports whether o holds l.
func (a *LabelReach) HasLabel(o graph.ObjID, l Label) bool {
	_, ok := a.labels[o][l]
	return ok
}

func (a *LabelReach) NodeCreated(ctx *callctx.Stack, o graph.ObjID) {
	if o == graph.Null {
		return
	}
	h := a.heap.Site(o)
	a.register(o, h)
	a.labels[o] = labelSet{{Site: h, Field: SelfField}: {}}
	a.publish(o)
}

func (a *LabelReach) register(o graph.ObjID, h graph.SiteID) {
	objs, ok := a.bySite[h]
	if !ok {
		objs = make(map[graph.ObjID]struct{})
		a.bySite[h] = objs
	}
	objs[o] = struct{}{}
	a.objSite[o] = h
}

func (a *LabelReach) unregister(o graph.ObjID) {
	h, ok := a.objSite[o]
	if !ok {
		return
	}
	delete(a.objSite, o)
	delete(a.bySite[h], o)
	if len(a.bySite[h]) == 0 {
		delete(a.bySite, h)
	}
}

// SiteChanged moves o to its new origin: the labels o originated are
// retracted and the new ones propagated.
func (a *LabelReach) SiteChanged(ctx *callctx.Stack, o graph.ObjID, old graph.SiteID) {
	if _, ok := a.labels[o]; !ok {
		a.NodeCreated(ctx, o)
		return
	}
	carried := labelSet{{Site: old, Field: SelfField}: {}}
	if a.fieldLabel {
		for _, e := range a.adj[o] {
			carried[Label{Site: old, Field: e.Field}] = struct{}{}
		}
	}

	a.unregister(o)
	a.register(o, a.heap.Site(o))
	a.retract(carried, o)

	a.labels[o][Label{Site: a.heap.Site(o), Field: SelfField}] = struct{}{}
	a.publish(o)
	for _, e := range a.adj[o] {
		a.propagate(e.Target, a.carriedBy(o, e.Field))
	}
}

func (a *LabelReach) NodeDeleted(o graph.ObjID) {
	a.unregister(o)
	delete(a.labels, o)
	delete(a.adj, o)
	a.remove(o)
}

// fresh returns the labels introduced by the edge b.f itself.
func (a *LabelReach) fresh(b graph.ObjID, f graph.FieldID) []Label {
	if !a.fieldLabel {
		return nil
	}
	return []Label{{Site: a.objSite[b], Field: f}}
}

// carriedBy returns every label an edge b.f pushes to its target.
func (a *LabelReach) carriedBy(b graph.ObjID, f graph.FieldID) labelSet {
	out := make(labelSet, len(a.labels[b])+1)
	for l := range a.labels[b] {
		out[l] = struct{}{}
	}
	for _, l := range a.fresh(b, f) {
		out[l] = struct{}{}
	}
	return out
}

func (a *LabelReach) EdgeCreated(b graph.ObjID, f graph.FieldID, o graph.ObjID) {
	if b == graph.Null || o == graph.Null {
		return
	}
	a.adj[b] = append(a.adj[b], graph.Edge{Field: f, Target: o})
	a.propagate(o, a.carriedBy(b, f))
}

func (a *LabelReach) EdgeDeleted(b graph.ObjID, f graph.FieldID, o graph.ObjID) {
	edges := a.adj[b]
	found := false
	for i, e := range edges {
		if e.Field == f && e.Target == o {
			a.adj[b] = append(edges[:i], edges[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	a.retract(a.carriedBy(b, f), o)
}

// propagate adds labels to o and everything reachable from it. Each object
// is expanded at most once per run, which bounds the work on cycles.
func (a *LabelReach) propagate(o graph.ObjID, labels labelSet) {
	if len(labels) == 0 {
		return
	}
	visited := make(map[graph.ObjID]bool)
	worklist := []graph.ObjID{o}
	for len(worklist) > 0 {
		next := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[next] {
			continue
		}
		visited[next] = true

		set, ok := a.labels[next]
		if !ok {
			set = make(labelSet, len(labels))
			a.labels[next] = set
		}
		changed := false
		for l := range labels {
			if _, has := set[l]; !has {
				set[l] = struct{}{}
				changed = true
			}
		}
		if changed {
			a.publish(next)
		}

		for _, e := range a.adj[next] {
			if !visited[e.Target] {
				worklist = append(worklist, e.Target)
			}
		}
	}
}

// retract removes labels from o and everything reachable from it, then
// re-derives each label from all of its remaining origins.
func (a *LabelReach) retract(labels labelSet, o graph.ObjID) {
	if len(labels) == 0 {
		return
	}
	region := a.reach(o)
	touched := make(map[graph.ObjID]bool, len(region))
	for _, obj := range region {
		set := a.labels[obj]
		for l := range labels {
			if _, has := set[l]; has {
				delete(set, l)
				touched[obj] = true
			}
		}
	}

	for l := range labels {
		single := labelSet{l: {}}
		for _, root := range a.roots(l) {
			a.propagate(root, single)
		}
	}

	// Objects that lost labels for good still need their value republished.
	for _, obj := range region {
		if touched[obj] {
			a.publish(obj)
		}
	}
}

// roots returns the objects a label originates at, in ascending id order.
func (a *LabelReach) roots(l Label) []graph.ObjID {
	var out []graph.ObjID
	for b := range a.bySite[l.Site] {
		if l.Field == SelfField {
			out = append(out, b)
			continue
		}
		for _, e := range a.adj[b] {
			if e.Field == l.Field {
				out = append(out, e.Target)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// reach lists o and every object reachable from it in the mirrored graph.
func (a *LabelReach) reach(o graph.ObjID) []graph.ObjID {
	seen := map[graph.ObjID]bool{o: true}
	order := []graph.ObjID{o}
	for i := 0; i < len(order); i++ {
		for _, e := range a.adj[order[i]] {
			if !seen[e.Target] {
				seen[e.Target] = true
				order = append(order, e.Target)
			}
		}
	}
	return order
}

func (a *LabelReach) publish(o graph.ObjID) {
	a.set(o, a.labels[o].key())
}

func (a *LabelReach) EnsureComputed() {}
