// ABOUTME: Path-pattern reachability abstraction recomputed from scratch on demand
// ABOUTME: Batch-only reference strategy; far too slow for large graphs

package abstraction

import (
	"sort"
	"strconv"
	"strings"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

// PathReach describes each object by the set of path patterns through which
// it is reachable from allocation-site sources. It ignores incremental
// notifications apart from noting that its values went stale; every
// EnsureComputed after a mutation redoes the whole search.
type PathReach struct {
	index
	flags ReachFlags
	heap  graph.View
	dirty bool
	pats  map[graph.ObjID][]string
}

// NewPathReach creates the path-pattern strategy for the given variant.
func NewPathReach(flags ReachFlags) *PathReach {
	return &PathReach{index: newIndex(), flags: flags}
}

func (a *PathReach) String() string {
	switch {
	case a.flags.PointedTo:
		return "reach(point)"
	case a.flags.MatchRepeatedFields:
		return "reach(f*)"
	case a.flags.MatchFirstField:
		return "reach(first_f)"
	case a.flags.MatchLastField:
		return "reach(last_f)"
	}
	return "reach"
}

func (a *PathReach) Init(env Env) {
	a.heap = env.Heap
	a.onChange = env.OnChange
}

func (a *PathReach) NodeCreated(*callctx.Stack, graph.ObjID) { a.dirty = true }

func (a *PathReach) SiteChanged(*callctx.Stack, graph.ObjID, graph.SiteID) { a.dirty = true }

func (a *PathReach) NodeDeleted(o graph.ObjID) {
	a.remove(o)
	a.dirty = true
}

func (a *PathReach) EdgeCreated(graph.ObjID, graph.FieldID, graph.ObjID) { a.dirty = true }

func (a *PathReach) EdgeDeleted(graph.ObjID, graph.FieldID, graph.ObjID) { a.dirty = true }

// Patterns returns the sorted patterns of o as of the last computation.
func (a *PathReach) Patterns(o graph.ObjID) []string {
	return a.pats[o]
}

func (a *PathReach) EnsureComputed() {
	if !a.dirty {
		return
	}
	a.dirty = false

	a.pats = make(map[graph.ObjID][]string, a.heap.NumNodes())
	a.heap.ForEachNode(func(n *graph.Node) {
		a.pats[n.ID] = []string{}
	})

	a.heap.ForEachNode(func(n *graph.Node) {
		source := "H" + strconv.FormatInt(int64(n.Site), 10)
		a.search(source, graph.NoField, graph.NoField, 0, n.ID)
	})

	a.heap.ForEachNode(func(n *graph.Node) {
		pats := a.pats[n.ID]
		sort.Strings(pats)
		a.set(n.ID, "["+strings.Join(pats, ", ")+"]")
	})
}

// pattern renders the predicate a path from source satisfies, or "" if the
// path does not qualify.
func (a *PathReach) pattern(source string, first, last graph.FieldID, length int) string {
	switch {
	case a.flags.PointedTo:
		if length == 1 {
			return source
		}
		return ""
	case a.flags.MatchRepeatedFields:
		return source + "." + fieldStr(first) + "*"
	case a.flags.MatchFirstField:
		return source + "." + fieldStr(first) + ".*"
	case a.flags.MatchLastField:
		return source + ".*." + fieldStr(last)
	}
	return source
}

func fieldStr(f graph.FieldID) string {
	return strconv.FormatInt(int64(f), 10)
}

func (a *PathReach) search(source string, first, last graph.FieldID, length int, o graph.ObjID) {
	pat := a.pattern(source, first, last, length)
	if pat != "" {
		for _, p := range a.pats[o] {
			if p == pat {
				return
			}
		}
		a.pats[o] = append(a.pats[o], pat)
	}

	if a.flags.PointedTo && length >= 1 {
		return
	}

	for _, e := range a.heap.Edges(o) {
		if a.flags.MatchRepeatedFields && first != graph.NoField && first != e.Field {
			continue
		}
		nextFirst := first
		if length == 0 {
			nextFirst = e.Field
		}
		a.search(source, nextFirst, e.Field, length+1, e.Target)
	}
}
