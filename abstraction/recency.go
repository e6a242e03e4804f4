// ABOUTME: Recency abstraction separating the most recent objects per preliminary value
// ABOUTME: Older objects sharing a value are demoted to a stale variant

package abstraction

import (
	"strconv"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

// StaleMark is appended to a preliminary value once its object is no longer
// among the most recent ones carrying it.
const StaleMark = "~"

// Recency wraps an allocation-based abstraction. For every preliminary value
// the most recently created object keeps the value unchanged ("fresh"); with
// order n the next n-1 objects get numbered variants and everything older is
// stale.
type Recency struct {
	index
	inner  *Alloc
	order  int
	recent map[string][]graph.ObjID // preliminary value -> newest objects, newest first
	prelim map[graph.ObjID]string
}

// NewRecency wraps inner, keeping order objects per preliminary value distinct.
func NewRecency(inner *Alloc, order int) *Recency {
	if order < 1 {
		order = 1
	}
	return &Recency{
		index:  newIndex(),
		inner:  inner,
		order:  order,
		recent: make(map[string][]graph.ObjID),
		prelim: make(map[graph.ObjID]string),
	}
}

func (a *Recency) String() string {
	if a.order == 1 {
		return "recency(" + a.inner.String() + ")"
	}
	return "recency(" + a.inner.String() + ",order=" + strconv.Itoa(a.order) + ")"
}

func (a *Recency) Init(env Env) {
	a.onChange = env.OnChange
	// The wrapped strategy only computes keys; it holds no values itself.
	a.inner.Init(Env{Heap: env.Heap})
}

// aged returns the value of the object at position pos among the newest
// objects carrying val.
func (a *Recency) aged(val string, pos int) string {
	switch {
	case pos == 0:
		return val
	case pos < a.order:
		return val + StaleMark + strconv.Itoa(pos)
	}
	return val + StaleMark
}

func (a *Recency) NodeCreated(ctx *callctx.Stack, o graph.ObjID) {
	val := a.inner.Key(ctx, o)
	a.prelim[o] = val

	list := append([]graph.ObjID{o}, a.recent[val]...)
	if len(list) > a.order {
		a.set(list[a.order], a.aged(val, a.order))
		list = list[:a.order]
	}
	a.recent[val] = list
	for pos, obj := range list {
		a.set(obj, a.aged(val, pos))
	}
}

func (a *Recency) SiteChanged(ctx *callctx.Stack, o graph.ObjID, old graph.SiteID) {
	a.forget(o)
	a.NodeCreated(ctx, o)
}

// forget drops o from its preliminary value's recent list and promotes the
// objects behind it.
func (a *Recency) forget(o graph.ObjID) {
	val, ok := a.prelim[o]
	if !ok {
		return
	}
	delete(a.prelim, o)

	list := a.recent[val]
	for i, obj := range list {
		if obj != o {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		break
	}
	if len(list) == 0 {
		delete(a.recent, val)
		return
	}
	a.recent[val] = list
	for pos, obj := range list {
		a.set(obj, a.aged(val, pos))
	}
}

func (a *Recency) NodeDeleted(o graph.ObjID) {
	a.forget(o)
	a.remove(o)
}

// Fresh reports whether o is the most recent object for its preliminary value.
func (a *Recency) Fresh(o graph.ObjID) bool {
	val, ok := a.prelim[o]
	if !ok {
		return false
	}
	list := a.recent[val]
	return len(list) > 0 && list[0] == o
}

func (a *Recency) EdgeCreated(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Recency) EdgeDeleted(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Recency) EnsureComputed() {}
