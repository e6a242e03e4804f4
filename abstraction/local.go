// ABOUTME: Allocation-local strategies whose value is fixed at creation
// ABOUTME: Identity, random, and allocation site with k-CFA call-site context

package abstraction

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

// Identity gives every object its own value: maximal complexity, no loss.
type Identity struct {
	index
}

// NewIdentity creates the identity abstraction.
func NewIdentity() *Identity {
	return &Identity{index: newIndex()}
}

func (a *Identity) String() string { return "none" }

func (a *Identity) Init(env Env) { a.onChange = env.OnChange }

func (a *Identity) NodeCreated(ctx *callctx.Stack, o graph.ObjID) { a.set(o, o) }

func (a *Identity) SiteChanged(*callctx.Stack, graph.ObjID, graph.SiteID) {}

func (a *Identity) NodeDeleted(o graph.ObjID) { a.remove(o) }

func (a *Identity) EdgeCreated(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Identity) EdgeDeleted(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Identity) EnsureComputed() {}

// Random assigns each object one of size values uniformly at creation.
// It is a baseline with a fixed complexity budget and no structure.
type Random struct {
	index
	size int
	rng  *rand.Rand
}

// NewRandom creates a random abstraction with size values drawn from a
// generator seeded with seed.
func NewRandom(size int, seed int64) *Random {
	if size < 1 {
		size = 1
	}
	return &Random{
		index: newIndex(),
		size:  size,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (a *Random) String() string { return "random(" + strconv.Itoa(a.size) + ")" }

func (a *Random) Init(env Env) { a.onChange = env.OnChange }

func (a *Random) NodeCreated(ctx *callctx.Stack, o graph.ObjID) {
	a.set(o, int64(a.rng.Intn(a.size)))
}

func (a *Random) SiteChanged(*callctx.Stack, graph.ObjID, graph.SiteID) {}

func (a *Random) NodeDeleted(o graph.ObjID) { a.remove(o) }

func (a *Random) EdgeCreated(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Random) EdgeDeleted(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Random) EnsureComputed() {}

// Alloc abstracts an object by its allocation site, optionally extended with
// the kCFA innermost call sites of the creating thread.
type Alloc struct {
	index
	kCFA int
	heap graph.View
}

// NewAlloc creates the allocation-site abstraction with kCFA call sites of context.
func NewAlloc(kCFA int) *Alloc {
	if kCFA < 0 {
		kCFA = 0
	}
	return &Alloc{index: newIndex(), kCFA: kCFA}
}

func (a *Alloc) String() string {
	if a.kCFA == 0 {
		return "alloc"
	}
	return "alloc(kCFA=" + strconv.Itoa(a.kCFA) + ")"
}

func (a *Alloc) Init(env Env) {
	a.heap = env.Heap
	a.onChange = env.OnChange
}

// Key computes the value o gets when created under ctx, e.g. "12" or "12_4_7".
func (a *Alloc) Key(ctx *callctx.Stack, o graph.ObjID) string {
	var buf strings.Builder
	buf.WriteString(strconv.FormatInt(int64(a.heap.Site(o)), 10))
	for _, i := range ctx.Innermost(a.kCFA) {
		buf.WriteByte('_')
		buf.WriteString(strconv.FormatInt(int64(i), 10))
	}
	return buf.String()
}

func (a *Alloc) NodeCreated(ctx *callctx.Stack, o graph.ObjID) {
	a.set(o, a.Key(ctx, o))
}

func (a *Alloc) SiteChanged(ctx *callctx.Stack, o graph.ObjID, old graph.SiteID) {
	a.set(o, a.Key(ctx, o))
}

func (a *Alloc) NodeDeleted(o graph.ObjID) { a.remove(o) }

func (a *Alloc) EdgeCreated(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Alloc) EdgeDeleted(graph.ObjID, graph.FieldID, graph.ObjID) {}

func (a *Alloc) EnsureComputed() {}
