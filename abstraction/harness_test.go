// ABOUTME: Test harness wiring a heap graph to a strategy under test
// ABOUTME: Allocation and field writes run on thread 0

package abstraction

import (
	"testing"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

type harness struct {
	heap    *graph.Heap
	s       Strategy
	tracker *callctx.Tracker
}

func newHarness(t *testing.T, s Strategy, strong bool) *harness {
	t.Helper()
	h := &harness{s: s, tracker: callctx.NewTracker()}
	h.heap = graph.New(strong, Forward(s, h.tracker))
	s.Init(Env{Heap: h.heap})
	return h
}

func (h *harness) alloc(o graph.ObjID, site graph.SiteID) {
	h.heap.Allocate(0, o, site)
}

func (h *harness) put(b graph.ObjID, f graph.FieldID, o graph.ObjID) {
	h.heap.SetEdge(0, b, f, o)
}

func (h *harness) value(o graph.ObjID) Value {
	h.s.EnsureComputed()
	return h.s.Value(o)
}

// checkIndex verifies the inverse index is the exact inverse of the forward map
func checkIndex(t *testing.T, ix *index) {
	t.Helper()
	count := 0
	for v, objs := range ix.members {
		if len(objs) == 0 {
			t.Errorf("value %v has an empty member set", v)
		}
		for o := range objs {
			count++
			if ix.values[o] != v {
				t.Errorf("object %d indexed under %v but maps to %v", o, v, ix.values[o])
			}
		}
	}
	if count != len(ix.values) {
		t.Errorf("inverse index holds %d objects, forward map %d", count, len(ix.values))
	}
}
