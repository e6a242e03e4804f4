// ABOUTME: Tests for label-propagation reachability
// ABOUTME: Covers propagation, cycles, retraction with and without alternate paths

package abstraction

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prateek/heapsnap/graph"
)

func self(h graph.SiteID) Label { return Label{Site: h, Field: SelfField} }

func TestLabelPropagation(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.alloc(3, 30)
	h.put(2, 0, 3)
	h.put(1, 0, 2)

	a := h.s.(*LabelReach)
	assert.Equal(t, []Label{self(10), self(20), self(30)}, a.Labels(3))
	assert.Equal(t, "{H10 H20 H30}", h.value(3))
	assert.Equal(t, "{H10}", h.value(1))
}

func TestLabelCycleTerminates(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.put(1, 0, 2)
	h.put(2, 0, 1)

	a := h.s.(*LabelReach)
	assert.Equal(t, []Label{self(10), self(20)}, a.Labels(1))
	assert.Equal(t, []Label{self(10), self(20)}, a.Labels(2))
}

func TestLabelRetractionSolePath(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.alloc(3, 30)
	h.put(1, 0, 2)
	h.put(2, 0, 3)

	a := h.s.(*LabelReach)
	assert.True(t, a.HasLabel(3, self(10)))

	h.put(1, 0, graph.Null) // clears the sole edge from 1
	assert.False(t, a.HasLabel(2, self(10)))
	assert.False(t, a.HasLabel(3, self(10)))
	assert.True(t, a.HasLabel(3, self(20)), "labels from still-connected origins survive")
	assert.Equal(t, "{H20 H30}", h.value(3))
}

func TestLabelRetractionAlternatePath(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.alloc(3, 30)
	h.alloc(4, 40)
	// 1 -> 2 -> 4 and 1 -> 3 -> 4
	h.put(1, 0, 2)
	h.put(1, 1, 3)
	h.put(2, 0, 4)
	h.put(3, 0, 4)

	a := h.s.(*LabelReach)
	h.put(2, 0, graph.Null)
	assert.True(t, a.HasLabel(4, self(10)), "still reachable through 3")
	assert.False(t, a.HasLabel(4, self(20)))
	assert.True(t, a.HasLabel(4, self(30)))
}

func TestLabelSameSiteOrigin(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.alloc(2, 10)
	h.alloc(3, 30)
	h.put(1, 0, 3)
	h.put(2, 0, 3)
	h.put(1, 0, graph.Null)

	a := h.s.(*LabelReach)
	assert.True(t, a.HasLabel(3, self(10)), "another object of site 10 still points to 3")
}

func TestFieldLabels(t *testing.T) {
	h := newHarness(t, NewReachableFromAllocPlusField(), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.alloc(3, 30)
	h.put(1, 5, 2)
	h.put(2, 6, 3)

	a := h.s.(*LabelReach)
	want := []Label{self(10), {Site: 10, Field: 5}, self(20), {Site: 20, Field: 6}, self(30)}
	assert.Equal(t, want, a.Labels(3))
	assert.Equal(t, "{H10 H10.5 H20 H20.6 H30}", h.value(3))

	h.put(1, 5, graph.Null)
	assert.Equal(t, []Label{self(20), {Site: 20, Field: 6}, self(30)}, a.Labels(3))
}

func TestLabelSiteChanged(t *testing.T) {
	h := newHarness(t, NewReachableFromAlloc(), true)
	h.alloc(1, 10)
	h.put(1, 0, 2) // 2 has no site yet
	h.put(2, 0, 3)
	h.alloc(2, 20)

	a := h.s.(*LabelReach)
	assert.False(t, a.HasLabel(2, self(graph.UnknownSite)))
	assert.True(t, a.HasLabel(3, self(graph.UnknownSite)), "3 was never allocated")
	assert.True(t, a.HasLabel(3, self(20)))
	assert.True(t, a.HasLabel(3, self(10)))
}

// reachableFrom computes reachability directly from the heap
func reachableFrom(heap *graph.Heap, o graph.ObjID) map[graph.ObjID]bool {
	return graph.Reachable(heap, []graph.ObjID{o})
}

// expectedLabels derives every object's labels from the heap alone
func expectedLabels(heap *graph.Heap, fields bool) map[graph.ObjID]map[Label]bool {
	want := make(map[graph.ObjID]map[Label]bool)
	add := func(from graph.ObjID, l Label) {
		for dst := range reachableFrom(heap, from) {
			if want[dst] == nil {
				want[dst] = make(map[Label]bool)
			}
			want[dst][l] = true
		}
	}
	heap.ForEachNode(func(src *graph.Node) {
		add(src.ID, self(src.Site))
		if fields {
			for _, e := range src.Edges {
				add(e.Target, Label{Site: src.Site, Field: e.Field})
			}
		}
	})
	return want
}

// Property: after every mutation, labels are exactly the origins that reach
// an object. Objects may be written before they are allocated.
func TestPropertyLabelsMatchReachability(t *testing.T) {
	variants := []struct {
		name   string
		build  func() *LabelReach
		fields bool
	}{
		{"alloc", NewReachableFromAlloc, false},
		{"alloc x field", NewReachableFromAllocPlusField, true},
	}
	for _, v := range variants {
		for _, strong := range []bool{true, false} {
			for seed := int64(0); seed < 25; seed++ {
				rng := rand.New(rand.NewSource(seed))
				h := newHarness(t, v.build(), strong)
				a := h.s.(*LabelReach)
				allocated := make(map[graph.ObjID]bool)

				const n = 15
				for step := 0; step < 200; step++ {
					o := graph.ObjID(rng.Intn(n) + 1)
					if !allocated[o] && rng.Intn(4) == 0 {
						h.alloc(o, graph.SiteID(rng.Intn(6)))
						allocated[o] = true
					} else {
						h.put(o, graph.FieldID(rng.Intn(3)), graph.ObjID(rng.Intn(n+1))) // 0 clears the slot
					}

					want := expectedLabels(h.heap, v.fields)
					h.heap.ForEachNode(func(node *graph.Node) {
						got := make(map[Label]bool)
						for _, l := range a.Labels(node.ID) {
							got[l] = true
						}
						if !assert.Equal(t, want[node.ID], got, "%s strong=%v seed=%d step=%d object=%d", v.name, strong, seed, step, node.ID) {
							t.FailNow()
						}
					})
				}
				checkIndex(t, &a.index)
			}
		}
	}
}
