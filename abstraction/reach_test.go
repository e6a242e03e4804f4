// ABOUTME: Tests for the path-pattern reachability abstraction
// ABOUTME: One chain graph checked under every pattern variant

package abstraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prateek/heapsnap/graph"
)

// chain builds 1(H10) -f0-> 2(H20) -f1-> 3(H30)
func chain(t *testing.T, flags ReachFlags) *harness {
	h := newHarness(t, NewPathReach(flags), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.alloc(3, 30)
	h.put(1, 0, 2)
	h.put(2, 1, 3)
	return h
}

func TestPathReachVariants(t *testing.T) {
	tests := []struct {
		name  string
		flags ReachFlags
		str   string
		want  map[graph.ObjID]string
	}{
		{
			name: "plain",
			str:  "reach",
			want: map[graph.ObjID]string{
				1: "[H10]",
				2: "[H10, H20]",
				3: "[H10, H20, H30]",
			},
		},
		{
			name:  "pointed to",
			flags: ReachFlags{PointedTo: true},
			str:   "reach(point)",
			want: map[graph.ObjID]string{
				1: "[]",
				2: "[H10]",
				3: "[H20]",
			},
		},
		{
			name:  "repeated fields",
			flags: ReachFlags{MatchRepeatedFields: true},
			str:   "reach(f*)",
			want: map[graph.ObjID]string{
				1: "[H10.-1*]",
				2: "[H10.0*, H20.-1*]",
				3: "[H20.1*, H30.-1*]",
			},
		},
		{
			name:  "first field",
			flags: ReachFlags{MatchFirstField: true},
			str:   "reach(first_f)",
			want: map[graph.ObjID]string{
				1: "[H10.-1.*]",
				2: "[H10.0.*, H20.-1.*]",
				3: "[H10.0.*, H20.1.*, H30.-1.*]",
			},
		},
		{
			name:  "last field",
			flags: ReachFlags{MatchLastField: true},
			str:   "reach(last_f)",
			want: map[graph.ObjID]string{
				1: "[H10.*.-1]",
				2: "[H10.*.0, H20.*.-1]",
				3: "[H10.*.1, H20.*.1, H30.*.-1]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := chain(t, tt.flags)
			assert.Equal(t, tt.str, h.s.String())
			for o, want := range tt.want {
				assert.Equal(t, want, h.value(o), "object %d", o)
			}
			checkIndex(t, &h.s.(*PathReach).index)
		})
	}
}

func TestPathReachCycle(t *testing.T) {
	h := newHarness(t, NewPathReach(ReachFlags{}), true)
	h.alloc(1, 10)
	h.alloc(2, 20)
	h.put(1, 0, 2)
	h.put(2, 0, 1)

	assert.Equal(t, "[H10, H20]", h.value(1))
	assert.Equal(t, "[H10, H20]", h.value(2))
	assert.Equal(t, 1, h.s.Complexity())
}

func TestPathReachRecomputesOnlyWhenDirty(t *testing.T) {
	h := chain(t, ReachFlags{})
	assert.Equal(t, "[H10, H20]", h.value(2))

	h.put(1, 0, graph.Null)
	assert.Equal(t, "[H10, H20]", h.s.Value(2), "values are stale until recomputed")

	h.s.EnsureComputed()
	assert.Equal(t, "[H20]", h.s.Value(2))
	assert.Equal(t, []string{"H20", "H30"}, h.s.(*PathReach).Patterns(3))
}
