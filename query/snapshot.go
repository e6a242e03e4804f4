// ABOUTME: Snapshot precision results and ground-truth annotation
// ABOUTME: Colors nodes by agreement between actual and proposed truth

package query

import (
	"errors"
	"fmt"

	"github.com/prateek/heapsnap/graph"
)

// ErrTrueNegative means an object is actually true but not proposed true.
// Proposed truth over-approximates actual truth, so this is a bug in the
// property or the abstraction.
var ErrTrueNegative = errors.New("actually true object not proposed true")

// SnapshotResult holds the ground truth of one snapshot as two object sets.
type SnapshotResult struct {
	ActualTrue   map[graph.ObjID]bool
	ProposedTrue map[graph.ObjID]bool
}

// NewSnapshotResult creates an empty result.
func NewSnapshotResult() *SnapshotResult {
	return &SnapshotResult{
		ActualTrue:   make(map[graph.ObjID]bool),
		ProposedTrue: make(map[graph.ObjID]bool),
	}
}

func (r *SnapshotResult) ActualNumTrue() int   { return len(r.ActualTrue) }
func (r *SnapshotResult) ProposedNumTrue() int { return len(r.ProposedTrue) }

// Precision is |actual| / |proposed|; ok is false when nothing is proposed.
func (r *SnapshotResult) Precision() (p float64, ok bool) {
	if len(r.ProposedTrue) == 0 {
		return 0, false
	}
	return float64(len(r.ActualTrue)) / float64(len(r.ProposedTrue)), true
}

// Color is a node fill color in graph exports.
type Color string

const (
	Green Color = "#00ff00" // actually and proposed true
	Red   Color = "#ff0000" // false positive
	White Color = "#ffffff" // neither
)

// Color returns the annotation color for o.
func (r *SnapshotResult) Color(o graph.ObjID) (Color, error) {
	actual, proposed := r.ActualTrue[o], r.ProposedTrue[o]
	switch {
	case actual && proposed:
		return Green, nil
	case proposed:
		return Red, nil
	case !actual:
		return White, nil
	}
	return "", fmt.Errorf("object %s: %w", o, ErrTrueNegative)
}

// Annotate colors every object in ids. It stops at the first inconsistency.
func Annotate(r *SnapshotResult, ids []graph.ObjID) (map[graph.ObjID]Color, error) {
	colors := make(map[graph.ObjID]Color, len(ids))
	for _, o := range ids {
		c, err := r.Color(o)
		if err != nil {
			return nil, err
		}
		colors[o] = c
	}
	return colors, nil
}
