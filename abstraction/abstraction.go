// ABOUTME: Abstraction strategy contract, value index and strategy factory
// ABOUTME: An abstraction maps each concrete object to an abstract value

// Package abstraction implements heap abstractions: functions from concrete
// objects to abstract values. Every strategy keeps a forward map (object to
// value) and its exact inverse (value to objects); the number of distinct
// values is the abstraction's complexity.
//
// # Update discipline
//
// Most strategies are incremental: the graph notifies them of every node and
// edge mutation and their values are always current. The path-pattern
// reachability strategy only recomputes inside EnsureComputed; until then
// it reports the values of its last computation, and nothing for objects
// created since.
//
// # Lifecycle
//
//  1. Build with Parse or one of the constructors
//  2. Call Init with the graph the strategy observes
//  3. Forward graph notifications (NodeCreated, EdgeCreated, ...)
//  4. Call EnsureComputed, then read Value, Values and Complexity
package abstraction

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/graph"
)

// Value is an abstract value. Dynamic values are always comparable
// (graph.ObjID, int64 or string).
type Value any

// ErrUnknownKind is returned by Parse for an unrecognized abstraction name.
var ErrUnknownKind = errors.New("unknown abstraction")

// Env is what a strategy sees of the engine.
type Env struct {
	// Heap is the concrete graph being abstracted
	Heap graph.View

	// OnChange, if set, is called whenever an object's value changes,
	// including the first value of a new object
	OnChange func(o graph.ObjID, v Value)
}

// Strategy is a heap abstraction.
type Strategy interface {
	// Init binds the strategy to its environment. Must be called first.
	Init(env Env)

	// NodeCreated is called once per object; ctx is the creating thread's
	// call-site stack and may be nil
	NodeCreated(ctx *callctx.Stack, o graph.ObjID)

	// SiteChanged is called when an object's allocation site became known
	// (or changed) after its node was created
	SiteChanged(ctx *callctx.Stack, o graph.ObjID, old graph.SiteID)

	// NodeDeleted removes an object
	NodeDeleted(o graph.ObjID)

	// EdgeCreated is called after b.f = o was added to the graph
	EdgeCreated(b graph.ObjID, f graph.FieldID, o graph.ObjID)

	// EdgeDeleted is called after b.f = o was removed from the graph
	EdgeDeleted(b graph.ObjID, f graph.FieldID, o graph.ObjID)

	// EnsureComputed brings values up to date
	EnsureComputed()

	// Value returns the abstract value of o, nil if it has none
	Value(o graph.ObjID) Value

	// Values returns the distinct abstract values in a canonical order
	Values() []Value

	// Members returns the objects holding v, in ascending id order
	Members(v Value) []graph.ObjID

	// Complexity returns the number of distinct abstract values
	Complexity() int

	String() string
}

// index keeps the forward map and its inverse in lock step.
type index struct {
	values   map[graph.ObjID]Value
	members  map[Value]map[graph.ObjID]struct{}
	onChange func(graph.ObjID, Value)
}

func newIndex() index {
	return index{
		values:  make(map[graph.ObjID]Value),
		members: make(map[Value]map[graph.ObjID]struct{}),
	}
}

func (ix *index) set(o graph.ObjID, v Value) {
	if old, ok := ix.values[o]; ok {
		if old == v {
			return
		}
		ix.unlink(o, old)
	}
	ix.values[o] = v
	m, ok := ix.members[v]
	if !ok {
		m = make(map[graph.ObjID]struct{})
		ix.members[v] = m
	}
	m[o] = struct{}{}
	if ix.onChange != nil {
		ix.onChange(o, v)
	}
}

func (ix *index) remove(o graph.ObjID) {
	old, ok := ix.values[o]
	if !ok {
		return
	}
	delete(ix.values, o)
	ix.unlink(o, old)
}

func (ix *index) unlink(o graph.ObjID, v Value) {
	m := ix.members[v]
	delete(m, o)
	if len(m) == 0 {
		delete(ix.members, v)
	}
}

// Value returns the abstract value of o.
func (ix *index) Value(o graph.ObjID) Value {
	return ix.values[o]
}

// Values returns the distinct values sorted by their printed form.
func (ix *index) Values() []Value {
	vals := make([]Value, 0, len(ix.members))
	for v := range ix.members {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		return fmt.Sprint(vals[i]) < fmt.Sprint(vals[j])
	})
	return vals
}

// Complexity returns the number of distinct values.
func (ix *index) Complexity() int {
	return len(ix.members)
}

// Members returns the objects currently holding v, in ascending id order.
func (ix *index) Members(v Value) []graph.ObjID {
	m := ix.members[v]
	out := make([]graph.ObjID, 0, len(m))
	for o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReachFlags select the path-pattern variant of the reachability strategy.
// At most one should be set; with none set the pattern is the source alone.
type ReachFlags struct {
	PointedTo           bool `yaml:"pointedTo"`
	MatchRepeatedFields bool `yaml:"matchRepeatedFields"`
	MatchFirstField     bool `yaml:"matchFirstField"`
	MatchLastField      bool `yaml:"matchLastField"`
}

// Params are the tunables accepted by Parse.
type Params struct {
	KCFA         int
	RecencyOrder int
	RandSize     int
	RandSeed     int64
	Reach        ReachFlags
}

// Kinds lists the names accepted by Parse.
var Kinds = []string{
	"none",
	"alloc",
	"recency",
	"random",
	"alloc-reachability",
	"alloc-x-field-reachability",
	"reachability",
}

// Parse builds the strategy named kind.
func Parse(kind string, p Params) (Strategy, error) {
	switch kind {
	case "none":
		return NewIdentity(), nil
	case "alloc":
		return NewAlloc(p.KCFA), nil
	case "recency":
		return NewRecency(NewAlloc(p.KCFA), p.RecencyOrder), nil
	case "random":
		return NewRandom(p.RandSize, p.RandSeed), nil
	case "alloc-reachability":
		return NewReachableFromAlloc(), nil
	case "alloc-x-field-reachability":
		return NewReachableFromAllocPlusField(), nil
	case "reachability":
		return NewPathReach(p.Reach), nil
	}
	return nil, fmt.Errorf("%w: %q (possibilities: %v)", ErrUnknownKind, kind, Kinds)
}

// forwarder adapts a strategy to graph notifications, looking up the
// creating thread's context in a tracker.
type forwarder struct {
	s       Strategy
	tracker *callctx.Tracker
}

// Forward returns a graph listener that drives s. tracker may be nil, in
// which case strategies see no call-site context.
func Forward(s Strategy, tracker *callctx.Tracker) graph.Listener {
	return &forwarder{s: s, tracker: tracker}
}

func (f *forwarder) stack(t graph.ThreadID) *callctx.Stack {
	if f.tracker == nil {
		return nil
	}
	return f.tracker.Stack(t)
}

func (f *forwarder) NodeCreated(t graph.ThreadID, o graph.ObjID) {
	f.s.NodeCreated(f.stack(t), o)
}

func (f *forwarder) SiteChanged(t graph.ThreadID, o graph.ObjID, old graph.SiteID) {
	f.s.SiteChanged(f.stack(t), o, old)
}

func (f *forwarder) EdgeCreated(b graph.ObjID, fld graph.FieldID, o graph.ObjID) {
	f.s.EdgeCreated(b, fld, o)
}

func (f *forwarder) EdgeDeleted(b graph.ObjID, fld graph.FieldID, o graph.ObjID) {
	f.s.EdgeDeleted(b, fld, o)
}
