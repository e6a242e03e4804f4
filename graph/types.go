// ABOUTME: Core data types for the concrete heap graph
// ABOUTME: Defines object, site, field and thread identifiers plus nodes and edges

package graph

import "fmt"

// ObjID is the identifier the instrumentation assigns to a concrete object.
type ObjID int64

// SiteID identifies an allocation site.
type SiteID int64

// FieldID identifies an instance field, a static field or an array slot.
type FieldID int64

// ThreadID identifies a thread of the analyzed program.
type ThreadID int64

const (
	// Null is the null object. It is never inserted into the graph.
	Null ObjID = 0

	// NoObject marks an access without a target object (primitive accesses).
	NoObject ObjID = -1

	// UnknownSite is recorded for objects seen before (or without) their allocation.
	UnknownSite SiteID = -1

	// NoField marks the absence of a field.
	NoField FieldID = -1

	// ArrayField is the offset at which array slots start in the field domain.
	// Slot i of any array is encoded as ArrayField+i.
	ArrayField FieldID = 100000000

	// NoThread is used when an event carries no thread.
	NoThread ThreadID = -1
)

// ArraySlot returns the field id of array slot i.
func ArraySlot(i int64) FieldID {
	return ArrayField + FieldID(i)
}

// IsArraySlot reports whether f encodes an array slot.
func (f FieldID) IsArraySlot() bool {
	return f >= ArrayField
}

// Slot returns the array index encoded by f. Only meaningful if IsArraySlot.
func (f FieldID) Slot() int64 {
	return int64(f - ArrayField)
}

func (o ObjID) String() string {
	switch {
	case o < 0:
		return "-"
	case o == Null:
		return "null"
	}
	return fmt.Sprintf("O%d", int64(o))
}

func (t ThreadID) String() string {
	if t < 0 {
		return "-"
	}
	return fmt.Sprintf("T%d", int64(t))
}

// Edge is a pointer from its owning node through Field to Target.
type Edge struct {
	Field  FieldID
	Target ObjID
}

// Node is a tracked object with its allocation site and outgoing edges.
type Node struct {
	ID    ObjID
	Site  SiteID
	Edges []Edge
}
