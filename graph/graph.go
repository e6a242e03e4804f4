// ABOUTME: Concrete heap graph with lazily created nodes and strong or weak updates
// ABOUTME: Notifies a Listener of every node and edge mutation

package graph

// View is read-only access to a heap graph.
type View interface {
	// HasNode reports whether o is tracked
	HasNode(o ObjID) bool

	// Site returns the allocation site of o, or UnknownSite
	Site(o ObjID) SiteID

	// Edges returns the outgoing edges of o. The slice must not be modified.
	Edges(o ObjID) []Edge

	// NumNodes returns the number of tracked objects
	NumNodes() int

	// ForEachNode visits nodes in creation order
	ForEachNode(fn func(*Node))
}

// Listener is notified synchronously of graph mutations.
type Listener interface {
	// NodeCreated is called once per object, right after its node exists
	NodeCreated(t ThreadID, o ObjID)

	// SiteChanged is called when an existing node learns a different allocation site
	SiteChanged(t ThreadID, o ObjID, old SiteID)

	// EdgeCreated is called after b.f = o was recorded
	EdgeCreated(b ObjID, f FieldID, o ObjID)

	// EdgeDeleted is called after a strong update removed b.f = o
	EdgeDeleted(b ObjID, f FieldID, o ObjID)
}

type nopListener struct{}

func (nopListener) NodeCreated(ThreadID, ObjID)         {}
func (nopListener) SiteChanged(ThreadID, ObjID, SiteID) {}
func (nopListener) EdgeCreated(ObjID, FieldID, ObjID)   {}
func (nopListener) EdgeDeleted(ObjID, FieldID, ObjID)   {}

// Heap is the concrete object graph. It is not safe for concurrent use:
// the engine owns it from a single goroutine.
type Heap struct {
	strong   bool
	listener Listener
	nodes    map[ObjID]*Node
	order    []ObjID
	numEdges int
}

// New creates an empty heap. With strong set, writing a field replaces its
// previous edge; otherwise edges accumulate.
func New(strong bool, l Listener) *Heap {
	if l == nil {
		l = nopListener{}
	}
	return &Heap{
		strong:   strong,
		listener: l,
		nodes:    make(map[ObjID]*Node),
	}
}

// SetListener replaces the mutation listener.
func (h *Heap) SetListener(l Listener) {
	if l == nil {
		l = nopListener{}
	}
	h.listener = l
}

// StrongUpdates reports the update discipline.
func (h *Heap) StrongUpdates() bool {
	return h.strong
}

// EnsureNode creates the node for o if needed and reports whether it did.
// Null and negative ids are ignored.
func (h *Heap) EnsureNode(t ThreadID, o ObjID) bool {
	return h.ensure(t, o, UnknownSite)
}

// Allocate records the allocation site of o, creating its node if needed.
// If the node already existed with another site the listener is told.
func (h *Heap) Allocate(t ThreadID, o ObjID, site SiteID) {
	if o <= Null {
		return
	}
	n, ok := h.nodes[o]
	if !ok {
		h.ensure(t, o, site)
		return
	}
	if n.Site == site {
		return
	}
	old := n.Site
	n.Site = site
	h.listener.SiteChanged(t, o, old)
}

func (h *Heap) ensure(t ThreadID, o ObjID, site SiteID) bool {
	if o <= Null {
		return false
	}
	if _, ok := h.nodes[o]; ok {
		return false
	}
	h.nodes[o] = &Node{ID: o, Site: site}
	h.order = append(h.order, o)
	h.listener.NodeCreated(t, o)
	return true
}

// SetEdge records b.f = o. Both endpoints are created if missing. Under
// strong updates an existing edge for (b, f) is removed first; a null o
// only clears the slot.
func (h *Heap) SetEdge(t ThreadID, b ObjID, f FieldID, o ObjID) {
	h.EnsureNode(t, b)
	h.EnsureNode(t, o)

	n := h.nodes[b]
	if n == nil {
		return
	}

	if h.strong {
		for i, e := range n.Edges {
			if e.Field != f {
				continue
			}
			n.Edges = append(n.Edges[:i], n.Edges[i+1:]...)
			h.numEdges--
			h.listener.EdgeDeleted(b, f, e.Target)
			break
		}
	}

	if o > Null {
		n.Edges = append(n.Edges, Edge{Field: f, Target: o})
		h.numEdges++
		h.listener.EdgeCreated(b, f, o)
	}
}

// RemoveFinalized is deliberately a no-op: objects stay in the graph after
// finalization so reachability results are not changed by collection timing.
func (h *Heap) RemoveFinalized(o ObjID) {}

// HasNode reports whether o is tracked.
func (h *Heap) HasNode(o ObjID) bool {
	_, ok := h.nodes[o]
	return ok
}

// Node returns the node for o or nil.
func (h *Heap) Node(o ObjID) *Node {
	return h.nodes[o]
}

// Site returns the allocation site of o.
func (h *Heap) Site(o ObjID) SiteID {
	if n, ok := h.nodes[o]; ok {
		return n.Site
	}
	return UnknownSite
}

// HasSite reports whether o is tracked with a known allocation site.
func (h *Heap) HasSite(o ObjID) bool {
	n, ok := h.nodes[o]
	return ok && n.Site != UnknownSite
}

// Edges returns the outgoing edges of o.
func (h *Heap) Edges(o ObjID) []Edge {
	if n, ok := h.nodes[o]; ok {
		return n.Edges
	}
	return nil
}

// NumNodes returns the number of tracked objects.
func (h *Heap) NumNodes() int {
	return len(h.nodes)
}

// NumEdges returns the number of edges currently in the graph.
func (h *Heap) NumEdges() int {
	return h.numEdges
}

// ForEachNode visits nodes in creation order.
func (h *Heap) ForEachNode(fn func(*Node)) {
	for _, o := range h.order {
		fn(h.nodes[o])
	}
}

// IDs returns all object ids in creation order.
func (h *Heap) IDs() []ObjID {
	ids := make([]ObjID, len(h.order))
	copy(ids, h.order)
	return ids
}
