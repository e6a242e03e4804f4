// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to their referrers for witness-path search

package graph

// ReverseEdges maps each object to the objects that point to it
type ReverseEdges map[ObjID][]ObjID

// BuildReverseEdges creates a map of reverse edges
func BuildReverseEdges(v View) ReverseEdges {
	reverse := make(ReverseEdges)

	v.ForEachNode(func(n *Node) {
		for _, e := range n.Edges {
			reverse[e.Target] = append(reverse[e.Target], n.ID)
		}
	})

	return reverse
}
