// ABOUTME: BFS reachability and witness paths over the concrete heap
// ABOUTME: Used by ground-truth properties and diagnostics

package graph

// Path is a sequence of object IDs from a target back to a root
type Path struct {
	IDs []ObjID
}

// Reachable returns every object reachable from roots, roots included.
func Reachable(v View, roots []ObjID) map[ObjID]bool {
	seen := make(map[ObjID]bool, len(roots))
	queue := make([]ObjID, 0, len(roots))
	for _, r := range roots {
		if !v.HasNode(r) || seen[r] {
			continue
		}
		seen[r] = true
		queue = append(queue, r)
	}

	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		for _, e := range v.Edges(o) {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			queue = append(queue, e.Target)
		}
	}
	return seen
}

// PathsToRoots finds up to maxPaths paths from an object back to any of
// roots using BFS over reverse edges
func PathsToRoots(v View, from ObjID, roots []ObjID, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}

	reverse := BuildReverseEdges(v)

	rootSet := make(map[ObjID]bool, len(roots))
	for _, id := range roots {
		rootSet[id] = true
	}

	if rootSet[from] {
		return []Path{{IDs: []ObjID{from}}}
	}

	type searchNode struct {
		id   ObjID
		path []ObjID
	}

	var result []Path
	queue := []searchNode{{id: from, path: []ObjID{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[node.id] {
			// Avoid cycles within the current path
			inPath := false
			for _, id := range node.path {
				if id == referrer {
					inPath = true
					break
				}
			}
			if inPath {
				continue
			}

			newPath := make([]ObjID, len(node.path)+1)
			copy(newPath, node.path)
			newPath[len(node.path)] = referrer

			if rootSet[referrer] {
				result = append(result, Path{IDs: newPath})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{id: referrer, path: newPath})
		}
	}

	return result
}
