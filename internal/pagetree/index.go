package pagetree

// index resolves nodes by path and id. Both maps keep the first node seen in
// a pre-order walk, so duplicate paths resolve in document order.
type index struct {
	byPath map[string]*Node
	byID   map[string]*Node
	parent map[*Node]*Node
}

func buildIndex(doc *Document) *index {
	idx := &index{
		byPath: make(map[string]*Node),
		byID:   make(map[string]*Node),
		parent: make(map[*Node]*Node),
	}
	var walk func(nodes []*Node, parent *Node)
	walk = func(nodes []*Node, parent *Node) {
		for _, node := range nodes {
			if node == nil {
				continue
			}
			idx.parent[node] = parent
			if _, ok := idx.byPath[node.Path]; !ok {
				idx.byPath[node.Path] = node
			}
			if node.ID != "" {
				if _, ok := idx.byID[node.ID]; !ok {
					idx.byID[node.ID] = node
				}
			}
			walk(node.Children, node)
		}
	}
	walk(doc.Pages, nil)
	return idx
}

// walk visits every node in pre-order.
func walk(nodes []*Node, fn func(*Node)) {
	for _, node := range nodes {
		if node == nil {
			continue
		}
		fn(node)
		walk(node.Children, fn)
	}
}

// subtreePaths lists the paths of node and all of its descendants.
func subtreePaths(node *Node) []string {
	paths := []string{node.Path}
	walk(node.Children, func(n *Node) { paths = append(paths, n.Path) })
	return paths
}
