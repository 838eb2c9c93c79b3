package graph

// ReverseTopologicalOrder returns node names ordered so downstream-most
// nodes come first: if A connects to B, B precedes A. The engine uses
// this for shutdown fan-out, stopping consumers before their
// producers. Cycles are tolerated: the nodes on a cycle appear after
// every node that is strictly downstream of them, in declaration
// order among themselves.
func (d *Definition) ReverseTopologicalOrder() []string {
	// adjacency: source -> local destinations (remote nodes are not
	// ours to stop).
	adj := make(map[string][]string, len(d.Nodes))
	for _, node := range d.Nodes {
		adj[node.Name] = nil
	}
	for _, conn := range d.Connections {
		for _, dest := range conn.Dest {
			if dest.App != "" {
				continue
			}
			if _, ok := adj[dest.Extension]; !ok {
				continue
			}
			adj[conn.Extension] = append(adj[conn.Extension], dest.Extension)
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(d.Nodes))
	var order []string

	// Post-order DFS: a node is emitted after all its destinations, so
	// the resulting order is destinations-first.
	var visit func(name string)
	visit = func(name string) {
		if state[name] != unvisited {
			return
		}
		state[name] = visiting
		for _, next := range adj[name] {
			if state[next] == unvisited {
				visit(next)
			}
		}
		state[name] = done
		order = append(order, name)
	}

	for _, node := range d.Nodes {
		visit(node.Name)
	}

	// Post-order emits leaves (downstream) first already.
	return order
}
