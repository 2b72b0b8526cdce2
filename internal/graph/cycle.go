package graph

// findCycle runs a depth-first traversal in lexical order and returns the
// first cycle found as a path whose first and last entries are the same
// package, or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // finished
	)

	color := make(map[string]int, len(g.names))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range g.edges[name] {
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, name := range g.names {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}
