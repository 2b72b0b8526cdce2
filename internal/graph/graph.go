// Package graph builds the immutable dependency graph over the packages of a
// monorepo tree.
//
// A [Graph] is constructed once from a set of [Package] values and is
// read-only afterwards, so it is safe to share across goroutines. Construction
// rejects duplicate names and dependency cycles; edges pointing at packages
// outside the set are treated as external dependencies and dropped.
//
// Usage:
//
//	g, err := graph.Build([]graph.Package{
//	    {Name: "core", Path: "packages/core"},
//	    {Name: "web", Path: "packages/web", Dependencies: []string{"core"}},
//	})
//	if err != nil {
//	    return err // *errors.CycleError on a cycle
//	}
//	order := g.TopologicalOrder() // [core web]
package graph

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"

	"github.com/Iron-Ham/treebuild/internal/errors"
)

// Package is a node of the dependency graph: a directory that can be built
// or published on its own.
type Package struct {
	// Name is the unique package name.
	Name string `json:"name" yaml:"name"`

	// Path is the package directory.
	Path string `json:"path" yaml:"path"`

	// Dependencies are the names of local packages this package requires.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Version is informational, carried through to executors.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Graph is an immutable dependency graph. Edges point from a package to its
// prerequisites.
type Graph struct {
	packages   map[string]Package
	edges      map[string][]string // name -> dependencies (sorted)
	dependents map[string][]string // name -> direct dependents (sorted)
	names      []string            // sorted package names
}

// Build constructs a Graph from the given packages. Dependencies that do not
// name a package in the set are ignored. Returns a *errors.CycleError if the
// local dependencies form a cycle.
func Build(pkgs []Package) (*Graph, error) {
	packages := make(map[string]Package, len(pkgs))
	for _, p := range pkgs {
		if p.Name == "" {
			return nil, errors.NewValidationError("package name is required").WithField("name").WithValue(p.Path)
		}
		if _, dup := packages[p.Name]; dup {
			return nil, errors.NewValidationError(fmt.Sprintf("duplicate package name %q", p.Name)).WithField("name")
		}
		packages[p.Name] = p
	}

	edges := make(map[string][]string, len(packages))
	dependents := make(map[string][]string, len(packages))
	names := make([]string, 0, len(packages))
	for name, p := range packages {
		names = append(names, name)
		seen := make(map[string]bool, len(p.Dependencies))
		deps := make([]string, 0, len(p.Dependencies))
		for _, dep := range p.Dependencies {
			if _, local := packages[dep]; !local || seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
			dependents[dep] = append(dependents[dep], name)
		}
		sort.Strings(deps)
		edges[name] = deps
	}
	sort.Strings(names)
	for name := range dependents {
		sort.Strings(dependents[name])
	}

	g := &Graph{
		packages:   packages,
		edges:      edges,
		dependents: dependents,
		names:      names,
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.NewCycleError(cycle)
	}
	return g, nil
}

// Len returns the number of packages in the graph.
func (g *Graph) Len() int {
	return len(g.names)
}

// Names returns all package names in lexical order.
func (g *Graph) Names() []string {
	return slices.Clone(g.names)
}

// Has reports whether the graph contains the named package.
func (g *Graph) Has(name string) bool {
	_, ok := g.packages[name]
	return ok
}

// Package returns the package with the given name.
func (g *Graph) Package(name string) (Package, bool) {
	p, ok := g.packages[name]
	return p, ok
}

// Dependencies returns the local dependencies of the named package in
// lexical order.
func (g *Graph) Dependencies(name string) []string {
	return slices.Clone(g.edges[name])
}

// Dependents returns the packages that directly depend on name, in lexical
// order.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

// FindAllDependents returns the transitive closure of packages that depend on
// name, directly or indirectly, in lexical order. The package itself is not
// included.
func (g *Graph) FindAllDependents(name string) []string {
	return g.FindAllDependentsOf([]string{name})
}

// FindAllDependentsOf returns the union of the transitive dependents of every
// named package, excluding the named packages themselves.
func (g *Graph) FindAllDependentsOf(names []string) []string {
	roots := make(map[string]bool, len(names))
	for _, n := range names {
		roots[n] = true
	}

	visited := make(map[string]bool)
	queue := slices.Clone(names)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			queue = append(queue, dep)
		}
	}

	out := make([]string, 0, len(visited))
	for n := range visited {
		if !roots[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// FindAllDependencies returns the transitive prerequisites of name in
// lexical order.
func (g *Graph) FindAllDependencies(name string) []string {
	visited := make(map[string]bool)
	stack := slices.Clone(g.edges[name])
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, g.edges[cur]...)
	}
	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns every package such that each package appears
// after all of its dependencies. Zero in-degree nodes are removed
// repeatedly; ties are broken lexically so the order is reproducible.
func (g *Graph) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegree[name] = len(g.edges[name])
	}

	var ready []string
	for _, name := range g.names {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		// ready is kept sorted; take the lexically smallest.
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, dep := range g.dependents[cur] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				idx, _ := slices.BinarySearch(ready, dep)
				ready = slices.Insert(ready, idx, dep)
			}
		}
	}
	return order
}

// Levels groups packages by topological depth: level 0 has no local
// dependencies, level n depends on at least one package at level n-1.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.names))
	maxDepth := 0
	for _, name := range g.TopologicalOrder() {
		d := 0
		for _, dep := range g.edges[name] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(g.names) == 0 {
		return nil
	}
	levels := make([][]string, maxDepth+1)
	for _, name := range g.names {
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	return levels
}

// Resolve maps an operator-supplied identifier to a package name. The
// identifier may be the package name or the base name of its directory.
func (g *Graph) Resolve(identifier string) (string, error) {
	if _, ok := g.packages[identifier]; ok {
		return identifier, nil
	}
	for _, name := range g.names {
		p := g.packages[name]
		if p.Path != "" && filepath.Base(filepath.Clean(p.Path)) == identifier {
			return name, nil
		}
	}
	return "", errors.NewPackageNotFoundError(identifier, g.Identifiers())
}

// Identifiers returns every accepted identifier: package names followed by
// the directory base names that differ from them.
func (g *Graph) Identifiers() []string {
	out := slices.Clone(g.names)
	for _, name := range g.names {
		p := g.packages[name]
		if p.Path == "" {
			continue
		}
		if base := filepath.Base(filepath.Clean(p.Path)); base != name && !slices.Contains(out, base) {
			out = append(out, base)
		}
	}
	return out
}
