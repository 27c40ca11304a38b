package resource

import (
	"fmt"
	"sort"
)

// Graph is the declared dependency graph over a set of descriptors. Forward
// reconciliation walks stages in order; teardown walks them in reverse. The
// graph replaces ordering that would otherwise live implicitly in call order.
type Graph struct {
	byName map[string]Descriptor
	order  []string // insertion order, for stable output
}

// NewGraph builds a graph from descriptors, validating that names are unique
// and every declared dependency resolves to a known resource.
func NewGraph(descriptors []Descriptor) (*Graph, error) {
	g := &Graph{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("descriptor of kind %s has no name", d.Kind)
		}
		if _, dup := g.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate resource name %q", d.Name)
		}
		g.byName[d.Name] = d
		g.order = append(g.order, d.Name)
	}
	for _, d := range descriptors {
		for _, need := range d.Needs {
			if _, ok := g.byName[need]; !ok {
				return nil, fmt.Errorf("resource %q needs unknown resource %q", d.Name, need)
			}
		}
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// Get returns the descriptor with the given name.
func (g *Graph) Get(name string) (Descriptor, bool) {
	d, ok := g.byName[name]
	return d, ok
}

// Descriptors returns all descriptors in insertion order.
func (g *Graph) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.byName[name])
	}
	return out
}

// Stages computes the topological stages of the graph. Every resource in
// stage N depends only on resources in stages < N, so resources within one
// stage are mutually independent and a strict barrier between stages is a
// safe execution order in both directions.
func (g *Graph) Stages() [][]Descriptor {
	depth := make(map[string]int, len(g.byName))
	var resolve func(name string) int
	resolve = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		max := 0
		for _, need := range g.byName[name].Needs {
			if n := resolve(need) + 1; n > max {
				max = n
			}
		}
		depth[name] = max
		return max
	}

	maxDepth := 0
	for _, name := range g.order {
		if d := resolve(name); d > maxDepth {
			maxDepth = d
		}
	}

	stages := make([][]Descriptor, maxDepth+1)
	for _, name := range g.order {
		d := depth[name]
		stages[d] = append(stages[d], g.byName[name])
	}
	for _, stage := range stages {
		sort.Slice(stage, func(i, j int) bool { return stage[i].Name < stage[j].Name })
	}
	return stages
}

// ReverseStages returns the stages in teardown order: application-layer
// objects first, identity resources last.
func (g *Graph) ReverseStages() [][]Descriptor {
	stages := g.Stages()
	for i, j := 0, len(stages)-1; i < j; i, j = i+1, j-1 {
		stages[i], stages[j] = stages[j], stages[i]
	}
	return stages
}

// Dependents returns the names of resources that declare a direct dependency
// on the given resource.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for _, n := range g.order {
		for _, need := range g.byName[n].Needs {
			if need == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func (g *Graph) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	mark := make(map[string]int, len(g.byName))
	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case gray:
			return fmt.Errorf("dependency cycle through resource %q", name)
		case black:
			return nil
		}
		mark[name] = gray
		for _, need := range g.byName[name].Needs {
			if err := visit(need); err != nil {
				return err
			}
		}
		mark[name] = black
		return nil
	}
	for _, name := range g.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
