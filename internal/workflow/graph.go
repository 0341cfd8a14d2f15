// Package workflow turns a step DAG into scheduled agent runs inside one
// worktree. Validation happens up front; execution is a dispatch loop that
// keeps at most MaxParallel steps in flight and propagates failure to
// everything downstream.
package workflow

import (
	"errors"
	"fmt"

	"github.com/MaciWP/treeflow/pkg/models"
)

// ErrDependencyCycle is returned when the step graph cannot be topologically
// ordered. Workflows with cycles are rejected before any step runs.
var ErrDependencyCycle = errors.New("workflow dependencies form a cycle")

// graph is the validated dependency structure of one workflow, indexed by
// step position in the spec.
type graph struct {
	steps      []models.StepSpec
	index      map[string]int
	dependents [][]int // edges step -> steps that wait on it
	indegree   []int   // unmet dependency count per step
}

// buildGraph validates step IDs and dependencies and rejects cyclic graphs.
func buildGraph(steps []models.StepSpec) (*graph, error) {
	if len(steps) == 0 {
		return nil, errors.New("workflow has no steps")
	}
	g := &graph{
		steps:      steps,
		index:      make(map[string]int, len(steps)),
		dependents: make([][]int, len(steps)),
		indegree:   make([]int, len(steps)),
	}
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("step %d has no id", i)
		}
		if _, dup := g.index[s.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		g.index[s.ID] = i
	}
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if j == i {
				return nil, fmt.Errorf("%w: step %q depends on itself", ErrDependencyCycle, s.ID)
			}
			g.dependents[j] = append(g.dependents[j], i)
			g.indegree[i]++
		}
	}

	// Kahn's algorithm on a scratch copy; anything left unvisited sits on a cycle.
	indeg := make([]int, len(g.indegree))
	copy(indeg, g.indegree)
	queue := make([]int, 0, len(steps))
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	if visited != len(steps) {
		return nil, ErrDependencyCycle
	}
	return g, nil
}

// roots returns the steps with no dependencies, in spec order.
func (g *graph) roots() []int {
	var out []int
	for i, d := range g.indegree {
		if d == 0 {
			out = append(out, i)
		}
	}
	return out
}

// descendants returns every step transitively downstream of idx.
func (g *graph) descendants(idx int) []int {
	seen := make(map[int]bool)
	var out []int
	stack := append([]int(nil), g.dependents[idx]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, g.dependents[n]...)
	}
	return out
}
