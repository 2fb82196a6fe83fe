package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentnet/types"
)

// graphShape captures the structural state of a graph for before/after
// comparison around rejected mutations.
func graphShape(g *TaskGraph) map[string][]string {
	shape := make(map[string][]string)
	for _, task := range g.Tasks() {
		shape[task.TaskID] = append([]string(nil), task.Dependencies...)
	}
	return shape
}

// For any graph built from valid insertions, every edge points at an
// existing task and the graph stays acyclic: a topological order always
// exists.
func TestProperty_TaskGraph_InsertionsKeepGraphAcyclic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := NewTaskGraph("c1")
		var ids []string

		numTasks := rapid.IntRange(1, 20).Draw(rt, "numTasks")
		for i := 0; i < numTasks; i++ {
			var deps []string
			if len(ids) > 0 {
				numDeps := rapid.IntRange(0, len(ids)).Draw(rt, "numDeps")
				perm := rapid.Permutation(ids).Draw(rt, "deps")
				deps = perm[:numDeps]
			}
			task, err := g.AddTask(TaskSpec{TaskType: "work", Dependencies: deps})
			require.NoError(rt, err, "inserting a fresh task with existing deps never fails")
			ids = append(ids, task.TaskID)
		}

		// Kahn's algorithm must consume every node.
		tasks := g.Tasks()
		indegree := make(map[string]int, len(tasks))
		dependents := make(map[string][]string)
		for _, task := range tasks {
			indegree[task.TaskID] = len(task.Dependencies)
			for _, dep := range task.Dependencies {
				dependents[dep] = append(dependents[dep], task.TaskID)
			}
		}
		var queue []string
		for id, deg := range indegree {
			if deg == 0 {
				queue = append(queue, id)
			}
		}
		seen := 0
		for len(queue) > 0 {
			id := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			seen++
			for _, next := range dependents[id] {
				indegree[next]--
				if indegree[next] == 0 {
					queue = append(queue, next)
				}
			}
		}
		assert.Equal(rt, len(tasks), seen, "graph must admit a topological order")
	})
}

// A rejected AddDependency (cycle) leaves the graph byte-for-byte
// unchanged, and an accepted one never breaks acyclicity.
func TestProperty_TaskGraph_RejectedCycleLeavesGraphUnchanged(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := NewTaskGraph("c1")
		var ids []string

		// Build a random chainable base.
		numTasks := rapid.IntRange(2, 12).Draw(rt, "numTasks")
		for i := 0; i < numTasks; i++ {
			var deps []string
			if len(ids) > 0 && rapid.Bool().Draw(rt, "chain") {
				deps = []string{ids[rapid.IntRange(0, len(ids)-1).Draw(rt, "depIdx")]}
			}
			task, err := g.AddTask(TaskSpec{TaskType: "work", Dependencies: deps})
			require.NoError(rt, err)
			ids = append(ids, task.TaskID)
		}

		// Try a batch of random extra edges.
		numEdges := rapid.IntRange(1, 15).Draw(rt, "numEdges")
		for i := 0; i < numEdges; i++ {
			from := ids[rapid.IntRange(0, len(ids)-1).Draw(rt, "from")]
			to := ids[rapid.IntRange(0, len(ids)-1).Draw(rt, "to")]

			before := graphShape(g)
			err := g.AddDependency(from, to)
			if err != nil {
				assert.Equal(rt, types.ErrCycle, types.GetErrorCode(err))
				assert.Equal(rt, before, graphShape(g), "rejected edge must not mutate the graph")
			}
		}

		// Whatever was accepted, the graph still has a topological order:
		// walking dependencies from any node must terminate.
		tasks := g.Tasks()
		deps := make(map[string][]string, len(tasks))
		for _, task := range tasks {
			deps[task.TaskID] = task.Dependencies
		}
		var visit func(id string, path map[string]bool) bool
		visit = func(id string, path map[string]bool) bool {
			if path[id] {
				return false
			}
			path[id] = true
			defer delete(path, id)
			for _, dep := range deps[id] {
				if !visit(dep, path) {
					return false
				}
			}
			return true
		}
		for _, task := range tasks {
			assert.True(rt, visit(task.TaskID, map[string]bool{}), "dependency walk must not loop")
		}
	})
}
