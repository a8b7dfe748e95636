package sched

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tanukai/framepipe/internal/config"
)

// ResolveDeps computes, for each run, the runs whose classification stage it
// must wait on.
//
// Run i waits on run j (i != j) when:
//  1. both use the same reference directory, and
//  2. j is a reference contributor (booru pipeline adding images), and
//  3. i is not itself a reference contributor.
//
// Contributors never wait on peer contributors; they write the reference
// images everyone else classifies against. Only runs with at least one
// provider appear as keys. Provider lists are sorted by index so the result
// is deterministic for a given batch.
//
// The computation is pure: same batch, same edges.
func ResolveDeps(runs []config.Run) map[int][]int {
	deps := make(map[int][]int)
	for i := range runs {
		r := &runs[i]
		if r.IsRefContributor() || r.RefDir == "" {
			continue
		}
		var providers []int
		for j := range runs {
			if j == i {
				continue
			}
			p := &runs[j]
			// A contributor whose stage range skips classification cannot
			// produce new reference data in this batch, so no edge.
			if p.RefDir == r.RefDir && p.IsRefContributor() &&
				p.StartStage <= config.SyncStage && config.SyncStage <= p.EndStage {
				providers = append(providers, j)
			}
		}
		if len(providers) > 0 {
			sort.Ints(providers)
			deps[i] = providers
		}
	}
	return deps
}

// CheckCycles rejects dependency graphs containing cycles. A cyclic batch
// would deadlock every involved runner at the classification stage, so it is
// refused before any runner starts.
//
// With the current resolver rule cycles cannot form (contributors are exempt
// from depending), but the scheduler validates the graph it is given rather
// than assuming how it was built. Uses Tarjan's strongly connected
// components algorithm.
func CheckCycles(deps map[int][]int) error {
	var (
		index   = 0
		stack   []int
		indices = make(map[int]int)
		lowlink = make(map[int]int)
		onStack = make(map[int]bool)
		cycles  [][]int
	)

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || hasSelfLoop(scc[0], deps) {
				sort.Ints(scc)
				cycles = append(cycles, scc)
			}
		}
	}

	for node := range deps {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	if len(cycles) == 0 {
		return nil
	}
	return &BatchError{
		Code:    ErrCodeCyclicDeps,
		Message: fmt.Sprintf("cyclic stage-%d dependencies: %s", config.SyncStage, formatCycles(cycles)),
	}
}

func hasSelfLoop(node int, deps map[int][]int) bool {
	for _, n := range deps[node] {
		if n == node {
			return true
		}
	}
	return false
}

func formatCycles(cycles [][]int) string {
	parts := make([]string, len(cycles))
	for i, scc := range cycles {
		nums := make([]string, len(scc))
		for j, n := range scc {
			nums[j] = fmt.Sprintf("%d", n)
		}
		parts[i] = "{" + strings.Join(nums, ", ") + "}"
	}
	return strings.Join(parts, ", ")
}
