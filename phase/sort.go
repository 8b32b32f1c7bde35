package phase

import (
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
)

// Sort returns interceptors ordered by phase and, within a phase, by their
// before/after constraints with ties broken by insertion order. Constraints
// naming interceptors that are absent or in another phase are ignored. A
// constraint cycle never fails the sort: the remaining members are emitted in
// insertion order. An interceptor whose phase is not in phases is rejected.
func Sort(phases []Phase, interceptors []message.Interceptor) ([]message.Interceptor, error) {
	index := phaseIndex(phases)
	for _, in := range interceptors {
		if _, ok := index[in.Phase()]; !ok {
			return nil, &errspkg.UnknownPhaseError{Phase: in.Phase(), InterceptorID: in.ID()}
		}
	}
	return sortKnown(index, len(phases), interceptors), nil
}

func phaseIndex(phases []Phase) map[string]int {
	index := make(map[string]int, len(phases))
	for i, p := range phases {
		index[p.Name] = i
	}
	return index
}

func sortKnown(index map[string]int, buckets int, interceptors []message.Interceptor) []message.Interceptor {
	byPhase := make([][]message.Interceptor, buckets)
	for _, in := range interceptors {
		i := index[in.Phase()]
		byPhase[i] = append(byPhase[i], in)
	}
	out := make([]message.Interceptor, 0, len(interceptors))
	for _, bucket := range byPhase {
		out = append(out, sortBucket(bucket)...)
	}
	return out
}

// sortBucket is a Kahn topological sort that always emits the earliest-inserted
// ready interceptor, falling back to the earliest remaining one on a cycle.
func sortBucket(items []message.Interceptor) []message.Interceptor {
	n := len(items)
	if n < 2 {
		return items
	}

	byID := make(map[string][]int, n)
	for i, in := range items {
		if id := in.ID(); id != "" {
			byID[id] = append(byID[id], i)
		}
	}

	succ := make([][]int, n)
	indegree := make([]int, n)
	link := func(from, to int) {
		if from == to {
			return
		}
		succ[from] = append(succ[from], to)
		indegree[to]++
	}
	for i, in := range items {
		for _, id := range in.Before() {
			for _, j := range byID[id] {
				link(i, j)
			}
		}
		for _, id := range in.After() {
			for _, j := range byID[id] {
				link(j, i)
			}
		}
	}

	done := make([]bool, n)
	out := make([]message.Interceptor, 0, n)
	for len(out) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] <= 0 {
				next = i
				break
			}
		}
		if next < 0 {
			for i := 0; i < n; i++ {
				if !done[i] {
					next = i
					break
				}
			}
		}
		done[next] = true
		out = append(out, items[next])
		for _, j := range succ[next] {
			indegree[j]--
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// mustPrecede reports whether a has to run before b.
func mustPrecede(a, b message.Interceptor) bool {
	return contains(a.Before(), b.ID()) || contains(b.After(), a.ID())
}
