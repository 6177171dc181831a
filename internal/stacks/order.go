package stacks

import (
	"fmt"
	"slices"
)

// Order expands id and sorts the result so every stack follows the stacks it
// depends on. With reverse the sequence is in teardown order.
func (r *Registry) Order(id ID, reverse bool) ([]ID, error) {
	ids := Expand(id)
	for _, sid := range ids {
		if _, ok := r.byID[sid]; !ok {
			return nil, fmt.Errorf("stack not registered: %s", sid)
		}
	}

	order, err := r.sort(ids)
	if err != nil {
		return nil, err
	}
	if reverse {
		slices.Reverse(order)
	}
	return order, nil
}

// sort runs Kahn's algorithm over the subset ids. Dependencies outside the
// subset are ignored; ready stacks are taken in registration order.
func (r *Registry) sort(ids []ID) ([]ID, error) {
	inSet := make(map[ID]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	inDegree := make(map[ID]int, len(ids))
	dependents := make(map[ID][]ID, len(ids))
	for _, id := range ids {
		inDegree[id] += 0
		for _, dep := range r.descriptors[r.byID[id]].DependsOn {
			if !inSet[dep] || dep == id {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []ID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]ID, 0, len(inDegree))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b ID) int { return r.byID[a] - r.byID[b] })
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, next)

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(inDegree) {
		return nil, fmt.Errorf("dependency cycle detected between stacks")
	}
	return sorted, nil
}
