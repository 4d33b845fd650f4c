package core

import "fmt"

// SortDependencies orders names so every name comes after the names it
// depends on. The order is deterministic: names are visited in the order
// given, dependencies in declared order. Every dependency must itself be
// in names.
func SortDependencies(names []string, deps map[string][]string) ([]string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), n)
			return &CycleError{Path: cycle}
		}

		state[n] = visiting
		path = append(path, n)
		for _, d := range deps[n] {
			if !known[d] {
				return &ConfigError{Entity: n, Msg: fmt.Sprintf("depends on %q", d), Err: ErrUnknownDependency}
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		order = append(order, n)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}
